package statestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
)

func openTemp(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.json"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestReadMissingFileYieldsEmpty(t *testing.T) {
	t.Parallel()
	s := openTemp(t)

	doc, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("expected empty document, got %v", doc)
	}
}

func TestWriteMergesAndPersists(t *testing.T) {
	t.Parallel()
	s := openTemp(t)

	if err := s.Write(Document{"a": "1", "b": float64(2)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(Document{"b": float64(3), "c": true}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// A fresh store on the same path sees only the file.
	s2, err := Open(s.Path())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	doc, err := s2.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc["a"] != "1" || doc["b"] != float64(3) || doc["c"] != true {
		t.Fatalf("unexpected document: %v", doc)
	}

	// Identical write is idempotent.
	before, _ := os.ReadFile(s.Path())
	if err := s.Write(Document{"b": float64(3)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	after, _ := os.ReadFile(s.Path())
	if string(before) != string(after) {
		t.Fatalf("idempotent write changed file:\n%s\nvs\n%s", before, after)
	}
}

func TestReadReturnsCopy(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	if err := s.Write(Document{"k": "v"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	doc, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	doc["k"] = "mutated"
	doc["extra"] = 1

	doc2, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc2["k"] != "v" {
		t.Fatalf("caller mutation leaked into store: %v", doc2)
	}
	if _, ok := doc2["extra"]; ok {
		t.Fatalf("caller insertion leaked into store: %v", doc2)
	}
}

func TestCorruptFileMovedAsideOnce(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	doc, err := s.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(doc) != 0 {
		t.Fatalf("expected empty document after corruption, got %v", doc)
	}

	backup := filepath.Join(filepath.Dir(s.Path()), "state.bak_1")
	b, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("backup not created: %v", err)
	}
	if string(b) != "{not json" {
		t.Fatalf("backup content mangled: %q", b)
	}

	// Original is gone; a second Read must not mint another backup.
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatalf("corrupt original still present")
	}
	if _, err := s.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	extra := filepath.Join(filepath.Dir(s.Path()), "state.bak_2")
	if _, err := os.Stat(extra); !os.IsNotExist(err) {
		t.Fatalf("unexpected extra backup")
	}
}

func TestBackupsAreNumbered(t *testing.T) {
	t.Parallel()
	s := openTemp(t)

	for i := 1; i <= 2; i++ {
		if err := os.WriteFile(s.Path(), []byte("oops"), 0o644); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := s.Read(); err != nil {
			t.Fatalf("Read: %v", err)
		}
	}

	dir := filepath.Dir(s.Path())
	for _, name := range []string{"state.bak_1", "state.bak_2"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing backup %s: %v", name, err)
		}
	}
}

func TestDeleteAndClear(t *testing.T) {
	t.Parallel()
	s := openTemp(t)
	if err := s.Write(Document{"a": "1", "b": "2", "c": "3"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := s.Delete("b", "nope"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	doc, _ := s.Read()
	if _, ok := doc["b"]; ok {
		t.Fatalf("b not deleted: %v", doc)
	}
	if doc["a"] != "1" || doc["c"] != "3" {
		t.Fatalf("unrelated keys touched: %v", doc)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	doc, _ = s.Read()
	if len(doc) != 0 {
		t.Fatalf("Clear left keys: %v", doc)
	}

	b, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	var onDisk map[string]any
	if err := json.Unmarshal(b, &onDisk); err != nil || len(onDisk) != 0 {
		t.Fatalf("on-disk document not empty: %s (%v)", b, err)
	}
}

func TestLockTimeout(t *testing.T) {
	t.Parallel()
	s := openTemp(t, WithLockWait(150*time.Millisecond))

	fl := flock.New(s.Path() + ".lock")
	if err := fl.Lock(); err != nil {
		t.Fatalf("competing lock failed: %v", err)
	}
	defer func() { _ = fl.Unlock() }()

	_, err := s.Read()
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if err := s.Write(Document{"k": "v"}); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestDeviceLastAlive(t *testing.T) {
	t.Parallel()
	s := openTemp(t)

	if _, ok, err := s.DeviceLastAlive("DG4202"); err != nil || ok {
		t.Fatalf("expected absent, got ok=%v err=%v", ok, err)
	}

	now := time.Now()
	if err := s.SetDeviceLastAlive("DG4202", &now); err != nil {
		t.Fatalf("SetDeviceLastAlive: %v", err)
	}
	got, ok, err := s.DeviceLastAlive("DG4202")
	if err != nil || !ok {
		t.Fatalf("expected present, got ok=%v err=%v", ok, err)
	}
	if got.Unix() != now.Unix() {
		t.Fatalf("timestamp mismatch: %v vs %v", got.Unix(), now.Unix())
	}

	// nil marks the device dead, but the key stays present in the document.
	if err := s.SetDeviceLastAlive("DG4202", nil); err != nil {
		t.Fatalf("SetDeviceLastAlive(nil): %v", err)
	}
	if _, ok, _ := s.DeviceLastAlive("DG4202"); ok {
		t.Fatalf("expected dead after nil write")
	}
	doc, _ := s.Read()
	if v, present := doc["DG4202_last_alive"]; !present || v != nil {
		t.Fatalf("expected explicit nil key, got %v (present=%v)", v, present)
	}
}
