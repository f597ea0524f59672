package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	logx "labd/pkg/logx"
)

// ErrLockTimeout is returned when the file lock cannot be acquired within
// the configured wait. Callers may retry; the document is untouched.
var ErrLockTimeout = errors.New("statestore: lock wait timed out")

const (
	defaultLockWait = 10 * time.Second
	lockRetryEvery  = 50 * time.Millisecond
)

// Document is one JSON state document. Values are JSON-compatible
// (string, float64, bool, nil, []any, map[string]any after a Read).
type Document = map[string]any

// Store binds one JSON document path to a sibling lock file.
//
// The in-memory snapshot is a cache only: Read() reconciles it against the
// file before it is trusted, never the other way around.
type Store struct {
	path     string
	lockWait time.Duration
	log      logx.Logger

	fl *flock.Flock

	mu   sync.Mutex
	snap Document
}

type Option func(*Store)

// WithLockWait overrides the bounded lock wait (default 10s).
func WithLockWait(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockWait = d
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open binds a store to path. The file is created lazily on first Write.
func Open(path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("statestore: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		path:     path,
		lockWait: defaultLockWait,
		log:      logx.Nop(),
		snap:     Document{},
	}
	for _, o := range opts {
		o(s)
	}
	s.fl = flock.New(path + ".lock")
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Read loads the document under the file lock.
//
// A missing file yields an empty document. A corrupt file is renamed to a
// numbered backup (<path>.bak_N) and downgraded to an empty document; the
// condition is logged, never raised. The result is the on-disk document
// merged over the last in-memory snapshot, returned as a copy.
func (s *Store) Read() (Document, error) {
	unlock, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc := s.loadLocked()

	s.mu.Lock()
	for k, v := range doc {
		s.snap[k] = v
	}
	out := copyDoc(s.snap)
	s.mu.Unlock()
	return out, nil
}

// Write shallow-merges partial into the snapshot (key overwrite, not deep
// merge) and serializes the full snapshot to disk under the file lock.
func (s *Store) Write(partial Document) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	for k, v := range partial {
		s.snap[k] = v
	}
	doc := copyDoc(s.snap)
	s.mu.Unlock()

	return s.saveLocked(doc)
}

// Delete removes keys from the snapshot and serializes the result under the
// file lock. Missing keys are ignored.
func (s *Store) Delete(keys ...string) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	for k, v := range s.loadLocked() {
		s.snap[k] = v
	}
	for _, k := range keys {
		delete(s.snap, k)
	}
	doc := copyDoc(s.snap)
	s.mu.Unlock()

	return s.saveLocked(doc)
}

// Clear resets the document to empty, on disk and in memory.
func (s *Store) Clear() error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	s.snap = Document{}
	s.mu.Unlock()
	return s.saveLocked(Document{})
}

// acquire takes the cross-process lock with a bounded wait.
func (s *Store) acquire() (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockWait)
	defer cancel()
	ok, err := s.fl.TryLockContext(ctx, lockRetryEvery)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w (%s after %s)", ErrLockTimeout, s.path, s.lockWait)
		}
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s after %s)", ErrLockTimeout, s.path, s.lockWait)
	}
	return func() { _ = s.fl.Unlock() }, nil
}

// loadLocked reads and parses the file. Caller holds the file lock.
func (s *Store) loadLocked() Document {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("state read failed", logx.String("path", s.path), logx.Err(err))
		}
		return Document{}
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		backup := nextBackupPath(s.path)
		if rerr := os.Rename(s.path, backup); rerr != nil {
			s.log.Warn("corrupt state backup failed", logx.String("path", s.path), logx.Err(rerr))
		} else {
			s.log.Warn("corrupt state detected; moved aside",
				logx.String("path", s.path), logx.String("backup", backup), logx.Err(err))
		}
		return Document{}
	}
	if doc == nil {
		doc = Document{}
	}
	return doc
}

// saveLocked serializes doc atomically (tmp + rename). Caller holds the file lock.
func (s *Store) saveLocked(doc Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// nextBackupPath picks the first free <path>.bak_N so no prior backup is
// overwritten.
func nextBackupPath(path string) string {
	base := strings.TrimSuffix(path, filepath.Ext(path)) + ".bak"
	for n := 1; ; n++ {
		cand := fmt.Sprintf("%s_%d", base, n)
		if _, err := os.Stat(cand); os.IsNotExist(err) {
			return cand
		}
	}
}

func copyDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// ---- device liveness keys ----

const lastAliveSuffix = "_last_alive"

// SetDeviceLastAlive records the last-alive timestamp for a device
// identification string. nil means the device is dead/absent.
func (s *Store) SetDeviceLastAlive(idn string, t *time.Time) error {
	var v any
	if t != nil {
		v = t.Unix()
	}
	return s.Write(Document{idn + lastAliveSuffix: v})
}

// DeviceLastAlive returns the recorded last-alive timestamp for idn,
// or ok=false when the device has never been seen alive.
func (s *Store) DeviceLastAlive(idn string) (time.Time, bool, error) {
	doc, err := s.Read()
	if err != nil {
		return time.Time{}, false, err
	}
	raw, present := doc[idn+lastAliveSuffix]
	if !present || raw == nil {
		return time.Time{}, false, nil
	}
	switch x := raw.(type) {
	case float64:
		return time.Unix(int64(x), 0), true, nil
	case int64:
		return time.Unix(x, 0), true, nil
	default:
		return time.Time{}, false, nil
	}
}
