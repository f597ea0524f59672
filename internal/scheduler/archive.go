package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"labd/internal/statestore"
	logx "labd/pkg/logx"
)

// Archive is the append-only log of completed jobs, keyed by job ID. It is
// independently clearable and browsable.
type Archive interface {
	Append(ctx context.Context, jobID string, e ArchiveEntry) error
	Entries(ctx context.Context) (map[string]ArchiveEntry, error)
	Clear(ctx context.Context) error
	Close() error
}

// ArchiveConfig selects the archive backend.
//
// Driver values:
//   - "file" (default): lock-guarded JSON document
//   - "sqlite": SQLite database file (optional build tag)
type ArchiveConfig struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OpenArchive initializes the configured archive backend.
func OpenArchive(cfg ArchiveConfig, log logx.Logger) (Archive, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFileArchive(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLiteArchive(cfg, log)
	default:
		return nil, errors.New("unknown archive driver: " + driver)
	}
}

// fileArchive stores entries in one JSON document behind the statestore's
// cross-process lock, so an external browser can read it while jobs run.
type fileArchive struct {
	store *statestore.Store
}

func openFileArchive(cfg ArchiveConfig, log logx.Logger) (Archive, error) {
	st, err := statestore.Open(cfg.Path, statestore.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &fileArchive{store: st}, nil
}

func (a *fileArchive) Append(ctx context.Context, jobID string, e ArchiveEntry) error {
	_ = ctx
	return a.store.Write(statestore.Document{jobID: e})
}

func (a *fileArchive) Entries(ctx context.Context) (map[string]ArchiveEntry, error) {
	_ = ctx
	doc, err := a.store.Read()
	if err != nil {
		return nil, err
	}
	out := make(map[string]ArchiveEntry, len(doc))
	for id, raw := range doc {
		b, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var e ArchiveEntry
		if err := json.Unmarshal(b, &e); err != nil {
			continue
		}
		out[id] = e
	}
	return out, nil
}

func (a *fileArchive) Clear(ctx context.Context) error {
	_ = ctx
	return a.store.Clear()
}

func (a *fileArchive) Close() error { return nil }
