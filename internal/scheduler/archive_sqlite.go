//go:build sqlite
// +build sqlite

package scheduler

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "labd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteArchive struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLiteArchive(cfg ArchiveConfig, log logx.Logger) (Archive, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	a := &sqliteArchive{db: db, log: log}
	if err := a.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *sqliteArchive) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, string(b))
	return err
}

func (a *sqliteArchive) Append(ctx context.Context, jobID string, e ArchiveEntry) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO archive (job_id, task, result, completed_at) VALUES (?, ?, ?, ?)`,
		jobID, e.Task, e.Result, e.CompletedAt.Unix())
	return err
}

func (a *sqliteArchive) Entries(ctx context.Context) (map[string]ArchiveEntry, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT job_id, task, result, completed_at FROM archive`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]ArchiveEntry{}
	for rows.Next() {
		var id, taskName, result string
		var at int64
		if err := rows.Scan(&id, &taskName, &result, &at); err != nil {
			return nil, err
		}
		out[id] = ArchiveEntry{Task: taskName, Result: result, CompletedAt: time.Unix(at, 0)}
	}
	return out, rows.Err()
}

func (a *sqliteArchive) Clear(ctx context.Context) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM archive`)
	return err
}

func (a *sqliteArchive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
