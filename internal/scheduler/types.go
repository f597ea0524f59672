package scheduler

import (
	"errors"
	"time"

	"labd/internal/task"
)

// Config controls the timekeeper and its dispatch workers.
type Config struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration // per-job execution timeout; 0 disables
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

var (
	ErrStopped = errors.New("scheduler stopped")
)

// Job is one scheduled invocation of a registered task.
//
// Seq is the insertion sequence and breaks ties among jobs with identical
// fire times: earlier submissions fire first.
type Job struct {
	ID     string      `json:"id"`
	Task   string      `json:"task"`
	At     time.Time   `json:"at"`
	Params task.Params `json:"params,omitempty"`
	Seq    uint64      `json:"seq"`
}

// JobSummary is the read-only view handed to callers of Jobs().
type JobSummary struct {
	ID     string      `json:"id"`
	Task   string      `json:"task"`
	At     time.Time   `json:"at"`
	Params task.Params `json:"params,omitempty"`
}

// Outcome flags recorded in archive entries.
const (
	ResultOK = "ok"
)

// ArchiveEntry is the durable record of one completed job.
type ArchiveEntry struct {
	Task        string    `json:"task"`
	Result      string    `json:"result"` // "ok" or the failure text
	CompletedAt time.Time `json:"completed_at"`
}
