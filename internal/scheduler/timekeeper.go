package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"labd/internal/statestore"
	"labd/internal/task"
	logx "labd/pkg/logx"
)

// Metrics is the optional instrumentation surface the timekeeper reports to.
type Metrics interface {
	JobScheduled()
	JobFired(ok bool)
	JobCancelled()
	SetPending(n int)
}

type Option func(*Timekeeper)

func WithMetrics(m Metrics) Option {
	return func(tk *Timekeeper) { tk.metrics = m }
}

// Timekeeper maintains the ordered pending set, persists it, and hands due
// jobs to the dispatch workers.
type Timekeeper struct {
	cfg     Config
	log     logx.Logger
	reg     *task.Registry
	store   *statestore.Store
	archive Archive
	metrics Metrics

	mu      sync.Mutex
	pending map[string]Job
	seq     uint64

	cbMu     sync.Mutex
	callback func()

	wake     chan struct{}
	queue    chan Job
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a timekeeper and reloads any pending jobs persisted by a
// previous run. Jobs already past due fire as soon as Start is called.
func New(cfg Config, reg *task.Registry, store *statestore.Store, archive Archive, log logx.Logger, opts ...Option) (*Timekeeper, error) {
	tk := &Timekeeper{
		cfg:     cfg.withDefaults(),
		log:     log,
		reg:     reg,
		store:   store,
		archive: archive,
		pending: map[string]Job{},
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
	for _, o := range opts {
		o(tk)
	}
	if err := tk.reload(); err != nil {
		return nil, err
	}
	return tk, nil
}

func (tk *Timekeeper) reload() error {
	doc, err := tk.store.Read()
	if err != nil {
		return fmt.Errorf("reload jobs: %w", err)
	}
	for id, raw := range doc {
		b, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var j Job
		if err := json.Unmarshal(b, &j); err != nil || j.ID == "" {
			tk.log.Warn("skipping unparsable persisted job", logx.String("id", id))
			continue
		}
		tk.pending[j.ID] = j
		if j.Seq >= tk.seq {
			tk.seq = j.Seq + 1
		}
	}
	if n := len(tk.pending); n > 0 {
		tk.log.Info("pending jobs restored", logx.Int("count", n))
	}
	return nil
}

// Start launches the due-time loop and the dispatch workers.
func (tk *Timekeeper) Start(ctx context.Context) {
	tk.queue = make(chan Job, tk.cfg.QueueSize)

	for i := 0; i < tk.cfg.Workers; i++ {
		idx := i
		tk.wg.Add(1)
		go func() {
			defer tk.wg.Done()
			tk.worker(ctx, idx)
		}()
	}

	tk.wg.Add(1)
	go func() {
		defer tk.wg.Done()
		tk.loop(ctx)
	}()

	tk.log.Info("timekeeper started",
		logx.Int("workers", tk.cfg.Workers),
		logx.Int("pending", len(tk.Jobs())))
}

// Stop signals the loop and workers and waits for in-flight dispatches.
// Cancellation is cooperative: a job already handed to a worker finishes.
func (tk *Timekeeper) Stop(ctx context.Context) {
	tk.stopOnce.Do(func() { close(tk.stopCh) })

	done := make(chan struct{})
	go func() {
		tk.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		tk.log.Info("timekeeper stopped")
	case <-ctx.Done():
		tk.log.Warn("timekeeper stop timed out", logx.Err(ctx.Err()))
	}
}

// SetCallback registers the single observer invoked on every tick (job
// added, fired, or cancelled). The last registration wins.
func (tk *Timekeeper) SetCallback(fn func()) {
	tk.cbMu.Lock()
	tk.callback = fn
	tk.cbMu.Unlock()
}

func (tk *Timekeeper) notify() {
	tk.cbMu.Lock()
	fn := tk.callback
	tk.cbMu.Unlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			tk.log.Error("scheduler callback panicked", logx.Any("panic", r))
		}
	}()
	fn()
}

// AddJob validates the task name against the registry, persists a new job
// and arranges execution at the given time. The parameter map is copied;
// later caller mutations do not affect the job.
func (tk *Timekeeper) AddJob(taskName string, at time.Time, params task.Params) (string, error) {
	select {
	case <-tk.stopCh:
		return "", ErrStopped
	default:
	}
	def, err := tk.reg.Resolve(taskName)
	if err != nil {
		return "", err
	}

	tk.mu.Lock()
	job := Job{
		ID:     uuid.NewString(),
		Task:   def.Name,
		At:     at,
		Params: params.Copy(),
		Seq:    tk.seq,
	}
	tk.seq++
	tk.pending[job.ID] = job
	n := len(tk.pending)
	tk.mu.Unlock()

	if err := tk.store.Write(statestore.Document{job.ID: job}); err != nil {
		tk.mu.Lock()
		delete(tk.pending, job.ID)
		tk.mu.Unlock()
		return "", fmt.Errorf("persist job: %w", err)
	}

	tk.log.Info("job scheduled",
		logx.String("id", job.ID), logx.String("task", job.Task), logx.Time("at", at))
	if tk.metrics != nil {
		tk.metrics.JobScheduled()
		tk.metrics.SetPending(n)
	}
	tk.kick()
	tk.notify()
	return job.ID, nil
}

// Jobs snapshots all pending jobs.
func (tk *Timekeeper) Jobs() map[string]JobSummary {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	out := make(map[string]JobSummary, len(tk.pending))
	for id, j := range tk.pending {
		out[id] = JobSummary{ID: j.ID, Task: j.Task, At: j.At, Params: j.Params.Copy()}
	}
	return out
}

// CancelJob removes a pending job. Unknown or already-fired IDs are a
// logged no-op: the archive entry (if any) is never resurrected.
func (tk *Timekeeper) CancelJob(id string) bool {
	tk.mu.Lock()
	_, ok := tk.pending[id]
	if ok {
		delete(tk.pending, id)
	}
	n := len(tk.pending)
	tk.mu.Unlock()

	if !ok {
		tk.log.Debug("cancel ignored: job not pending", logx.String("id", id))
		return false
	}
	if err := tk.store.Delete(id); err != nil {
		tk.log.Warn("cancelled job not removed from disk", logx.String("id", id), logx.Err(err))
	}
	tk.log.Info("job cancelled", logx.String("id", id))
	if tk.metrics != nil {
		tk.metrics.JobCancelled()
		tk.metrics.SetPending(n)
	}
	tk.kick()
	tk.notify()
	return true
}

// ArchiveEntries browses the archive of completed jobs.
func (tk *Timekeeper) ArchiveEntries(ctx context.Context) (map[string]ArchiveEntry, error) {
	return tk.archive.Entries(ctx)
}

func (tk *Timekeeper) ClearArchive(ctx context.Context) error {
	return tk.archive.Clear(ctx)
}

// kick wakes the loop so it re-arms its timer.
func (tk *Timekeeper) kick() {
	select {
	case tk.wake <- struct{}{}:
	default:
	}
}

// loop owns due-time evaluation. It never executes tasks inline: due jobs
// are removed from the pending set (so they fire at most once) and handed to
// the worker queue, then the timer is re-armed to the earliest remainder.
func (tk *Timekeeper) loop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		due, next := tk.takeDue(time.Now())
		for _, j := range due {
			select {
			case tk.queue <- j:
			case <-tk.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next.IsZero() {
			// Nothing pending; sleep until a job arrives.
			timer.Reset(time.Hour)
		} else {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}

		select {
		case <-tk.stopCh:
			return
		case <-ctx.Done():
			return
		case <-tk.wake:
		case <-timer.C:
		}
	}
}

// takeDue removes and returns all jobs due at or before now, ordered by
// fire time then insertion sequence, plus the fire time of the earliest
// remaining job (zero when none).
func (tk *Timekeeper) takeDue(now time.Time) ([]Job, time.Time) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	var due []Job
	var next time.Time
	for _, j := range tk.pending {
		if !j.At.After(now) {
			due = append(due, j)
			continue
		}
		if next.IsZero() || j.At.Before(next) {
			next = j.At
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].At.Equal(due[k].At) {
			return due[i].At.Before(due[k].At)
		}
		return due[i].Seq < due[k].Seq
	})
	for _, j := range due {
		delete(tk.pending, j.ID)
	}
	if tk.metrics != nil {
		tk.metrics.SetPending(len(tk.pending))
	}
	return due, next
}
