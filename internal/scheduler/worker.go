package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"labd/internal/task"
	logx "labd/pkg/logx"
)

// worker drains the dispatch queue. Each due job's device interaction runs
// here, never on the loop goroutine.
func (tk *Timekeeper) worker(ctx context.Context, idx int) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-tk.stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-tk.stopCh:
			return
		case j := <-tk.queue:
			tk.dispatch(ctx, j, idx)
		}
	}
}

// dispatch executes one job and moves it to the archive. Execution errors
// (including invalid parameters and panics) are recorded in the archive
// entry rather than propagated.
func (tk *Timekeeper) dispatch(ctx context.Context, j Job, idx int) {
	start := time.Now()
	result := tk.runJob(ctx, j)

	entry := ArchiveEntry{Task: j.Task, Result: result, CompletedAt: time.Now()}
	if err := tk.archive.Append(ctx, j.ID, entry); err != nil {
		tk.log.Error("archive append failed", logx.String("id", j.ID), logx.Err(err))
	}
	if err := tk.store.Delete(j.ID); err != nil {
		tk.log.Warn("fired job not removed from disk", logx.String("id", j.ID), logx.Err(err))
	}

	ok := result == ResultOK
	if ok {
		tk.log.Info("job fired",
			logx.String("id", j.ID), logx.String("task", j.Task),
			logx.Int("worker", idx), logx.Duration("took", time.Since(start)))
	} else {
		tk.log.Error("job failed",
			logx.String("id", j.ID), logx.String("task", j.Task),
			logx.Int("worker", idx), logx.String("result", result))
	}
	if tk.metrics != nil {
		tk.metrics.JobFired(ok)
	}
	tk.notify()
}

func (tk *Timekeeper) runJob(ctx context.Context, j Job) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = fmt.Sprintf("panic: %v", r)
			tk.log.Error("task panicked",
				logx.String("id", j.ID), logx.String("task", j.Task),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	def, err := tk.reg.Resolve(j.Task)
	if err != nil {
		return err.Error()
	}

	// Re-validate at fire time: the registry may have changed since
	// submission, and defaults are filled here.
	params := def.WithDefaults(j.Params)
	if rep := task.ValidateParams(def, params); !rep.OK {
		return "invalid parameters: " + strings.Join(rep.Errors, "; ")
	}

	runCtx := ctx
	if tk.cfg.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, tk.cfg.DefaultTimeout)
		defer cancel()
	}
	if err := def.Run(runCtx, params); err != nil {
		return err.Error()
	}
	return ResultOK
}
