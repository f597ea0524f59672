// Package scheduler keeps the time-ordered set of pending jobs, fires them
// when due, and archives the outcomes.
//
// The timekeeper loop owns due-time evaluation only; execution happens on a
// worker pool so a slow instrument never blocks unrelated jobs. Pending jobs
// and the archive are both durable and survive restarts; jobs already past
// due at startup fire immediately, exactly once per process.
package scheduler
