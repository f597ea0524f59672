// Package statestore persists shared runtime state as a single JSON
// document guarded by a cross-process file lock.
//
// Files:
//   - <path>       (the JSON document)
//   - <path>.lock  (sibling lock file)
//   - <path>.bak_N (numbered backups of corrupt documents)
//
// Every Read/Write round-trips through the lock so independent processes
// (device manager, scheduler) can share one document safely.
package statestore
