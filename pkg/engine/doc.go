// Package engine runs submitted course task bodies asynchronously.
//
// LocalEngine keeps per-task state (PENDING, PROGRESS, terminal) in a
// ResultBackend and executes registered RunFuncs on an in-process
// worker pool. The in-memory backend serves single-process
// deployments and tests; RedisResults shares state between web and
// worker processes.
//
// Eager mode runs bodies synchronously on the submitting goroutine,
// in which case Submit may already return a terminal state.
package engine
