// Package syncutil provides small concurrency primitives shared across the
// runtime: an unbounded FIFO queue backing agent inboxes and the coordinator's
// routing loop, and panic-guarded goroutine helpers so background loops never
// crash the process.
package syncutil
