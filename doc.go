// Package pth is a portable, single-threaded cooperative fiber runtime.
//
// A Fiber is a lightweight execution context with its own goroutine and
// a voluntary suspension point: it runs until it calls Yield, Sleep,
// Wait, or any blocking primitive exposed by this package, at which
// point control returns to the scheduler. Exactly one fiber's
// application code ever runs at a time, regardless of how many
// goroutines the Go runtime itself is juggling underneath — see
// mctx.go for how that invariant is enforced.
//
// Blocking I/O, timers, mutexes, condition variables, read-write
// locks, barriers and message ports are all layered on a single
// composable event system (event.go) consumed by one scheduler loop
// (scheduler.go) that blocks the process in one poller wait whenever
// every fiber is waiting.
package pth
