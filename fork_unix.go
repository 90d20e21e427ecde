//go:build linux
// +build linux

package pth

import "syscall"

// Fork runs the registered atfork hooks around a raw fork(2), grounded
// on original_source/tests/test_fork.c's pth_fork.
//
// This is a best-effort rendition of a primitive that is fundamentally
// unsafe once a process has more than one OS thread running, which any
// non-trivial Go program already does by the time New has been called
// (the scheduler goroutine alone guarantees it). POSIX only guarantees
// fork(2) leaves async-signal-safe state usable in the child; the Go
// runtime's own goroutines, timers and memory allocator locks held by
// other OS threads at the instant of the call are not fixed up, so the
// child process here only continues safely if it calls one of the
// exec family immediately — precisely the pattern test_fork.c exercises
// (every child branch calls exit/_exit without touching further
// runtime machinery). Spawning further fibers in the child before an
// exec works in practice for this narrow single-threaded-child window
// but is not a general guarantee; callers wanting a supported
// process-spawn primitive should prefer os/exec.
func Fork() (pid int, err error) {
	runPrepareHooks()

	syscall.ForkLock.Lock()
	r1, _, errno := syscall.RawSyscall(syscall.SYS_FORK, 0, 0, 0)
	syscall.ForkLock.Unlock()

	if errno != 0 {
		return -1, errno
	}

	if r1 == 0 {
		runChildHooks()
		return 0, nil
	}

	runParentHooks()
	return int(r1), nil
}
