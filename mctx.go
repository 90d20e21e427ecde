package pth

// fiberBaton is the hand-off channel a fiber blocks on between
// dispatches. Granting it (a send) and blocking on it (a receive) is
// this runtime's rendition of mctx_switch: exactly one
// baton is ever open at a time, so only one fiber's application code
// ever runs, no matter how many goroutines the Go runtime itself is
// juggling underneath. There is no hidden allocation and no syscall on
// the hand-off path itself, matching the primitive's contract.
type fiberBaton chan struct{}

func newBaton() fiberBaton { return make(fiberBaton) }

// spawnContext starts entry on a fresh goroutine blocked on baton —
// the Go analogue of mctx_set's "a fresh context begins execution at
// entry_fn" contract (minus the raw stack/PC manipulation Go does not
// expose). entry does not run a single instruction until the first
// resumeFiber targets this baton.
func spawnContext(baton fiberBaton, entry func()) {
	go func() {
		<-baton
		entry()
	}()
}

// resumeFiber grants `to` the right to run. The caller (the scheduler,
// running on its own goroutine) must follow with a receive on its own
// resume channel to block until the fiber switches back.
func resumeFiber(to fiberBaton) {
	to <- struct{}{}
}

// switchBack returns control to the scheduler and blocks the calling
// fiber until the scheduler resumes it again via resumeFiber(self). To
// the fiber, execution appears to simply resume later, the same
// illusion a stackful context switch gives.
func switchBack(schedResume chan struct{}, self fiberBaton) {
	schedResume <- struct{}{}
	<-self
}
