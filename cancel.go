package pth

import "runtime"

// terminateFiber runs f's cleanup stack, force-releases its held
// mutexes, marks it Dead with the given join value, and hands control
// back to the scheduler — the fiber's context switch to the scheduler
// effectively IS the unwind boundary, without a non-local jump: every
// mutation of shared runtime state happens here, before the hand-off,
// so any mutex held by a terminating fiber is released before any
// other fiber runs.
//
// terminateFiber never returns to its caller: it ends the calling
// goroutine via runtime.Goexit after handing control back. Fiber
// start functions should use CleanupPush/Pop rather than Go-native
// defer for state that must be finalized before termination is
// visible to the rest of the runtime.
func (rt *Runtime) terminateFiber(f *Fiber, value interface{}) {
	f.runCleanup()
	f.runKeyDestructors()
	f.releaseHeldMutexes()
	f.joinValue = value
	f.state = StateDead
	f.qNode = rt.deadQ.PushBack(f)
	rt.log.Debug().Uint64("fiber", f.id).Str("name", f.name).Msg("fiber terminated")
	finishFiber(rt)
	runtime.Goexit()
}

// finishFiber hands control back to the scheduler without expecting a
// further resume: this fiber's goroutine is ending.
func finishFiber(rt *Runtime) {
	rt.resume <- struct{}{}
}

// checkCancel is invoked at every cancel point: explicit CancelPoint,
// and every blocking primitive. A pending deferred
// cancellation request terminates the calling fiber with
// CanceledValue; an async request is handled synchronously inside
// Cancel instead (the target isn't running when it's requested).
func (f *Fiber) checkCancel(rt *Runtime) error {
	if !f.cancel.enabled {
		return nil
	}
	if f.cancelReq == 0 {
		return nil
	}
	if f.cancel.async {
		// Async requests against the *currently running* fiber are
		// handled here too (Cancel only short-circuits synchronously
		// for fibers that are not currently running).
	}
	f.cancelReq = 0
	rt.terminateFiber(f, CanceledValue)
	panic("unreachable: terminateFiber calls runtime.Goexit")
}

// CancelPoint is an explicit cancellation check a fiber can call at
// any point in its body.
func (rt *Runtime) CancelPoint() error {
	return rt.current.checkCancel(rt)
}

// CancelState gets/sets the calling fiber's cancellation mode,
// returning the previous mode.
func (rt *Runtime) CancelState(enabled, async bool) (prevEnabled, prevAsync bool) {
	f := rt.current
	prevEnabled, prevAsync = f.cancel.enabled, f.cancel.async
	f.cancel.enabled, f.cancel.async = enabled, async
	return
}

// Cancel requests cancellation of target. If target has
// cancellation disabled, the request is simply recorded. If enabled
// and deferred, the request is recorded and acted on at target's next
// cancel point. If enabled and async, and target is not the currently
// running fiber, it is torn down immediately (its goroutine is parked
// on its own baton, so this is safe to do synchronously from the
// caller). If target is the currently running fiber (self-cancel,
// async), termination happens via the normal checkCancel path at the
// next cancel point — even "async" self-cancellation cannot preempt
// code that never calls back into the runtime.
func (rt *Runtime) Cancel(target *Fiber) error {
	if target.state == StateDead {
		return nil
	}
	if !target.cancel.enabled {
		target.cancelReq = 1
		return nil
	}
	if !target.cancel.async {
		target.cancelReq = 1
		return nil
	}
	target.cancelReq = 1
	if target == rt.current {
		return nil // resolved at this fiber's own next cancel point
	}
	rt.forceTerminateIdle(target)
	return nil
}

// forceTerminateIdle tears down a fiber that is New/Ready/Waiting/
// Suspended (never currently running) from the caller's own goroutine.
// Safe because the target's goroutine is parked on <-target.baton and
// will simply notice killed==true and return without touching runtime
// state again.
func (rt *Runtime) forceTerminateIdle(f *Fiber) {
	switch f.state {
	case StateNew:
		rt.newQ.Remove(f.qNode)
		f.qNode = nil
	case StateReady:
		rt.ready.Remove(f)
	case StateWaiting:
		rt.waiting.Remove(f.qNode)
		f.qNode = nil
	case StateSuspended:
		rt.susp.Remove(f.qNode)
		f.qNode = nil
	default:
		return
	}
	f.runCleanup()
	f.runKeyDestructors()
	f.releaseHeldMutexes()
	f.joinValue = CanceledValue
	f.state = StateDead
	f.qNode = rt.deadQ.PushBack(f)
	f.killed = true
	if f.started {
		// The fiber's goroutine is parked on <-f.baton expecting to run
		// its start function next. Waking it here is fire-and-forget:
		// the entry wrapper's first act is to check killed and return
		// without touching any shared runtime state (that was already
		// finished above), so no second fiber's application code ever
		// runs concurrently with this one's.
		resumeFiber(f.baton)
	}
}

// Abort immediately terminates the calling fiber unconditionally,
// ignoring cancellation state.
func (rt *Runtime) Abort() {
	rt.terminateFiber(rt.current, CanceledValue)
}

// CleanupPush registers fn(arg) to run LIFO on the calling fiber's
// termination.
func (rt *Runtime) CleanupPush(fn func(arg interface{}), arg interface{}) *Node[cleanupHandler] {
	return rt.current.pushCleanup(fn, arg)
}

// CleanupPop removes the most recently pushed cleanup handler. If
// execute is true, it is called immediately with its recorded
// argument instead of being deferred to termination.
func (rt *Runtime) CleanupPop(execute bool) {
	self := rt.current
	n := self.cleanup.Front()
	if n == nil {
		return
	}
	h := n.Value
	self.cleanup.Remove(n)
	if execute {
		h.fn(h.arg)
	}
}
