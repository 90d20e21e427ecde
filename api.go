package pth

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

// Spawn creates a new fiber bound to rt, running start(self) once the
// scheduler dispatches it, and returns its handle, mirroring pth_spawn.
// It takes no stack size: the fiber's goroutine stack is managed by Go
// (see defaultStackHint).
func (rt *Runtime) Spawn(name string, prio int, joinable bool, start func(self *Fiber) interface{}, arg interface{}) *Fiber {
	f := newFiber(rt, name, prio, start, arg, joinable)
	f.started = true
	spawnContext(f.baton, func() { rt.runFiber(f) })
	f.qNode = rt.newQ.PushBack(f)
	rt.log.Debug().Uint64("fiber", f.id).Str("name", name).Msg("fiber spawned")
	return f
}

// runFiber is the body every spawned fiber's goroutine actually runs:
// it bridges the baton hand-off to the user's start function and,
// whichever way the function ends, always finishes through
// terminateFiber so cleanup/mutex-release/dead-queue bookkeeping is
// never skipped.
func (rt *Runtime) runFiber(f *Fiber) {
	if f.killed {
		// forceTerminateIdle already ran this fiber's full teardown
		// (cleanup, mutex release, dead-queue insertion) and is not
		// waiting on a handback for this goroutine specifically (it
		// woke this baton directly, outside the normal dispatch
		// handoff) — just end the goroutine without touching rt.resume.
		runtime.Goexit()
	}
	var result interface{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = r
			}
		}()
		result = f.start(f)
	}()
	rt.terminateFiber(f, result)
}

// Join blocks the calling fiber until target (which must be joinable)
// terminates, returning its result value, mirroring pth_join. Joining
// a non-joinable or already-joined fiber is an error.
func (rt *Runtime) Join(target *Fiber) (interface{}, error) {
	if !target.joinable || target.joined {
		return nil, ErrInvalidArg
	}
	for target.state != StateDead {
		tev := NewTidEvent(target, TidReachedDead)
		_, err := rt.Wait(tev)
		ReleaseEvent(tev)
		if err != nil {
			return nil, err
		}
	}
	target.joined = true
	if target.qNode != nil {
		rt.deadQ.Remove(target.qNode)
		target.qNode = nil
	}
	return target.joinValue, nil
}

// Yield gives up the remainder of the calling fiber's turn, optionally
// directly favoring to if non-nil, mirroring pth_yield.
func (rt *Runtime) Yield(to *Fiber) error {
	self := rt.current
	if err := self.checkCancel(rt); err != nil {
		return err
	}
	self.state = StateReady
	rt.ready.Insert(self)
	if to != nil && to.state == StateReady {
		rt.ready.Favorite(to)
	}
	switchBack(rt.resume, self.baton)
	if self.killed {
		runtime.Goexit()
	}
	return self.checkCancel(rt)
}

// Exit terminates the calling fiber with the given value, equivalent
// to returning value from its start function, mirroring pth_exit.
func (rt *Runtime) Exit(value interface{}) {
	rt.terminateFiber(rt.current, value)
}

// Sleep blocks the calling fiber for d, mirroring pth_sleep/pth_nap:
// nap is sleep with sub-second resolution, which time.Duration already
// gives uniformly, so both map to this one primitive.
func (rt *Runtime) Sleep(d time.Duration) error {
	tev := NewTimeEvent(Now().Add(d))
	_, err := rt.Wait(tev)
	ReleaseEvent(tev)
	return err
}

// Nap is an alias of Sleep, kept for callers used to a distinct
// sub-second-resolution nap() entry point.
func (rt *Runtime) Nap(d time.Duration) error { return rt.Sleep(d) }

// Nanosleep sleeps until an absolute deadline rather than a relative
// duration, the absolute-time form of pth_nanosleep.
func (rt *Runtime) Nanosleep(deadline Time) error {
	tev := NewTimeEvent(deadline)
	_, err := rt.Wait(tev)
	ReleaseEvent(tev)
	return err
}

// Suspend parks the calling fiber until Resume is called on it,
// mirroring pth_suspend/pth_resume. Unlike Wait, there is no event
// associated with a Suspended fiber: it is woken only by an explicit
// Resume, never by the event manager.
func (rt *Runtime) Suspend() error {
	self := rt.current
	self.state = StateSuspended
	self.qNode = rt.susp.PushBack(self)
	switchBack(rt.resume, self.baton)
	if self.killed {
		runtime.Goexit()
	}
	return self.checkCancel(rt)
}

// Resume moves a Suspended fiber back to Ready.
func (rt *Runtime) Resume(target *Fiber) error {
	if target.state != StateSuspended {
		return ErrInvalidArg
	}
	rt.susp.Remove(target.qNode)
	target.qNode = nil
	target.state = StateReady
	rt.ready.Insert(target)
	return nil
}

// Raise delivers sig to target, mirroring pth_raise. A target not
// currently blocked in a Sigs event has the signal queued and
// delivered on its next SigWait, per GNU Pth's own documented
// behavior.
func (rt *Runtime) Raise(target *Fiber, sig syscall.Signal) {
	if target.pendingSignals == nil {
		target.pendingSignals = make(map[syscall.Signal]struct{})
	}
	target.pendingSignals[sig] = struct{}{}
	if target.state != StateWaiting || target.waitEvent == nil {
		return
	}
	walkEventRing(target.waitEvent, func(e *Event) bool {
		if e.typ == EventSigs {
			if _, ok := e.sigSet[sig]; ok {
				e.status = StatusOccurred
				e.sigFired = sig
				return false
			}
		}
		return true
	})
}

// Once runs fn exactly once across however many fibers call Once with
// the same *OnceGuard, mirroring pth_once, via sync.Once since
// "exactly once, whichever caller gets there first" needs no
// scheduler involvement beyond the mutual exclusion sync.Once already
// gives two goroutines.
type OnceGuard struct{ once sync.Once }

func (rt *Runtime) Once(g *OnceGuard, fn func()) { g.once.Do(fn) }

// --- Fiber attribute accessors ---

// SetPriority changes a fiber's scheduling priority (clamped to
// PrioMin..PrioMax); if it is currently Ready its position is
// re-evaluated on the queue's next Insert-based operation.
func (f *Fiber) SetPriority(p int) { f.Priority = clampPrio(p) }

// Events returns the event ring a Waiting fiber is blocked on, or nil.
func (f *Fiber) Events() *Event { return f.waitEvent }

// StartFunc/StartArg expose the read-only attributes pth_attr_get
// reports for PTH_ATTR_START_FUNC/PTH_ATTR_START_ARG.
func (f *Fiber) StartFunc() func(*Fiber) interface{} { return f.start }
func (f *Fiber) StartArg() interface{}               { return f.arg }

// --- Fiber-local storage (key_create/delete/setdata/getdata) ---

// KeyCreate allocates a new fiber-local storage key, backed by a
// process-wide vector of (destructor, in-use) entries. If destr is
// non-nil it runs on each fiber's value for this key when that fiber
// terminates.
func (rt *Runtime) KeyCreate(destr func(interface{})) int {
	rt.keysMu.Lock()
	defer rt.keysMu.Unlock()
	id := rt.nextKeyID
	rt.nextKeyID++
	rt.keyDestructors[id] = destr
	return id
}

// KeyDelete frees the slot. Per contract, no destructors run — callers
// that need cleanup must have already drained fiber-held values.
func (rt *Runtime) KeyDelete(key int) {
	rt.keysMu.Lock()
	defer rt.keysMu.Unlock()
	delete(rt.keyDestructors, key)
}

// SetData sets the calling fiber's value for key.
func (rt *Runtime) SetData(key int, value interface{}) {
	self := rt.current
	if self.keyValues == nil {
		self.keyValues = make(map[int]interface{})
	}
	self.keyValues[key] = value
}

// GetData returns the calling fiber's value for key, or nil if unset.
func (rt *Runtime) GetData(key int) interface{} {
	return rt.current.keyValues[key]
}

// --- Ctrl: statistics and tunables, mirroring pth_ctrl ---

// CtrlFlag selects which statistic or tunable Ctrl reads/writes.
type CtrlFlag int

const (
	CtrlQueueStats CtrlFlag = iota
	CtrlAvLoad
	CtrlFavourNew
	CtrlDumpState
)

// Ctrl is a single multiplexed statistics/tunable entry point. It
// returns an interface{} whose dynamic type depends on
// flag: QueueStats for CtrlQueueStats, float64 for CtrlAvLoad, bool
// for CtrlFavourNew (after optionally setting it, if args[0] is a
// bool), and a zerolog-emitted state dump (no return value) for
// CtrlDumpState.
func (rt *Runtime) Ctrl(flag CtrlFlag, args ...interface{}) interface{} {
	switch flag {
	case CtrlQueueStats:
		return rt.QueueStats()
	case CtrlAvLoad:
		return rt.GetAvLoad()
	case CtrlFavourNew:
		if len(args) > 0 {
			if b, ok := args[0].(bool); ok {
				rt.cfg.favourNew = b
			}
		}
		return rt.cfg.favourNew
	case CtrlDumpState:
		st := rt.QueueStats()
		rt.log.Info().
			Int("new", st.New).Int("ready", st.Ready).
			Int("waiting", st.Waiting).Int("suspended", st.Suspended).
			Int("dead", st.Dead).Float64("avg_load", rt.GetAvLoad()).
			Msg("runtime state")
		return nil
	default:
		return nil
	}
}
