package pth

import (
	"math"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Runtime is the process-wide scheduler state, encapsulated in a
// single value initialized by New and torn down by Close. Every field
// here is touched only from the scheduler goroutine or from whichever
// fiber currently holds the baton — never concurrently; apart from the
// key table (guarded by keysMu), no locks guard them.
type Runtime struct {
	cfg Config
	log zerolog.Logger

	resume chan struct{} // fibers signal this to hand control back to the scheduler
	die    chan struct{}
	dieOnce sync.Once

	current *Fiber
	main    *Fiber

	newQ    Ring[*Fiber]
	ready   priorityQueue
	waiting Ring[*Fiber]
	susp    Ring[*Fiber]
	deadQ   Ring[*Fiber]

	ports map[string]*Port

	pfd *poller

	registeredSigs map[syscall.Signal]bool
	sigCh          chan os.Signal

	keysMu         sync.Mutex
	keyDestructors map[int]func(interface{})
	nextKeyID      int

	avgLoad    float64
	lastSample time.Time
}

// New creates a Runtime and starts its scheduler. The calling
// goroutine becomes the "main" fiber, representing the initial stack;
// the scheduler itself runs on a dedicated goroutine, mirroring gaio's
// NewWatcherSize spawning `go w.loop()`.
func New(opts ...Option) (*Runtime, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	pfd, err := openPoll()
	if err != nil {
		return nil, wrap(err, "open poller")
	}

	rt := &Runtime{
		cfg:            cfg,
		log:            cfg.logger,
		resume:         make(chan struct{}),
		die:            make(chan struct{}),
		ports:          make(map[string]*Port),
		pfd:            pfd,
		registeredSigs: make(map[syscall.Signal]bool),
		sigCh:          make(chan os.Signal, 16),
		keyDestructors: make(map[int]func(interface{})),
		lastSample:     time.Now(),
	}

	rt.main = newFiber(rt, "main", PrioMax, nil, nil, false)
	rt.main.state = StateReady
	rt.main.started = true // the calling goroutine already owns its baton logically
	rt.current = rt.main

	go rt.loop()

	wrapper := rt
	runtime.SetFinalizer(wrapper, func(r *Runtime) { r.Close() })

	return rt, nil
}

// Close tears down the runtime.
func (rt *Runtime) Close() error {
	var err error
	rt.dieOnce.Do(func() {
		close(rt.die)
		err = rt.pfd.Close()
	})
	return err
}

// Current returns the fiber presently executing — valid only when
// called from that fiber's own goroutine.
func (rt *Runtime) Current() *Fiber { return rt.current }

// kick is called wherever state-dependent events (Mutex/Cond/Msg/Tid)
// may have become satisfied. It does nothing: its caller is always the
// running fiber, and that fiber's own progression reaches a suspension
// point that triggers the re-evaluation naturally.
func (rt *Runtime) kick() {
	// Deliberately empty: under the single-threaded invariant, kick is
	// only meaningful while the scheduler is blocked in the event
	// manager, which can only be true when no fiber is running — i.e.
	// never concurrently with the caller of kick(). The state change
	// that prompted the kick (mutex release, cond notify, message put)
	// is therefore always visible on the *next* natural event-manager
	// pass, which happens as soon as the current fiber itself suspends.
}

// loop is the scheduler fiber: it owns all dispatch decisions and is
// reached only via the baton hand-off in mctx.go.
func (rt *Runtime) loop() {
	for {
		select {
		case <-rt.die:
			return
		case <-rt.resume:
		}
		rt.dispatchOnce()
	}
}

// dispatchOnce implements one cycle of the dispatch loop: reap, age,
// pick, switch.
func (rt *Runtime) dispatchOnce() {
	rt.reapDetached()
	rt.sampleLoad()
	rt.promoteSatisfiedWaiters()

	if rt.cfg.favourNew && rt.newQ.Len() > 0 {
		rt.promoteOneNew()
	}

	for rt.ready.Len() == 0 {
		if rt.newQ.Len() > 0 {
			rt.promoteOneNew()
			continue
		}
		if rt.waiting.Len() == 0 {
			// Nothing Ready, nothing New, nothing Waiting: quiescent.
			// Return to the outer select and wait for the next resume
			// or die signal.
			return
		}
		if !rt.runEventManager() {
			// A pass completed but nothing became Ready (e.g. only a
			// Func event with a future poll interval); loop again,
			// the event manager itself enforces the poll interval via
			// its computed timeout.
			continue
		}
	}

	rt.ready.Age()
	f := rt.ready.DequeueMax()
	rt.current = f
	f.lastRanAt = Now()
	f.dispatches++ // true monotonic counter; distinct from the queue's internal ageScore
	resumeFiber(f.baton)
}

// promoteOneNew moves the oldest New fiber into Ready.
func (rt *Runtime) promoteOneNew() {
	n := rt.newQ.Front()
	if n == nil {
		return
	}
	f := n.Value
	rt.newQ.Remove(n)
	f.state = StateReady
	rt.ready.Insert(f)
}

// reapDetached removes detached (non-joinable) Dead fibers from the
// dead queue; joinable fibers are instead removed by Join.
func (rt *Runtime) reapDetached() {
	var toRemove []*Node[*Fiber]
	rt.deadQ.Walk(func(n *Node[*Fiber]) bool {
		if !n.Value.joinable {
			toRemove = append(toRemove, n)
		}
		return true
	})
	for _, n := range toRemove {
		rt.deadQ.Remove(n)
	}
}

func (rt *Runtime) sampleLoad() {
	now := time.Now()
	dt := now.Sub(rt.lastSample).Seconds()
	if dt <= 0 {
		return
	}
	rt.lastSample = now
	tau := rt.cfg.loadAverageWindow.Seconds()
	if tau <= 0 {
		tau = 1.0
	}
	alpha := 1 - math.Exp(-dt/tau)
	rt.avgLoad += alpha * (float64(rt.ready.Len()) - rt.avgLoad)
}

// Wait transitions the calling fiber to Waiting on ring and switches
// to the scheduler, returning the triggering event (or nil/err on
// cancellation/runtime shutdown). This is the mechanism every
// blocking primitive in this package is built from.
func (rt *Runtime) Wait(ring *Event) (*Event, error) {
	self := rt.current

	if trig := rt.checkImmediateRing(ring, self); trig != nil {
		if err := self.checkCancel(rt); err != nil {
			return nil, err
		}
		return trig, nil
	}

	self.waitEvent = ring
	self.trigger = nil
	self.state = StateWaiting
	self.qNode = rt.waiting.PushBack(self)

	switchBack(rt.resume, self.baton)
	if self.killed {
		// Cancel() tore this fiber down asynchronously while it was
		// parked here: all state (cleanup, mutex release, dead-queue
		// insertion) is already finalized. Unwind this goroutine
		// immediately without touching shared state again.
		runtime.Goexit()
	}

	self.waitEvent = nil
	if err := self.checkCancel(rt); err != nil {
		return nil, err
	}
	return self.trigger, nil
}

// promoteSatisfiedWaiters scans every Waiting fiber for an
// already-satisfied in-process event (Mutex/Cond/Msg/Tid/Func) and
// moves it straight to Ready. dispatchOnce runs this every cycle,
// unconditionally: unlike the full runEventManager pass (which only
// runs once Ready is empty, since it may block in the poller), a
// fiber made runnable by another fiber's Release/Notify/Put must be
// promoted promptly even while some other, higher-priority fiber
// keeps winning the Ready queue every cycle.
func (rt *Runtime) promoteSatisfiedWaiters() bool {
	type hit struct {
		f *Fiber
		e *Event
	}
	var hits []hit
	rt.waiting.Walk(func(n *Node[*Fiber]) bool {
		f := n.Value
		walkEventRing(f.waitEvent, func(e *Event) bool {
			switch e.typ {
			case EventMutex, EventCond, EventMsg, EventTid, EventFunc:
				if e.status == StatusOccurred || e.status == StatusFailed || e.checkImmediate(f) {
					hits = append(hits, hit{f: f, e: e})
					return false
				}
			case EventSigs:
				// Raise() flips status in-process, the same way
				// Release/Notify/Put do for the other immediate types —
				// needs the same prompt per-cycle promotion, not just the
				// poller-driven runEventManager pass.
				if e.status == StatusOccurred || e.status == StatusFailed {
					hits = append(hits, hit{f: f, e: e})
					return false
				}
			}
			return true
		})
		return true
	})
	moved := false
	for _, h := range hits {
		if h.f.qNode == nil {
			continue // already woken earlier in this same scan
		}
		rt.wakeFiber(h.f, h.e)
		moved = true
	}
	return moved
}

// checkImmediateRing evaluates every in-process-state event in ring
// (Mutex/Cond/Msg/Tid/Func) without blocking.
func (rt *Runtime) checkImmediateRing(ring *Event, self *Fiber) *Event {
	var found *Event
	walkEventRing(ring, func(e *Event) bool {
		switch e.typ {
		case EventMutex, EventCond, EventMsg, EventTid, EventFunc:
			if e.checkImmediate(self) {
				found = e
				return false
			}
		}
		return true
	})
	return found
}

func walkEventRing(start *Event, fn func(*Event) bool) {
	if start == nil {
		return
	}
	cur := start
	for {
		next := cur.next
		if !fn(cur) {
			return
		}
		if next == start {
			return
		}
		cur = next
	}
}

// runEventManager classifies every Waiting fiber's ring, computes a
// single poller wait, blocks, then resolves. Returns true if at least
// one fiber moved Waiting->Ready.
func (rt *Runtime) runEventManager() bool {
	type fdWant struct {
		read, write bool
	}
	fdInterest := make(map[int]*fdWant)
	sigsWanted := make(map[syscall.Signal]bool)
	haveDeadline := false
	var minDeadline Time

	type waiter struct {
		f   *Fiber
		evs []*Event
	}
	var waiters []waiter

	rt.waiting.Walk(func(n *Node[*Fiber]) bool {
		f := n.Value
		var evs []*Event
		moved := false
		walkEventRing(f.waitEvent, func(e *Event) bool {
			evs = append(evs, e)
			switch e.typ {
			case EventMutex, EventCond, EventMsg, EventTid:
				if e.checkImmediate(f) {
					moved = true
				}
			case EventFd:
				w := fdInterest[e.fd]
				if w == nil {
					w = &fdWant{}
					fdInterest[e.fd] = w
				}
				switch e.fdGoal {
				case FdReadable, FdException:
					w.read = true
				case FdWritable:
					w.write = true
				}
			case EventSelect:
				for _, fd := range e.selReadFd {
					w := fdInterest[fd]
					if w == nil {
						w = &fdWant{}
						fdInterest[fd] = w
					}
					w.read = true
				}
				for _, fd := range e.selWriteFd {
					w := fdInterest[fd]
					if w == nil {
						w = &fdWant{}
						fdInterest[fd] = w
					}
					w.write = true
				}
			case EventSigs:
				for s := range e.sigSet {
					sigsWanted[s] = true
				}
			case EventTime:
				if !haveDeadline || e.deadline.Before(minDeadline) {
					haveDeadline = true
					minDeadline = e.deadline
				}
			case EventFunc:
				if e.checkImmediate(f) {
					moved = true
					break
				}
				// An unsatisfied Func event must be re-checked at its own
				// pace rather than leaving the poller parked forever: bound
				// the wait so dispatchOnce re-evaluates the predicate no
				// later than one pollInterval from now instead of busy-
				// spinning (empty fd interest + no deadline returns
				// immediately from the poller).
				next := Now().Add(e.pollInterval)
				if !haveDeadline || next.Before(minDeadline) {
					haveDeadline = true
					minDeadline = next
				}
			}
			return true
		})
		waiters = append(waiters, waiter{f: f, evs: evs})
		_ = moved
		return true
	})

	// Fast path: something was already satisfied by the immediate scan.
	progressed := false
	for _, w := range waiters {
		for _, e := range w.evs {
			if e.status == StatusOccurred || e.status == StatusFailed {
				rt.wakeFiber(w.f, e)
				progressed = true
				break
			}
		}
	}
	if progressed {
		return true
	}

	rt.ensureSignals(sigsWanted)

	var timeout time.Duration = -1
	if rt.cfg.pollTimeout > 0 {
		timeout = rt.cfg.pollTimeout
	}
	if haveDeadline {
		timeout = minDeadline.Sub(Now())
		if timeout < 0 {
			timeout = 0
		}
	}

	interest := make([]pollInterest, 0, len(fdInterest))
	for fd, w := range fdInterest {
		interest = append(interest, pollInterest{fd: fd, read: w.read, write: w.write})
	}

	var events []pollEvent
	var sig syscall.Signal
	var gotSig bool

	if len(sigsWanted) == 0 {
		evs, err := rt.pfd.Wait(interest, timeout)
		if err != nil {
			rt.log.Warn().Err(err).Msg("poller wait failed")
		}
		events = evs
	} else {
		done := make(chan struct{}, 1)
		var pollErr error
		go func() {
			evs, err := rt.pfd.Wait(interest, timeout)
			events = evs
			pollErr = err
			done <- struct{}{}
		}()
		select {
		case s := <-rt.sigCh:
			if ss, ok := s.(syscall.Signal); ok && sigsWanted[ss] {
				sig, gotSig = ss, true
			} else if us, ok := toSignal(s); ok && sigsWanted[us] {
				sig, gotSig = us, true
			}
		case <-done:
			if pollErr != nil {
				rt.log.Warn().Err(pollErr).Msg("poller wait failed")
			}
		case <-time.After(maxWait(timeout)):
		}
	}

	now := Now()
	fdReady := make(map[int]pollEvent, len(events))
	for _, e := range events {
		fdReady[e.fd] = e
	}

	for _, w := range waiters {
		for _, e := range w.evs {
			switch e.typ {
			case EventFd:
				if pe, ok := fdReady[e.fd]; ok {
					if (e.fdGoal == FdReadable || e.fdGoal == FdException) && pe.readable {
						e.status = StatusOccurred
					}
					if e.fdGoal == FdWritable && pe.writable {
						e.status = StatusOccurred
					}
				}
			case EventSelect:
				n := 0
				for _, fd := range e.selReadFd {
					if pe, ok := fdReady[fd]; ok && pe.readable {
						n++
					}
				}
				for _, fd := range e.selWriteFd {
					if pe, ok := fdReady[fd]; ok && pe.writable {
						n++
					}
				}
				if n > 0 {
					e.selResult = n
					e.status = StatusOccurred
				}
			case EventTime:
				if !e.deadline.IsZero() && !now.Before(e.deadline) {
					e.status = StatusOccurred
				}
			case EventSigs:
				if gotSig {
					if _, ok := e.sigSet[sig]; ok {
						e.status = StatusOccurred
						e.sigFired = sig
					}
				}
			}
		}
	}

	moved := false
	for _, w := range waiters {
		for _, e := range w.evs {
			if e.status == StatusOccurred || e.status == StatusFailed {
				rt.wakeFiber(w.f, e)
				moved = true
				break
			}
		}
	}
	return moved
}

func maxWait(timeout time.Duration) time.Duration {
	if timeout < 0 {
		return 365 * 24 * time.Hour
	}
	return timeout
}

func toSignal(s os.Signal) (syscall.Signal, bool) {
	ss, ok := s.(syscall.Signal)
	return ss, ok
}

func (rt *Runtime) ensureSignals(wanted map[syscall.Signal]bool) {
	var toAdd []os.Signal
	for s := range wanted {
		if !rt.registeredSigs[s] {
			rt.registeredSigs[s] = true
			toAdd = append(toAdd, s)
		}
	}
	if len(toAdd) > 0 {
		signal.Notify(rt.sigCh, toAdd...)
	}
}

// wakeFiber moves f from Waiting to Ready, recording trigger as the
// event retrievable via the fiber's subsequent Wait return.
func (rt *Runtime) wakeFiber(f *Fiber, trigger *Event) {
	if f.qNode == nil {
		return // already woken this pass (multiple occurred events)
	}
	rt.waiting.Remove(f.qNode)
	f.qNode = nil
	f.trigger = trigger
	f.state = StateReady
	rt.ready.Insert(f)
}

// GetAvLoad returns the exponentially smoothed Ready-queue depth
// average exposed by Ctrl(CtrlAvLoad).
func (rt *Runtime) GetAvLoad() float64 { return rt.avgLoad }

// QueueStats reports the live size of each scheduler queue, for
// Ctrl(CtrlQueueStats) and cmd/pthctl.
type QueueStats struct {
	New, Ready, Waiting, Suspended, Dead int
}

func (rt *Runtime) QueueStats() QueueStats {
	return QueueStats{
		New:       rt.newQ.Len(),
		Ready:     rt.ready.Len(),
		Waiting:   rt.waiting.Len(),
		Suspended: rt.susp.Len(),
		Dead:      rt.deadQ.Len(),
	}
}
