package pth

import (
	"sync"
	"syscall"
	"time"
)

// EventType tags the payload a given Event carries.
type EventType int

const (
	EventFd EventType = iota
	EventSelect
	EventSigs
	EventTime
	EventMsg
	EventMutex
	EventCond
	EventTid
	EventFunc
)

// Status is the lifecycle of a single Event.
type Status int

const (
	StatusPending Status = iota
	StatusOccurred
	StatusFailed
)

// FdGoal distinguishes the readiness direction an Fd/Select event
// waits for.
type FdGoal int

const (
	FdReadable FdGoal = iota
	FdWritable
	FdException
)

// TidGoal is the fiber-state an Tid event waits for another fiber to
// reach.
type TidGoal int

const (
	TidReachedNew TidGoal = iota
	TidReachedReady
	TidReachedWaiting
	TidReachedSuspended
	TidReachedDead
)

func tidGoalFromState(s State) TidGoal {
	switch s {
	case StateNew:
		return TidReachedNew
	case StateReady:
		return TidReachedReady
	case StateWaiting:
		return TidReachedWaiting
	case StateSuspended:
		return TidReachedSuspended
	default:
		return TidReachedDead
	}
}

// Event is a typed, disjunctively composable unit a fiber can wait on.
// Events are linked into a circular ring via prev/next; a fiber
// awaiting the ring unblocks as soon as any member transitions to
// Occurred or Failed.
type Event struct {
	typ    EventType
	status Status
	owned  bool // set when allocated by NewXxxEvent/AcquireEvent; cleared for caller-STATIC storage

	prev, next *Event

	// Fd / Select payload
	fd        int
	fdGoal    FdGoal
	selReadFd []int
	selWriteFd []int
	selExceptFd []int
	selResult int

	// Sigs payload
	sigSet   map[syscall.Signal]struct{}
	sigFired syscall.Signal

	// Time payload
	deadline Time

	// Msg payload
	port *Port

	// Mutex payload
	mutex *Mutex

	// Cond payload
	cond     *Cond
	condNode *Node[*Event] // this event's position in cond.waiters, for FIFO notify

	// Tid payload
	tidTarget *Fiber
	tidGoal   TidGoal

	// Func payload
	pred         func(arg interface{}) bool
	predArg      interface{}
	pollInterval time.Duration
}

var eventPool = sync.Pool{New: func() interface{} { return new(Event) }}

// AcquireEvent implements REUSE mode: it recycles a pooled Event
// rather than allocating, mirroring gaio's aiocbPool. The returned
// event is a singleton ring with Pending status and no payload set.
func AcquireEvent() *Event {
	e := eventPool.Get().(*Event)
	*e = Event{owned: true}
	e.selfLink()
	return e
}

// ReleaseEvent returns e to the pool. Only library-owned events
// (allocated via NewXxxEvent/AcquireEvent) are recycled; caller-STATIC
// events are left untouched.
func ReleaseEvent(e *Event) {
	if e == nil || !e.owned {
		return
	}
	detachCondWaiter(e)
	Isolate(e)
	eventPool.Put(e)
}

func detachCondWaiter(e *Event) {
	if e.typ == EventCond && e.condNode != nil {
		e.cond.waiters.Remove(e.condNode)
		e.condNode = nil
	}
}

func (e *Event) selfLink() { e.prev, e.next = e, e }

func newEvent(chain []*Event) *Event {
	e := &Event{owned: true}
	e.selfLink()
	if len(chain) > 0 {
		Concat(append(chain, e)...)
	}
	return e
}

// NewFdEvent constructs an Fd event awaiting readiness of fd in the
// given direction, optionally CHAIN-linking it with existing events.
func NewFdEvent(fd int, goal FdGoal, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.fd, e.fdGoal = EventFd, fd, goal
	return e
}

// NewSelectEvent constructs a Select event over three fd sets.
func NewSelectEvent(rfds, wfds, efds []int, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.selReadFd, e.selWriteFd, e.selExceptFd = EventSelect, rfds, wfds, efds
	return e
}

// NewSigsEvent constructs a Sigs event over a signal set.
func NewSigsEvent(sigs []syscall.Signal, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ = EventSigs
	e.sigSet = make(map[syscall.Signal]struct{}, len(sigs))
	for _, s := range sigs {
		e.sigSet[s] = struct{}{}
	}
	return e
}

// NewTimeEvent constructs a Time event firing at the given absolute
// deadline.
func NewTimeEvent(deadline Time, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.deadline = EventTime, deadline
	return e
}

// NewMsgEvent constructs a Msg event, satisfied once port's queue is
// non-empty.
func NewMsgEvent(port *Port, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.port = EventMsg, port
	return e
}

// NewMutexEvent constructs a Mutex event, satisfied once m is free or
// owned by the caller.
func NewMutexEvent(m *Mutex, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.mutex = EventMutex, m
	return e
}

// NewCondEvent constructs a Cond event and registers it as a FIFO
// waiter on c; it becomes Occurred only when c.Notify selects it (no
// polling, no spurious wakeups).
func NewCondEvent(c *Cond, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.cond = EventCond, c
	e.condNode = c.waiters.PushBack(e)
	return e
}

// NewTidEvent constructs a Tid event, satisfied once target reaches
// goal.
func NewTidEvent(target *Fiber, goal TidGoal, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.tidTarget, e.tidGoal = EventTid, target, goal
	return e
}

// NewFuncEvent constructs a Func event, satisfied once pred(arg)
// returns true; polled at interval by the event manager.
func NewFuncEvent(pred func(arg interface{}) bool, arg interface{}, interval time.Duration, chain ...*Event) *Event {
	e := newEvent(chain)
	e.typ, e.pred, e.predArg, e.pollInterval = EventFunc, pred, arg, interval
	return e
}

// Concat links the rings of a, b, ... into a single circular ring
// (OR-composition) and returns one member of the resulting ring.
func Concat(events ...*Event) *Event {
	events = dedupNonNil(events)
	if len(events) == 0 {
		return nil
	}
	head := events[0]
	for _, e := range events[1:] {
		spliceRings(head, e)
	}
	return head
}

func dedupNonNil(in []*Event) []*Event {
	out := in[:0]
	for _, e := range in {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// spliceRings merges the ring containing b into the ring containing a.
func spliceRings(a, b *Event) {
	if a == b {
		return
	}
	aLast := a.prev
	bLast := b.prev
	aLast.next = b
	b.prev = aLast
	bLast.next = a
	a.prev = bLast
}

// Isolate removes e from its ring and returns a remaining member of
// that ring, or nil if e was the ring's only member.
func Isolate(e *Event) *Event {
	if e == nil {
		return nil
	}
	if e.next == e {
		return nil
	}
	rest := e.next
	e.prev.next = e.next
	e.next.prev = e.prev
	e.selfLink()
	return rest
}

// Direction selects which neighbor Walk returns.
type Direction int

const (
	Next Direction = iota
	Prev
)

// Walk returns e's neighbor in the given direction.
func Walk(e *Event, dir Direction) *Event {
	if e == nil {
		return nil
	}
	if dir == Next {
		return e.next
	}
	return e.prev
}

// EventStatus returns e's current status.
func EventStatus(e *Event) Status { return e.status }

// Kind returns e's type tag.
func (e *Event) Kind() EventType { return e.typ }

// FreeRing frees (returns to the pool) every library-owned event in
// e's ring, unlinking but not recycling caller-provided STATIC events.
func FreeRing(e *Event) {
	if e == nil {
		return
	}
	var members []*Event
	start := e
	cur := e
	for {
		members = append(members, cur)
		cur = cur.next
		if cur == start {
			break
		}
	}
	for _, m := range members {
		if m.owned {
			detachCondWaiter(m)
		}
		Isolate(m)
		if m.owned {
			eventPool.Put(m)
		}
	}
}

// ---- typed extraction ----

func (e *Event) FdValue() (fd int, goal FdGoal)         { return e.fd, e.fdGoal }
func (e *Event) SelectResult() (n int, r, w, x []int)   { return e.selResult, e.selReadFd, e.selWriteFd, e.selExceptFd }
func (e *Event) SigFired() syscall.Signal               { return e.sigFired }
func (e *Event) Deadline() Time                         { return e.deadline }
func (e *Event) Port() *Port                            { return e.port }
func (e *Event) MutexValue() *Mutex                     { return e.mutex }
func (e *Event) CondValue() *Cond                       { return e.cond }
func (e *Event) TidValue() (*Fiber, TidGoal)            { return e.tidTarget, e.tidGoal }

// checkImmediate evaluates events whose satisfaction depends only on
// in-process object state (Mutex/Cond/Msg/Tid/Func), setting status to
// Occurred when satisfied. Fd/Select/Sigs/Time are resolved by the
// event manager against poller/timer results instead (see
// scheduler.go).
func (e *Event) checkImmediate(self *Fiber) bool {
	switch e.typ {
	case EventMutex:
		if e.mutex.owner == nil || e.mutex.owner == self {
			e.status = StatusOccurred
			return true
		}
	case EventCond:
		// Cond satisfaction is pushed by Cond.Notify directly (FIFO
		// selection), never polled here; this case only reports state
		// already flipped.
		return e.status == StatusOccurred
	case EventMsg:
		if e.port.queue.Len() > 0 {
			e.status = StatusOccurred
			return true
		}
	case EventTid:
		if e.tidTarget.state == stateFromGoal(e.tidGoal) || (e.tidGoal == TidReachedDead && e.tidTarget.state == StateDead) {
			e.status = StatusOccurred
			return true
		}
	case EventFunc:
		if e.pred(e.predArg) {
			e.status = StatusOccurred
			return true
		}
	}
	return false
}

func stateFromGoal(g TidGoal) State {
	switch g {
	case TidReachedNew:
		return StateNew
	case TidReachedReady:
		return StateReady
	case TidReachedWaiting:
		return StateWaiting
	case TidReachedSuspended:
		return StateSuspended
	default:
		return StateDead
	}
}
