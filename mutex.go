package pth

// Mutex is a recursive mutex layered on the event system. It holds
// the owning fiber, a recursion counter, and a ring node
// linking it into the owner's held-mutex ring so termination can
// force-release it.
type Mutex struct {
	rt    *Runtime
	owner *Fiber
	count int
	node  *Node[*Mutex] // position in owner.mutexRing
}

// NewMutex creates an unlocked recursive mutex bound to rt.
func (rt *Runtime) NewMutex() *Mutex {
	return &Mutex{rt: rt}
}

// Acquire locks m. If m is already held by the calling fiber it simply
// increments the recursion count. If try is true, Acquire returns
// immediately with ErrInterrupted-free ErrNotOwner-free failure
// (EWOULDBLOCK-equivalent) instead of blocking. ev, if non-nil, is
// OR-composed with the internal Mutex event so a caller-supplied
// timeout/cancellation event can interrupt the wait; in that case
// Acquire returns ErrInterrupted without the mutex held.
func (m *Mutex) Acquire(try bool, ev *Event) error {
	self := m.rt.Current()
	for {
		if m.owner == nil || m.owner == self {
			m.lockOnto(self)
			return nil
		}
		if try {
			return ErrWouldBlock
		}

		mev := NewMutexEvent(m)
		ring := mev
		if ev != nil {
			ring = Concat(mev, ev)
		}
		trigger, err := m.rt.Wait(ring)
		if err != nil {
			ReleaseEvent(mev)
			return err
		}
		interrupted := trigger != nil && trigger != mev
		ReleaseEvent(mev)
		if interrupted {
			return ErrInterrupted
		}
		// mutex event fired (or ev==nil and only mev existed): retry,
		// since the mutex may have been grabbed by someone else first.
	}
}

func (m *Mutex) lockOnto(self *Fiber) {
	m.owner = self
	m.count++
	if m.count == 1 {
		m.node = self.mutexRing.PushBack(m)
	}
}

// Release unlocks one recursion level. On reaching zero it clears
// ownership and wakes waiters via the scheduler's event re-scan. It is
// an error (ErrNotOwner) to release a mutex the calling fiber does not
// own.
func (m *Mutex) Release() error {
	self := m.rt.Current()
	if m.owner != self {
		return ErrNotOwner
	}
	m.count--
	if m.count == 0 {
		self.mutexRing.Remove(m.node)
		m.node = nil
		m.owner = nil
		m.rt.kick()
	}
	return nil
}

// forceRelease unconditionally drops ownership held by dying, used by
// Fiber.releaseHeldMutexes on termination: any mutex held by a
// terminating fiber is released before any other fiber runs.
func (m *Mutex) forceRelease(dying *Fiber) {
	if m.owner != dying {
		return
	}
	dying.mutexRing.Remove(m.node)
	m.node = nil
	m.owner = nil
	m.count = 0
	m.rt.kick()
}

// Owner reports the fiber currently holding m, or nil if free.
func (m *Mutex) Owner() *Fiber { return m.owner }
