package pth

// Cond is a condition variable layered on the event system (spec
// §4.4). It keeps an explicit FIFO ring of waiting events so that
// Notify(false) always wakes the longest-waiting fiber first — a
// generation counter alone cannot express "wake exactly one in
// arrival order" so the cond drives its events directly rather than
// polling them.
type Cond struct {
	rt      *Runtime
	waiters Ring[*Event]
}

// NewCond creates a condition variable bound to rt.
func (rt *Runtime) NewCond() *Cond {
	return &Cond{rt: rt}
}

// Await is release(mutex); wait(Cond | ev); acquire(mutex), exactly as
// specified in §4.4.
func (c *Cond) Await(m *Mutex, ev *Event) error {
	if err := m.Release(); err != nil {
		return err
	}
	cev := NewCondEvent(c)
	ring := cev
	if ev != nil {
		ring = Concat(cev, ev)
	}
	trigger, err := c.rt.Wait(ring)
	interrupted := err == nil && trigger != nil && trigger != cev
	ReleaseEvent(cev)
	if acqErr := m.Acquire(false, nil); acqErr != nil && err == nil {
		err = acqErr
	}
	if err != nil {
		return err
	}
	if interrupted {
		return ErrInterrupted
	}
	return nil
}

// Notify wakes one (FIFO) or all fibers currently awaiting c.
func (c *Cond) Notify(broadcast bool) {
	if c.waiters.Len() == 0 {
		return
	}
	if broadcast {
		for c.waiters.Len() > 0 {
			n := c.waiters.Front()
			e := n.Value
			c.waiters.Remove(n)
			e.condNode = nil
			e.status = StatusOccurred
		}
	} else {
		n := c.waiters.Front()
		e := n.Value
		c.waiters.Remove(n)
		e.condNode = nil
		e.status = StatusOccurred
	}
	c.rt.kick()
}

// Waiters reports how many fibers currently await c.
func (c *Cond) Waiters() int { return c.waiters.Len() }
