package pth

// RWLock is a read-write lock with a waiter ring: any queued writer
// blocks every reader that has not yet acquired, preventing writer
// starvation. Waiters are not granted the lock in strict arrival
// order: readers queued ahead of a writer also wait for it, and
// writers woken together race for the lock.
type RWLock struct {
	mu      *Mutex
	cond    *Cond
	readers int
	writer  bool
	queue   Ring[*rwWaiter]
}

type rwWaiter struct {
	write bool
}

// NewRWLock creates a free read-write lock bound to rt.
func (rt *Runtime) NewRWLock() *RWLock {
	return &RWLock{mu: rt.NewMutex(), cond: rt.NewCond()}
}

func (rw *RWLock) hasQueuedWriter() bool {
	found := false
	rw.queue.Walk(func(n *Node[*rwWaiter]) bool {
		if n.Value.write {
			found = true
			return false
		}
		return true
	})
	return found
}

// RLock acquires a shared lock, optionally interruptible by ev.
func (rw *RWLock) RLock(ev *Event) error {
	if err := rw.mu.Acquire(false, nil); err != nil {
		return err
	}
	w := &rwWaiter{write: false}
	node := rw.queue.PushBack(w)
	for rw.writer || rw.hasQueuedWriter() {
		if err := rw.cond.Await(rw.mu, ev); err != nil {
			rw.queue.Remove(node)
			return err
		}
	}
	rw.queue.Remove(node)
	rw.readers++
	return rw.mu.Release()
}

// RUnlock releases a shared lock.
func (rw *RWLock) RUnlock() error {
	if err := rw.mu.Acquire(false, nil); err != nil {
		return err
	}
	rw.readers--
	rw.cond.Notify(true)
	return rw.mu.Release()
}

// Lock acquires an exclusive lock, optionally interruptible by ev.
func (rw *RWLock) Lock(ev *Event) error {
	if err := rw.mu.Acquire(false, nil); err != nil {
		return err
	}
	w := &rwWaiter{write: true}
	node := rw.queue.PushBack(w)
	for rw.writer || rw.readers > 0 {
		if err := rw.cond.Await(rw.mu, ev); err != nil {
			rw.queue.Remove(node)
			return err
		}
	}
	rw.queue.Remove(node)
	rw.writer = true
	return rw.mu.Release()
}

// Unlock releases an exclusive lock.
func (rw *RWLock) Unlock() error {
	if err := rw.mu.Acquire(false, nil); err != nil {
		return err
	}
	rw.writer = false
	rw.cond.Notify(true)
	return rw.mu.Release()
}
