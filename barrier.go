package pth

// BarrierRole distinguishes the first-to-reach (Headlight),
// last-to-reach (Taillight), and middle (Nop) arrivals at a Barrier,
// for the caller's diagnostics.
type BarrierRole int

const (
	BarrierNop BarrierRole = iota
	BarrierHeadlight
	BarrierTaillight
)

// Barrier synchronizes exactly N fibers per generation.
type Barrier struct {
	rt         *Runtime
	mu         *Mutex
	cond       *Cond
	n          int
	arrived    int
	generation int
}

// NewBarrier creates a barrier requiring n arrivals per generation.
func (rt *Runtime) NewBarrier(n int) *Barrier {
	return &Barrier{rt: rt, mu: rt.NewMutex(), cond: rt.NewCond(), n: n}
}

// Reach blocks until N fibers have called Reach in the current
// generation, then returns this arrival's role.
func (b *Barrier) Reach() (BarrierRole, error) {
	if err := b.mu.Acquire(false, nil); err != nil {
		return BarrierNop, err
	}
	b.arrived++
	headlight := b.arrived == 1

	if b.arrived == b.n {
		b.arrived = 0
		b.generation++
		b.cond.Notify(true)
		if err := b.mu.Release(); err != nil {
			return BarrierNop, err
		}
		return BarrierTaillight, nil
	}

	myGen := b.generation
	for b.generation == myGen {
		if err := b.cond.Await(b.mu, nil); err != nil {
			return BarrierNop, err
		}
	}
	if err := b.mu.Release(); err != nil {
		return BarrierNop, err
	}
	if headlight {
		return BarrierHeadlight, nil
	}
	return BarrierNop, nil
}
