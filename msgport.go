package pth

// Message is an envelope passed through a Port, carrying an embedded
// reply port for reply chains.
type Message struct {
	Body  interface{}
	Reply *Port
}

// Port is a named mailbox with an owning fiber and a message ring.
// Ports register in the runtime's process-wide name->port registry;
// FindPort returns the first match.
type Port struct {
	rt    *Runtime
	Name  string
	Owner *Fiber
	queue Ring[*Message]
}

// CreatePort registers a new named port owned by the calling fiber.
// An empty name creates an anonymous, unregistered port (useful as a
// message's embedded reply port).
func (rt *Runtime) CreatePort(name string) (*Port, error) {
	if name != "" {
		if _, ok := rt.ports[name]; ok {
			return nil, ErrPortExists
		}
	}
	p := &Port{rt: rt, Name: name, Owner: rt.Current()}
	if name != "" {
		rt.ports[name] = p
	}
	return p, nil
}

// FindPort looks up a registered port by name.
func (rt *Runtime) FindPort(name string) (*Port, error) {
	p, ok := rt.ports[name]
	if !ok {
		return nil, ErrNoSuchPort
	}
	return p, nil
}

// DestroyPort unregisters p.
func (rt *Runtime) DestroyPort(p *Port) {
	if p.Name != "" {
		delete(rt.ports, p.Name)
	}
}

// Put enqueues msg on p, waking any fiber waiting in Get.
func (p *Port) Put(msg *Message) {
	p.queue.PushBack(msg)
	p.rt.kick()
}

// Pending reports how many messages are queued on p.
func (p *Port) Pending() int { return p.queue.Len() }

// Get dequeues the head message, waiting on a Msg event if p is empty.
// ev, if non-nil, is OR-composed so a timeout/cancellation can
// interrupt the wait.
func (p *Port) Get(ev *Event) (*Message, error) {
	for {
		if p.queue.Len() > 0 {
			n := p.queue.Front()
			msg := n.Value
			p.queue.Remove(n)
			return msg, nil
		}
		mev := NewMsgEvent(p)
		ring := mev
		if ev != nil {
			ring = Concat(mev, ev)
		}
		trigger, err := p.rt.Wait(ring)
		interrupted := err == nil && trigger != nil && trigger != mev
		ReleaseEvent(mev)
		if err != nil {
			return nil, err
		}
		if interrupted {
			return nil, ErrInterrupted
		}
		// loop: someone else may have drained the message first
	}
}

// ReplyTo enqueues a new message carrying body onto msg's embedded
// reply port, returning ErrNoSuchPort if msg has none.
func (msg *Message) ReplyTo(body interface{}) error {
	if msg.Reply == nil {
		return ErrNoSuchPort
	}
	msg.Reply.Put(&Message{Body: body})
	return nil
}
