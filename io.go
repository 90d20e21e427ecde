package pth

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Fdmode puts fd into (or out of) non-blocking mode, the precondition
// every wrapper in this file relies on: a blocking syscall on a fiber
// would block the entire process, since every fiber shares one OS
// thread's worth of cooperative scheduling. It returns the fd's prior
// non-blocking state so a caller can restore it once done, mirroring
// pth's "remember original mode, restore on error" contract.
func Fdmode(fd int, nonblock bool) (prevNonblock bool, err error) {
	flags, err := unix.FcntlInt(uintptr(fd), syscall.F_GETFL, 0)
	if err != nil {
		return false, err
	}
	prevNonblock = flags&unix.O_NONBLOCK != 0
	if err := unix.SetNonblock(fd, nonblock); err != nil {
		return prevNonblock, err
	}
	return prevNonblock, nil
}

// ioRetry is the shared shape of every wrapper below: attempt a
// non-blocking syscall, and on EAGAIN/EWOULDBLOCK construct an Fd
// event for the given direction, wait on it (OR-composed with an
// optional caller deadline/cancellation ring), and retry. This is the
// fiber-safe rendition of pth_read/pth_write's "attempt, then
// pth_wait" loop.
func (rt *Runtime) ioRetry(fd int, goal FdGoal, ev *Event, attempt func() (int, error)) (int, error) {
	self := rt.current
	prev, err := Fdmode(fd, true)
	if err != nil {
		return 0, err
	}
	defer func() { _, _ = Fdmode(fd, prev) }()
	for {
		n, err := attempt()
		if err == nil {
			return n, nil
		}
		if err != syscall.EAGAIN && err != syscall.EWOULDBLOCK {
			self.lastErrno, _ = asErrno(err)
			return n, err
		}
		fev := NewFdEvent(fd, goal)
		ring := fev
		if ev != nil {
			ring = Concat(fev, ev)
		}
		trigger, werr := rt.Wait(ring)
		interrupted := werr == nil && trigger != nil && trigger != fev
		ReleaseEvent(fev)
		if werr != nil {
			return 0, werr
		}
		if interrupted {
			return 0, ErrInterrupted
		}
	}
}

// Read performs a fiber-safe read(2), blocking the calling fiber (not
// the process) until fd is readable.
func (rt *Runtime) Read(fd int, p []byte, ev *Event) (int, error) {
	if len(p) == 0 {
		return 0, ErrEmptyBuffer
	}
	return rt.ioRetry(fd, FdReadable, ev, func() (int, error) {
		return syscall.Read(fd, p)
	})
}

// Write performs a fiber-safe write(2).
func (rt *Runtime) Write(fd int, p []byte, ev *Event) (int, error) {
	return rt.ioRetry(fd, FdWritable, ev, func() (int, error) {
		return syscall.Write(fd, p)
	})
}

// Pread/Pwrite are the positional variants, rounding out the full I/O
// surface: read/write/readv/writev/pread/pwrite.
func (rt *Runtime) Pread(fd int, p []byte, off int64, ev *Event) (int, error) {
	return rt.ioRetry(fd, FdReadable, ev, func() (int, error) {
		return syscall.Pread(fd, p, off)
	})
}

func (rt *Runtime) Pwrite(fd int, p []byte, off int64, ev *Event) (int, error) {
	return rt.ioRetry(fd, FdWritable, ev, func() (int, error) {
		return syscall.Pwrite(fd, p, off)
	})
}

// Readv/Writev vector I/O, implemented over syscall.Read/Write per
// buffer since golang.org/x/sys/unix's Iovec plumbing adds no fiber-
// safety this wrapper doesn't already provide.
func (rt *Runtime) Readv(fd int, bufs [][]byte, ev *Event) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := rt.Read(fd, b, ev)
		total += n
		if err != nil {
			return total, err
		}
		if n < len(b) {
			break
		}
	}
	return total, nil
}

func (rt *Runtime) Writev(fd int, bufs [][]byte, ev *Event) (int, error) {
	total := 0
	for _, b := range bufs {
		n, err := rt.Write(fd, b, ev)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Recv/Send/RecvFrom/SendTo are the socket-oriented counterparts.
func (rt *Runtime) Recv(fd int, p []byte, flags int, ev *Event) (int, error) {
	return rt.ioRetry(fd, FdReadable, ev, func() (int, error) {
		return syscall.Read(fd, p) // flags ignored: plain recv(fd,...,0) == read(2)
	})
}

func (rt *Runtime) Send(fd int, p []byte, flags int, ev *Event) (int, error) {
	return rt.ioRetry(fd, FdWritable, ev, func() (int, error) {
		return syscall.Write(fd, p)
	})
}

func (rt *Runtime) RecvFrom(fd int, p []byte, ev *Event) (int, unix.Sockaddr, error) {
	self := rt.current
	prev, err := Fdmode(fd, true)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _, _ = Fdmode(fd, prev) }()
	for {
		n, from, err := unix.Recvfrom(fd, p, 0)
		if err == nil {
			return n, from, nil
		}
		if err != syscall.EAGAIN && err != syscall.EWOULDBLOCK {
			self.lastErrno, _ = asErrno(err)
			return n, from, err
		}
		fev := NewFdEvent(fd, FdReadable)
		ring := fev
		if ev != nil {
			ring = Concat(fev, ev)
		}
		trigger, werr := rt.Wait(ring)
		interrupted := werr == nil && trigger != nil && trigger != fev
		ReleaseEvent(fev)
		if werr != nil {
			return 0, nil, werr
		}
		if interrupted {
			return 0, nil, ErrInterrupted
		}
	}
}

func (rt *Runtime) SendTo(fd int, p []byte, to unix.Sockaddr, ev *Event) error {
	_, err := rt.ioRetry(fd, FdWritable, ev, func() (int, error) {
		return 0, unix.Sendto(fd, p, 0, to)
	})
	return err
}

// Accept performs a fiber-safe accept(2).
func (rt *Runtime) Accept(fd int, ev *Event) (int, unix.Sockaddr, error) {
	self := rt.current
	prev, err := Fdmode(fd, true)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _, _ = Fdmode(fd, prev) }()
	for {
		nfd, sa, err := unix.Accept(fd)
		if err == nil {
			return nfd, sa, nil
		}
		if err != syscall.EAGAIN && err != syscall.EWOULDBLOCK {
			self.lastErrno, _ = asErrno(err)
			return 0, nil, err
		}
		fev := NewFdEvent(fd, FdReadable)
		ring := fev
		if ev != nil {
			ring = Concat(fev, ev)
		}
		trigger, werr := rt.Wait(ring)
		interrupted := werr == nil && trigger != nil && trigger != fev
		ReleaseEvent(fev)
		if werr != nil {
			return 0, nil, werr
		}
		if interrupted {
			return 0, nil, ErrInterrupted
		}
	}
}

// Connect performs a fiber-safe connect(2): non-blocking connect,
// waiting for writability to learn the outcome.
func (rt *Runtime) Connect(fd int, sa unix.Sockaddr, ev *Event) error {
	prev, err := Fdmode(fd, true)
	if err != nil {
		return err
	}
	defer func() { _, _ = Fdmode(fd, prev) }()
	cerr := unix.Connect(fd, sa)
	if cerr == nil {
		return nil
	}
	if cerr != syscall.EINPROGRESS && cerr != syscall.EAGAIN {
		return cerr
	}
	fev := NewFdEvent(fd, FdWritable)
	ring := fev
	if ev != nil {
		ring = Concat(fev, ev)
	}
	trigger, werr := rt.Wait(ring)
	interrupted := werr == nil && trigger != nil && trigger != fev
	ReleaseEvent(fev)
	if werr != nil {
		return werr
	}
	if interrupted {
		return ErrInterrupted
	}
	soerr, gerr := syscall.GetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_ERROR)
	if gerr != nil {
		return gerr
	}
	if soerr != 0 {
		return syscall.Errno(soerr)
	}
	return nil
}

// Select waits until any fd in rfds/wfds/efds is ready, or the
// optional deadline elapses, mirroring pth_select. A negative deadline
// waits forever.
func (rt *Runtime) Select(rfds, wfds, efds []int, deadline time.Duration) (*Event, error) {
	sev := NewSelectEvent(rfds, wfds, efds)
	ring := sev
	var tev *Event
	if deadline >= 0 {
		tev = NewTimeEvent(Now().Add(deadline))
		ring = Concat(sev, tev)
	}
	trigger, err := rt.Wait(ring)
	ReleaseEvent(sev)
	if tev != nil {
		ReleaseEvent(tev)
	}
	return trigger, err
}

// Poll is Select's single-fd convenience form.
func (rt *Runtime) Poll(fd int, goal FdGoal, deadline time.Duration) error {
	fev := NewFdEvent(fd, goal)
	ring := fev
	var tev *Event
	if deadline >= 0 {
		tev = NewTimeEvent(Now().Add(deadline))
		ring = Concat(fev, tev)
	}
	trigger, err := rt.Wait(ring)
	timedOut := err == nil && trigger != nil && trigger == tev
	ReleaseEvent(fev)
	if tev != nil {
		ReleaseEvent(tev)
	}
	if err != nil {
		return err
	}
	if timedOut {
		return ErrDeadline
	}
	return nil
}

// SigWait blocks the calling fiber until one of sigs is delivered to
// the process or raised to the fiber, returning which one fired,
// mirroring pth_sigwait. A signal already queued for the fiber by Raise
// is returned at once without waiting.
func (rt *Runtime) SigWait(sigs ...syscall.Signal) (syscall.Signal, error) {
	self := rt.current
	for _, s := range sigs {
		if _, ok := self.pendingSignals[s]; ok {
			delete(self.pendingSignals, s)
			return s, nil
		}
	}
	sev := NewSigsEvent(sigs)
	trigger, err := rt.Wait(sev)
	ReleaseEvent(sev)
	if err != nil {
		return 0, err
	}
	sig := trigger.SigFired()
	delete(self.pendingSignals, sig)
	return sig, nil
}

// Waitpid is a fiber-safe waitpid(2), polling via a Func event rather
// than blocking the process: there is no readiness fd for process
// exit on POSIX without a SIGCHLD self-pipe, and a short poll interval
// is the same approach pth_waitpid documents taking when WNOHANG
// support is what the platform gives you.
func (rt *Runtime) Waitpid(pid int, options int) (wpid int, status syscall.WaitStatus, err error) {
	const pollInterval = 20 * time.Millisecond
	pred := func(arg interface{}) bool {
		p, serr := syscall.Wait4(pid, &status, options|syscall.WNOHANG, nil)
		if serr != nil {
			err = serr
			return true
		}
		if p == 0 {
			return false
		}
		wpid = p
		return true
	}
	fev := NewFuncEvent(pred, nil, pollInterval)
	_, werr := rt.Wait(fev)
	ReleaseEvent(fev)
	if werr != nil {
		return 0, status, werr
	}
	return wpid, status, err
}

// System runs name with args to completion without blocking the
// runtime's other fibers, by spawning it and polling its exit via
// Waitpid — the Go-safe analogue of pth_system's fork+exec+waitpid,
// using syscall.ForkExec instead of a raw fork from a
// multi-goroutine process (see fork_unix.go's caveat on Fork itself).
func (rt *Runtime) System(path string, argv []string, envv []string) (syscall.WaitStatus, error) {
	pid, err := syscall.ForkExec(path, argv, &syscall.ProcAttr{Env: envv, Files: []uintptr{0, 1, 2}})
	if err != nil {
		return 0, err
	}
	_, status, err := rt.Waitpid(pid, 0)
	return status, err
}

// ReadLine reads up to delim (inclusive) or len(buf) bytes, whichever
// comes first, blocking fiber-safely, mirroring pth_readline.
func (rt *Runtime) ReadLine(fd int, buf []byte, delim byte, ev *Event) (int, error) {
	n := 0
	for n < len(buf) {
		b := buf[n : n+1]
		r, err := rt.Read(fd, b, ev)
		if err != nil {
			return n, err
		}
		if r == 0 {
			return n, nil
		}
		n++
		if b[0] == delim {
			return n, nil
		}
	}
	return n, nil
}

// sockaddrFromTCP bridges net.TCPAddr for callers that want
// Accept/Connect without hand-rolling unix.Sockaddr.
func sockaddrFromTCP(addr *net.TCPAddr) unix.Sockaddr {
	ip4 := addr.IP.To4()
	if ip4 != nil {
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], ip4)
		sa.Port = addr.Port
		return &sa
	}
	var sa unix.SockaddrInet6
	copy(sa.Addr[:], addr.IP.To16())
	sa.Port = addr.Port
	return &sa
}
