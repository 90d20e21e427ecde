//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly
// +build linux darwin netbsd freebsd openbsd dragonfly

package pth

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollInterest is one fd's requested readiness direction(s) for the
// next event-manager pass.
type pollInterest struct {
	fd          int
	read, write bool
}

// pollEvent reports which directions became ready on a watched fd.
type pollEvent struct {
	fd                 int
	readable, writable bool
}

// poller is the event manager's single "block the process" primitive:
// one poll(2) call across the union of every Waiting fiber's fd
// interest, rather than a per-fiber blocking syscall. Interest sets are
// rebuilt each cycle from the scheduler's Waiting list rather than kept
// incrementally via epoll/kqueue registration — appropriate for a
// cooperative single-thread scheduler, where the fd-set size tracks
// live fiber count rather than the tens-of-thousands gaio's own
// epoll/kqueue backends are tuned for.
type poller struct{}

func openPoll() (*poller, error) { return &poller{}, nil }

func (p *poller) Close() error { return nil }

// Wait blocks for up to timeout (negative means forever, zero means a
// non-blocking poll) across interest, returning the fds that became
// ready. With an empty interest set it sleeps for a positive timeout
// and otherwise returns at once.
func (p *poller) Wait(interest []pollInterest, timeout time.Duration) ([]pollEvent, error) {
	if len(interest) == 0 {
		if timeout > 0 {
			time.Sleep(timeout)
		}
		return nil, nil
	}

	fds := make([]unix.PollFd, len(interest))
	for i, in := range interest {
		var events int16
		if in.read {
			events |= unix.POLLIN
		}
		if in.write {
			events |= unix.POLLOUT
		}
		fds[i] = unix.PollFd{Fd: int32(in.fd), Events: events}
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
	}

	var n int
	var err error
	for {
		n, err = unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]pollEvent, 0, n)
	for _, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		out = append(out, pollEvent{
			fd:       int(pfd.Fd),
			readable: pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0,
			writable: pfd.Revents&(unix.POLLOUT|unix.POLLERR) != 0,
		})
	}
	return out, nil
}
