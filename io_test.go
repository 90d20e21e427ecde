package pth_test

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/xtaci/pth"
)

func TestSelectPipeWait(t *testing.T) {
	rt := newTestRuntime(t)

	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])
	r, w := fds[0], fds[1]

	writer := rt.Spawn("writer", pth.PrioMax-1, true, func(self *pth.Fiber) interface{} {
		if err := rt.Sleep(50 * time.Millisecond); err != nil {
			return err
		}
		_, err := rt.Write(w, []byte("ABC\n"), nil)
		return err
	}, nil)

	trigger, err := rt.Select([]int{r}, nil, nil, 10*time.Second)
	require.NoError(t, err)
	require.NotNil(t, trigger)

	buf := make([]byte, 4)
	n, err := rt.Read(r, buf, nil)
	require.NoError(t, err)
	require.Equal(t, "ABC\n", string(buf[:n]))

	werr, err := rt.Join(writer)
	require.NoError(t, err)
	require.Nil(t, werr)
}

func TestAcceptConnectRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)

	lfd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer syscall.Close(lfd)
	require.NoError(t, syscall.Bind(lfd, &syscall.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, syscall.Listen(lfd, 1))
	sa, err := syscall.Getsockname(lfd)
	require.NoError(t, err)
	port := sa.(*syscall.SockaddrInet4).Port

	const payload = "the quick brown fox"
	require.Equal(t, 19, len(payload))

	server := rt.Spawn("server", pth.PrioMax-1, true, func(self *pth.Fiber) interface{} {
		cfd, _, err := rt.Accept(lfd, nil)
		if err != nil {
			return err
		}
		defer syscall.Close(cfd)
		buf := make([]byte, len(payload))
		total := 0
		for total < len(buf) {
			n, err := rt.Read(cfd, buf[total:], nil)
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			total += n
		}
		return string(buf[:total])
	}, nil)

	client := rt.Spawn("client", pth.PrioMax-1, true, func(self *pth.Fiber) interface{} {
		cfd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
		if err != nil {
			return err
		}
		defer syscall.Close(cfd)
		dst := &unix.SockaddrInet4{Port: port, Addr: [4]byte{127, 0, 0, 1}}
		if err := rt.Connect(cfd, dst, nil); err != nil {
			return err
		}
		_, err = rt.Write(cfd, []byte(payload), nil)
		return err
	}, nil)

	cres, err := rt.Join(client)
	require.NoError(t, err)
	require.Nil(t, cres)

	sres, err := rt.Join(server)
	require.NoError(t, err)
	require.Equal(t, payload, sres)
}

func TestEventConcatTimeout(t *testing.T) {
	rt := newTestRuntime(t)

	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	defer syscall.Close(fds[0])
	defer syscall.Close(fds[1])
	r, w := fds[0], fds[1]
	_ = w // never written to: the fd leg must stay Pending for the whole test

	fdEv := pth.NewFdEvent(r, pth.FdReadable)
	timeEv := pth.NewTimeEvent(pth.Now().Add(100 * time.Millisecond))
	ring := pth.Concat(fdEv, timeEv)

	trigger, err := rt.Wait(ring)
	require.NoError(t, err)
	require.Same(t, timeEv, trigger)
	require.Equal(t, pth.StatusOccurred, pth.EventStatus(timeEv))
	require.Equal(t, pth.StatusPending, pth.EventStatus(fdEv))

	pth.ReleaseEvent(fdEv)
}
