package pth

import (
	"errors"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// Sentinel errors returned by the public API, unwrapped. Callers
// should compare with errors.Is; wrap (pkgerrors.Wrap) is used only
// where New reports a poller open failure.
var (
	ErrRuntimeClosed  = errors.New("pth: runtime closed")
	ErrUnsupported    = errors.New("pth: unsupported operand")
	ErrEmptyBuffer    = errors.New("pth: empty buffer")
	ErrDeadline       = errors.New("pth: deadline exceeded")
	ErrInvalidArg     = errors.New("pth: invalid argument")
	ErrNotOwner       = errors.New("pth: not mutex owner")
	ErrNoSuchFiber    = errors.New("pth: no such fiber")
	ErrNoSuchPort     = errors.New("pth: no such message port")
	ErrPortExists     = errors.New("pth: message port name already registered")
	ErrInterrupted    = errors.New("pth: interrupted by user event")
	ErrWouldBlock     = errors.New("pth: operation would block")
)

// asErrno extracts a syscall.Errno from err, if any.
func asErrno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}

func wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}
