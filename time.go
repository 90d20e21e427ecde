package pth

import "time"

// Time is a thin wrapper around time.Time giving the explicit
// add/sub/cmp vocabulary the original pth_time arithmetic (see
// original_source/src/pth_p.h) exposes, kept here for parity even
// though time.Time alone could serve every call site.
type Time struct {
	t time.Time
}

// zeroTime is the sentinel "no deadline" value, mirroring gaio's
// zeroTime usage for untimed aiocb entries.
var zeroTime Time

// Now returns the current time.
func Now() Time { return Time{t: time.Now()} }

// Add returns t+d.
func (t Time) Add(d time.Duration) Time { return Time{t: t.t.Add(d)} }

// Sub returns the duration t-u.
func (t Time) Sub(u Time) time.Duration { return t.t.Sub(u.t) }

// Cmp returns -1, 0 or 1 as t is before, equal to, or after u.
func (t Time) Cmp(u Time) int {
	switch {
	case t.t.Before(u.t):
		return -1
	case t.t.After(u.t):
		return 1
	default:
		return 0
	}
}

// Before reports whether t occurs before u.
func (t Time) Before(u Time) bool { return t.t.Before(u.t) }

// IsZero reports whether t is the zero value, i.e. "no deadline".
func (t Time) IsZero() bool { return t.t.IsZero() }

// Std returns the underlying time.Time.
func (t Time) Std() time.Time { return t.t }

// FromStd wraps a time.Time.
func FromStd(std time.Time) Time { return Time{t: std} }
