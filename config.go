package pth

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the runtime's tunables, set via functional Options
// passed to New — the ambient configuration surface described in
// SPEC_FULL.md (no external config file format; this is a library).
type Config struct {
	stackSize        int
	favourNew        bool
	loadAverageWindow time.Duration
	pollTimeout      time.Duration
	logger           zerolog.Logger
}

// Option configures a Runtime at construction time.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		stackSize:         defaultStackHint,
		favourNew:         false,
		loadAverageWindow: time.Second,
		pollTimeout:       5 * time.Second,
		logger:            zerolog.New(io.Discard),
	}
}

// defaultStackHint is informational only: Go goroutines grow their own
// stacks, so this value is kept in the Config and used to size
// nothing; no Fiber accessor reports it.
const defaultStackHint = 64 * 1024

// WithStackSize sets the informational per-fiber stack-size hint kept
// in the Config. Nothing sizes a stack from it and no Fiber accessor
// reports it.
func WithStackSize(n int) Option {
	return func(c *Config) { c.stackSize = n }
}

// WithFavourNew toggles the "promote one New fiber per dispatch even
// when Ready is non-empty" scheduling policy.
func WithFavourNew(favour bool) Option {
	return func(c *Config) { c.favourNew = favour }
}

// WithLoadAverageWindow sets the smoothing window (tau, default ~1s)
// for Ctrl(CtrlAvLoad).
func WithLoadAverageWindow(d time.Duration) Option {
	return func(c *Config) { c.loadAverageWindow = d }
}

// WithPollTimeout bounds how long the event manager will wait with no
// Time event pending, so Ctrl stats and shutdown stay responsive.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) { c.pollTimeout = d }
}

// WithLogger wires a zerolog.Logger for scheduler lifecycle messages.
// The default is a discard logger, so the library is silent unless a
// caller opts in.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) { c.logger = l }
}
