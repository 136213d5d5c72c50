package store

import (
	"log/slog"
	"time"

	"github.com/agentic-research/simpledb/internal/coalesce"
)

// Option adjusts how Open wires a store.
type Option func(*options)

type options struct {
	delay  time.Duration
	clock  coalesce.Clock
	logger *slog.Logger
}

// WithFlushDelay overrides the configured coalescing window.
func WithFlushDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithoutCoalescing writes every mutation through before returning.
func WithoutCoalescing() Option { return WithFlushDelay(0) }

// WithClock replaces the timer source of the coalescer.
func WithClock(c coalesce.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
