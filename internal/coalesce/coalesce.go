// Package coalesce batches root-key mutations in memory and writes them to a
// backend in one Apply, debounced on a timer.
//
// Set and Delete are visible to Get and All immediately. The first mutation
// after a flush arms a single timer; when it fires every pending change is
// replayed in order. A failed flush keeps the pending list so the next flush
// retries it, which makes delivery at-least-once.
package coalesce

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/metrics"
	"github.com/agentic-research/simpledb/internal/value"
)

// DefaultDelay is the debounce window used when none is configured.
const DefaultDelay = 10 * time.Millisecond

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("coalescer closed")

// State summarizes the pending-change list.
type State int

const (
	Clean State = iota
	Dirty
	FlushScheduled
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	case FlushScheduled:
		return "flush-scheduled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// pendingChange is one entry of the replay log. Update entries carry no
// value; the overlay's value at flush time is written.
type pendingChange struct {
	Key  string
	Kind backend.Kind
}

// Coalescer decorates a backend with a write-behind overlay.
type Coalescer struct {
	backend backend.Backend
	clock   Clock
	delay   time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	overlay map[string]any      // latest value of every key with a pending update
	deleted map[string]struct{} // keys whose latest pending change is a delete
	pending []pendingChange
	timer   Timer
	gen     uint64 // bumped whenever the armed timer is replaced or cancelled
	closed  bool
	lastErr error
}

// New wraps b. A delay of zero or less writes every change through
// synchronously. A nil clock uses the real clock and a nil logger uses
// slog.Default().
func New(b backend.Backend, delay time.Duration, clock Clock, logger *slog.Logger) *Coalescer {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coalescer{
		backend: b,
		clock:   clock,
		delay:   delay,
		logger:  logger,
		overlay: make(map[string]any),
		deleted: make(map[string]struct{}),
	}
}

// Get returns the latest value of key, pending or durable.
func (c *Coalescer) Get(key string) (any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deleted[key]; ok {
		return nil, false, nil
	}
	if v, ok := c.overlay[key]; ok {
		return value.Clone(v), true, nil
	}
	return c.backend.Get(key)
}

// All returns the durable data with pending changes applied.
func (c *Coalescer) All() (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	all, err := c.backend.All()
	if err != nil {
		return nil, err
	}
	if all == nil {
		all = make(map[string]any)
	}
	for k := range c.deleted {
		delete(all, k)
	}
	for k, v := range c.overlay {
		all[k] = value.Clone(v)
	}
	return all, nil
}

// Set records v as the new value of key.
func (c *Coalescer) Set(key string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.overlay[key] = value.Clone(v)
	delete(c.deleted, key)
	c.pending = append(c.pending, pendingChange{Key: key, Kind: backend.ChangeUpdate})
	return c.afterMutationLocked()
}

// Delete records the removal of key.
func (c *Coalescer) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	delete(c.overlay, key)
	c.deleted[key] = struct{}{}
	c.pending = append(c.pending, pendingChange{Key: key, Kind: backend.ChangeDelete})
	return c.afterMutationLocked()
}

// Clear drops every pending change and clears the backend.
func (c *Coalescer) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cancelLocked()
	c.pending = nil
	c.overlay = make(map[string]any)
	c.deleted = make(map[string]struct{})
	return c.backend.Clear()
}

func (c *Coalescer) afterMutationLocked() error {
	if c.delay <= 0 {
		return c.flushLocked()
	}
	c.scheduleLocked()
	return nil
}

// ScheduleFlush arms the debounce timer unless one is armed already or the
// coalescer is closed.
func (c *Coalescer) ScheduleFlush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduleLocked()
}

func (c *Coalescer) scheduleLocked() {
	if c.closed || c.timer != nil {
		return
	}
	c.gen++
	gen := c.gen
	c.timer = c.clock.AfterFunc(c.delay, func() { c.onTimer(gen) })
}

func (c *Coalescer) onTimer(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return // superseded by FlushNow, Cancel or Close
	}
	c.timer = nil
	c.lastErr = c.flushLocked()
}

// FlushNow writes all pending changes synchronously.
func (c *Coalescer) FlushNow() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

// Cancel disarms the timer without flushing. Pending changes stay queued.
func (c *Coalescer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
}

func (c *Coalescer) cancelLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

// flushLocked replays the pending list in one Apply. Malformed entries are
// dropped and reported; the rest stay queued if the backend fails.
func (c *Coalescer) flushLocked() error {
	c.cancelLocked()
	if len(c.pending) == 0 {
		return nil
	}

	var (
		changes   []backend.Change
		kept      []pendingChange
		malformed []error
	)
	for _, p := range c.pending {
		ch := backend.Change{Key: p.Key, Kind: p.Kind}
		if err := ch.Validate(); err != nil {
			metrics.MalformedChanges.Inc()
			c.logger.Error("dropping malformed pending change", "key", p.Key, "kind", p.Kind.String(), "err", err)
			malformed = append(malformed, err)
			continue
		}
		kept = append(kept, p)
		if p.Kind == backend.ChangeUpdate {
			v, ok := c.overlay[p.Key]
			if !ok {
				// Deleted since; the later delete entry covers it.
				continue
			}
			ch.Value = v
		}
		changes = append(changes, ch)
	}
	c.pending = kept

	start := time.Now()
	err := c.backend.Apply(changes)
	metrics.ObserveFlush(start, len(changes), err)
	if err != nil {
		c.logger.Warn("flush failed; changes kept for retry", "pending", len(c.pending), "err", err)
		return errors.Join(append(malformed, fmt.Errorf("flush %d changes: %w", len(changes), err))...)
	}

	c.logger.Debug("flushed", "changes", len(changes))
	c.pending = nil
	c.overlay = make(map[string]any)
	c.deleted = make(map[string]struct{})
	return errors.Join(malformed...)
}

// Close stops accepting mutations, flushes what is pending and closes the
// backend.
func (c *Coalescer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	flushErr := c.flushLocked()
	c.mu.Unlock()

	return errors.Join(flushErr, c.backend.Close())
}

// State reports whether changes are pending and whether a flush is armed.
func (c *Coalescer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case len(c.pending) == 0:
		return Clean
	case c.timer != nil:
		return FlushScheduled
	}
	return Dirty
}

// Pending returns the number of queued changes.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// LastError returns the outcome of the last timer-driven flush.
func (c *Coalescer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
