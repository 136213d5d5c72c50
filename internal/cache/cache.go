// Package cache holds the three consistency policies a store can run with
// over its root-level values.
//
//   - Passthrough re-reads the source on every access and keeps nothing.
//   - IsolatedCopy keeps a snapshot and hands out deep copies, so callers can
//     never corrupt it.
//   - SharedMutable keeps a snapshot and hands out the values themselves;
//     mutating a returned value is visible to the next read without a Set.
//
// A policy only decides what reads observe. Persisting writes is the
// caller's job.
package cache

import (
	"errors"
	"fmt"
	"maps"

	"github.com/agentic-research/simpledb/internal/value"
)

// ErrInvalidMode is returned by New for an unknown mode.
var ErrInvalidMode = errors.New("cache mode must be 0, 1 or 2")

// Mode selects a policy.
type Mode int

const (
	ModePassthrough   Mode = 0
	ModeIsolatedCopy  Mode = 1
	ModeSharedMutable Mode = 2
)

func (m Mode) String() string {
	switch m {
	case ModePassthrough:
		return "passthrough"
	case ModeIsolatedCopy:
		return "isolated-copy"
	case ModeSharedMutable:
		return "shared-mutable"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Source is the durable (or coalesced) view a policy reads from.
type Source interface {
	Get(key string) (any, bool, error)
	All() (map[string]any, error)
}

// Policy is implemented by the three cache variants.
type Policy interface {
	Mode() Mode
	// Read returns the value stored under a root key.
	Read(key string) (any, bool, error)
	// ReadAll returns every root key. The map itself is always fresh; the
	// values follow the policy's sharing rules.
	ReadAll() (map[string]any, error)
	// Write records the value just persisted under key.
	Write(key string, v any)
	// Remove forgets key.
	Remove(key string)
	// Reset forgets everything.
	Reset()
}

// New builds the policy for mode. Snapshot policies load src once.
func New(mode Mode, src Source) (Policy, error) {
	switch mode {
	case ModePassthrough:
		return &Passthrough{src: src}, nil
	case ModeIsolatedCopy:
		snap, err := load(src)
		if err != nil {
			return nil, err
		}
		return &IsolatedCopy{snapshot: snap}, nil
	case ModeSharedMutable:
		snap, err := load(src)
		if err != nil {
			return nil, err
		}
		return &SharedMutable{snapshot: snap}, nil
	}
	return nil, fmt.Errorf("%w: got %d", ErrInvalidMode, int(mode))
}

func load(src Source) (map[string]any, error) {
	snap, err := src.All()
	if err != nil {
		return nil, fmt.Errorf("load cache snapshot: %w", err)
	}
	if snap == nil {
		snap = map[string]any{}
	}
	return snap, nil
}

// Passthrough reads from the source every time.
type Passthrough struct {
	src Source
}

func (p *Passthrough) Mode() Mode                         { return ModePassthrough }
func (p *Passthrough) Read(key string) (any, bool, error) { return p.src.Get(key) }
func (p *Passthrough) ReadAll() (map[string]any, error)   { return p.src.All() }
func (p *Passthrough) Write(string, any)                  {}
func (p *Passthrough) Remove(string)                      {}
func (p *Passthrough) Reset()                             {}

// IsolatedCopy serves deep copies of a retained snapshot.
type IsolatedCopy struct {
	snapshot map[string]any
}

func (c *IsolatedCopy) Mode() Mode { return ModeIsolatedCopy }

func (c *IsolatedCopy) Read(key string) (any, bool, error) {
	v, ok := c.snapshot[key]
	if !ok {
		return nil, false, nil
	}
	return value.Clone(v), true, nil
}

func (c *IsolatedCopy) ReadAll() (map[string]any, error) {
	out := make(map[string]any, len(c.snapshot))
	for k, v := range c.snapshot {
		out[k] = value.Clone(v)
	}
	return out, nil
}

func (c *IsolatedCopy) Write(key string, v any) { c.snapshot[key] = value.Clone(v) }
func (c *IsolatedCopy) Remove(key string)       { delete(c.snapshot, key) }
func (c *IsolatedCopy) Reset()                  { c.snapshot = map[string]any{} }

// SharedMutable serves the retained snapshot by reference.
type SharedMutable struct {
	snapshot map[string]any
}

func (c *SharedMutable) Mode() Mode { return ModeSharedMutable }

func (c *SharedMutable) Read(key string) (any, bool, error) {
	v, ok := c.snapshot[key]
	return v, ok, nil
}

func (c *SharedMutable) ReadAll() (map[string]any, error) { return maps.Clone(c.snapshot), nil }
func (c *SharedMutable) Write(key string, v any)          { c.snapshot[key] = v }
func (c *SharedMutable) Remove(key string)                { delete(c.snapshot, key) }
func (c *SharedMutable) Reset()                           { c.snapshot = map[string]any{} }

var (
	_ Policy = (*Passthrough)(nil)
	_ Policy = (*IsolatedCopy)(nil)
	_ Policy = (*SharedMutable)(nil)
)
