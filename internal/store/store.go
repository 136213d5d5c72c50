// Package store is the key/value surface of simpledb: dotted-path reads and
// writes over a JSON, YAML or SQLite backend, with a selectable cache policy
// and coalesced writes.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/cache"
	"github.com/agentic-research/simpledb/internal/coalesce"
	"github.com/agentic-research/simpledb/internal/config"
	"github.com/agentic-research/simpledb/internal/keypath"
	"github.com/agentic-research/simpledb/internal/value"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
)

// Store is not safe for concurrent use; the coalescer's timer is the only
// other goroutine touching it and it only sees the coalescer.
type Store struct {
	cfg    config.Config
	logger *slog.Logger
	co     *coalesce.Coalescer
	cache  cache.Policy
}

// Entry is one root key and its value.
type Entry struct {
	Key   string
	Value any
}

// Open builds backend, coalescer and cache policy for cfg.
func Open(cfg config.Config, opts ...Option) (*Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{delay: cfg.FlushDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	var (
		b   backend.Backend
		err error
	)
	switch cfg.Type {
	case config.TypeSQLite:
		b, err = backend.OpenSQLiteKV(cfg.Path, cfg.Name, cfg.Check)
	case config.TypeYAML:
		b, err = backend.OpenFile(cfg.Path, backend.FormatYAML, cfg.Check)
	default:
		b, err = backend.OpenFile(cfg.Path, backend.FormatJSON, cfg.Check)
	}
	if err != nil {
		return nil, err
	}

	logger := o.logger.With("store", cfg.Path)
	co := coalesce.New(b, o.delay, o.clock, logger)
	policy, err := cache.New(cfg.CacheType, co)
	if err != nil {
		_ = co.Close()
		return nil, err
	}
	logger.Debug("opened", "type", string(cfg.Type), "cache", cfg.CacheType.String(), "flush_delay", o.delay)
	return &Store{cfg: cfg, logger: logger, co: co, cache: policy}, nil
}

// Config returns the configuration the store was opened with.
func (s *Store) Config() config.Config { return s.cfg }

// Get returns the value at key. A missing path is not an error.
func (s *Store) Get(key string) (any, bool, error) {
	p, err := keypath.ParseKey(key)
	if err != nil {
		return nil, false, err
	}
	root, ok, err := s.cache.Read(p.Root())
	if err != nil || !ok {
		return nil, false, err
	}
	return keypath.Get(root, p.Props())
}

// Has reports whether key resolves to a value.
func (s *Store) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

// Set stores v at key, creating intermediate objects as needed.
func (s *Store) Set(key string, v any) error {
	p, err := keypath.ParseKey(key)
	if err != nil {
		return err
	}
	nv, err := value.Normalize(v)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	root := nv
	if props := p.Props(); len(props) > 0 {
		cur, _, err := s.cache.Read(p.Root())
		if err != nil {
			return err
		}
		if root, err = keypath.Set(cur, props, nv); err != nil {
			return err
		}
	}
	return s.commit(p.Root(), root)
}

// Delete removes key and returns what was there. Deleting a missing key is
// not an error.
func (s *Store) Delete(key string) (any, error) {
	p, err := keypath.ParseKey(key)
	if err != nil {
		return nil, err
	}
	root, ok, err := s.cache.Read(p.Root())
	if err != nil || !ok {
		return nil, err
	}

	props := p.Props()
	if len(props) == 0 {
		err := s.co.Delete(p.Root())
		if errors.Is(err, coalesce.ErrClosed) {
			return nil, err
		}
		s.cache.Remove(p.Root())
		return root, err
	}

	removed, found, err := keypath.Delete(root, props)
	if err != nil || !found {
		return nil, err
	}
	return removed, s.commit(p.Root(), root)
}

// commit hands root to the coalescer and then to the cache. A failed
// write-through still updates the cache: the coalescer keeps the change and
// retries it.
func (s *Store) commit(key string, root any) error {
	err := s.co.Set(key, root)
	if errors.Is(err, coalesce.ErrClosed) {
		return err
	}
	s.cache.Write(key, root)
	return err
}

// Clear removes every key.
func (s *Store) Clear() error {
	if err := s.co.Clear(); err != nil {
		return err
	}
	s.cache.Reset()
	return nil
}

// All returns every root key and value.
func (s *Store) All() (map[string]any, error) { return s.cache.ReadAll() }

// Keys returns the root keys in sorted order.
func (s *Store) Keys() ([]string, error) {
	all, err := s.cache.ReadAll()
	if err != nil {
		return nil, err
	}
	return value.SortedKeys(all), nil
}

// Values returns the root values ordered by key.
func (s *Store) Values() ([]any, error) {
	entries, err := s.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Value
	}
	return out, nil
}

// Entries returns the root keys and values ordered by key.
func (s *Store) Entries() ([]Entry, error) {
	all, err := s.cache.ReadAll()
	if err != nil {
		return nil, err
	}
	keys := value.SortedKeys(all)
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = Entry{Key: k, Value: all[k]}
	}
	return out, nil
}

// ToJSON renders the whole store. indent 0 gives compact output.
func (s *Store) ToJSON(indent int) (string, error) {
	all, err := s.cache.ReadAll()
	if err != nil {
		return "", err
	}
	opts := ojg.DefaultOptions
	opts.Indent = indent
	opts.Sort = true
	b, err := oj.Marshal(all, &opts)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Reload drops the cache snapshot and re-reads the backend.
func (s *Store) Reload() error {
	policy, err := cache.New(s.cfg.CacheType, s.co)
	if err != nil {
		return err
	}
	s.cache = policy
	return nil
}

// Flush writes pending changes now.
func (s *Store) Flush() error { return s.co.FlushNow() }

// State reports the coalescer state.
func (s *Store) State() coalesce.State { return s.co.State() }

// LastFlushError returns the outcome of the last background flush.
func (s *Store) LastFlushError() error { return s.co.LastError() }

// Close flushes and releases the backend.
func (s *Store) Close() error { return s.co.Close() }
