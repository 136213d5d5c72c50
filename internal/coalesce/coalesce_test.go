package coalesce

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend records every batch it is asked to apply.
type memBackend struct {
	data    map[string]any
	batches [][]backend.Change
	fail    error
	closed  bool
}

func newMem() *memBackend { return &memBackend{data: map[string]any{}} }

func (m *memBackend) Get(key string) (any, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memBackend) All() (map[string]any, error) {
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memBackend) Apply(changes []backend.Change) error {
	if m.fail != nil {
		return m.fail
	}
	m.batches = append(m.batches, changes)
	for _, c := range changes {
		if c.Kind == backend.ChangeDelete {
			delete(m.data, c.Key)
		} else {
			m.data[c.Key] = c.Value
		}
	}
	return nil
}

func (m *memBackend) Clear() error {
	m.data = map[string]any{}
	return nil
}

func (m *memBackend) Close() error {
	m.closed = true
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTest(t *testing.T, delay time.Duration) (*Coalescer, *memBackend, *ManualClock) {
	t.Helper()
	mem := newMem()
	clock := NewManualClock()
	return New(mem, delay, clock, quietLogger()), mem, clock
}

func TestDebounce(t *testing.T) {
	c, mem, clock := newTest(t, 10*time.Millisecond)
	assert.Equal(t, Clean, c.State())

	require.NoError(t, c.Set("a", int64(1)))
	require.NoError(t, c.Set("b", int64(2)))
	require.NoError(t, c.Set("a", int64(3)))
	assert.Equal(t, FlushScheduled, c.State())
	assert.Equal(t, 1, clock.Pending(), "one timer for the whole burst")
	assert.Empty(t, mem.batches)

	v, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), v, "pending value visible before flush")

	clock.Advance(5 * time.Millisecond)
	assert.Empty(t, mem.batches)

	clock.Advance(5 * time.Millisecond)
	require.Len(t, mem.batches, 1)
	assert.Len(t, mem.batches[0], 3)
	assert.Equal(t, map[string]any{"a": int64(3), "b": int64(2)}, mem.data)
	assert.Equal(t, Clean, c.State())
	assert.NoError(t, c.LastError())
}

func TestSetThenDelete(t *testing.T) {
	c, mem, clock := newTest(t, time.Millisecond)
	mem.data["keep"] = "x"

	require.NoError(t, c.Set("k", "v"))
	require.NoError(t, c.Delete("k"))
	require.NoError(t, c.Delete("keep"))

	_, ok, err := c.Get("keep")
	require.NoError(t, err)
	assert.False(t, ok)

	all, err := c.All()
	require.NoError(t, err)
	assert.Empty(t, all)

	clock.Advance(time.Millisecond)
	require.Len(t, mem.batches, 1)
	assert.Equal(t, []backend.Change{
		{Key: "k", Kind: backend.ChangeDelete},
		{Key: "keep", Kind: backend.ChangeDelete},
	}, mem.batches[0], "an update superseded by a delete is skipped")
	assert.Empty(t, mem.data)
}

func TestRetryAfterFailure(t *testing.T) {
	c, mem, clock := newTest(t, time.Millisecond)
	mem.fail = errors.New("disk full")

	require.NoError(t, c.Set("a", int64(1)))
	clock.Advance(time.Millisecond)
	assert.Equal(t, Dirty, c.State())
	assert.ErrorContains(t, c.LastError(), "disk full")
	assert.Equal(t, 1, c.Pending())

	v, _, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "failed changes stay visible")

	mem.fail = nil
	require.NoError(t, c.FlushNow())
	assert.Equal(t, Clean, c.State())
	assert.Equal(t, map[string]any{"a": int64(1)}, mem.data)
}

func TestMalformedChange(t *testing.T) {
	c, mem, _ := newTest(t, time.Hour)

	require.NoError(t, c.Set("", "orphan"))
	require.NoError(t, c.Set("ok", int64(1)))

	err := c.FlushNow()
	require.ErrorIs(t, err, backend.ErrMalformedChange)
	assert.Equal(t, map[string]any{"ok": int64(1)}, mem.data, "valid changes still flushed")
	assert.Equal(t, Clean, c.State(), "malformed entries are not retried")
}

func TestCancel(t *testing.T) {
	c, mem, clock := newTest(t, time.Millisecond)

	require.NoError(t, c.Set("a", int64(1)))
	c.Cancel()
	assert.Equal(t, Dirty, c.State())
	clock.Advance(time.Second)
	assert.Empty(t, mem.batches)

	c.ScheduleFlush()
	assert.Equal(t, FlushScheduled, c.State())
	clock.Advance(time.Millisecond)
	assert.Len(t, mem.batches, 1)
}

func TestFlushNowSupersedesTimer(t *testing.T) {
	c, mem, clock := newTest(t, time.Millisecond)

	require.NoError(t, c.Set("a", int64(1)))
	require.NoError(t, c.FlushNow())
	require.NoError(t, c.Set("b", int64(2)))
	clock.Advance(time.Millisecond)

	require.Len(t, mem.batches, 2)
	assert.Equal(t, "b", mem.batches[1][0].Key)
}

func TestClose(t *testing.T) {
	c, mem, clock := newTest(t, time.Hour)

	require.NoError(t, c.Set("a", int64(1)))
	require.NoError(t, c.Close())
	assert.True(t, mem.closed)
	assert.Equal(t, map[string]any{"a": int64(1)}, mem.data, "close flushes")

	assert.ErrorIs(t, c.Set("b", int64(2)), ErrClosed)
	assert.ErrorIs(t, c.Delete("a"), ErrClosed)
	assert.ErrorIs(t, c.Clear(), ErrClosed)
	c.ScheduleFlush()
	assert.Equal(t, 0, clock.Pending(), "no timer after close")
	assert.NoError(t, c.Close(), "second close is a no-op")
}

func TestWriteThrough(t *testing.T) {
	c, mem, clock := newTest(t, 0)

	require.NoError(t, c.Set("a", int64(1)))
	assert.Equal(t, map[string]any{"a": int64(1)}, mem.data)
	assert.Equal(t, 0, clock.Pending())

	mem.fail = errors.New("read-only")
	assert.ErrorContains(t, c.Set("b", int64(2)), "read-only")
}

func TestOverlayIsolation(t *testing.T) {
	c, _, _ := newTest(t, time.Hour)

	v := map[string]any{"n": int64(1)}
	require.NoError(t, c.Set("a", v))
	v["n"] = int64(2)

	got, _, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, got)

	got.(map[string]any)["n"] = int64(3)
	again, _, err := c.Get("a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, again)
}

func TestClear(t *testing.T) {
	c, mem, clock := newTest(t, time.Millisecond)
	mem.data["old"] = true

	require.NoError(t, c.Set("a", int64(1)))
	require.NoError(t, c.Clear())
	assert.Equal(t, Clean, c.State())
	clock.Advance(time.Millisecond)
	assert.Empty(t, mem.data)
	assert.Empty(t, mem.batches)
}

func TestWithSQLiteBackend(t *testing.T) {
	kv, err := backend.OpenSQLiteKV(filepath.Join(t.TempDir(), "db.sqlite"), "kv", true)
	require.NoError(t, err)
	clock := NewManualClock()
	c := New(kv, time.Millisecond, clock, quietLogger())

	for i := range 50 {
		require.NoError(t, c.Set("counter", int64(i)))
	}
	clock.Advance(time.Millisecond)

	v, ok, err := kv.Get("counter")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(49), v)
	require.NoError(t, c.Close())
}
