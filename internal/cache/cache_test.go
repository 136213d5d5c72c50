package cache

import (
	"testing"

	"github.com/agentic-research/simpledb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapSource serves fresh copies of its data, like a backend re-reading disk.
type mapSource struct {
	data  map[string]any
	reads int
}

func (s *mapSource) Get(key string) (any, bool, error) {
	s.reads++
	v, ok := s.data[key]
	return value.Clone(v), ok, nil
}

func (s *mapSource) All() (map[string]any, error) {
	s.reads++
	return value.Clone(s.data).(map[string]any), nil
}

func newSource() *mapSource {
	return &mapSource{data: map[string]any{"k": map[string]any{"n": int64(1)}}}
}

func TestNew(t *testing.T) {
	for _, mode := range []Mode{ModePassthrough, ModeIsolatedCopy, ModeSharedMutable} {
		p, err := New(mode, newSource())
		require.NoError(t, err)
		assert.Equal(t, mode, p.Mode())
	}
	_, err := New(Mode(3), newSource())
	assert.ErrorIs(t, err, ErrInvalidMode)
	_, err = New(Mode(-1), newSource())
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestPassthrough(t *testing.T) {
	src := newSource()
	p, err := New(ModePassthrough, src)
	require.NoError(t, err)
	assert.Equal(t, 0, src.reads, "no snapshot retained")

	v, ok, err := p.Read("k")
	require.NoError(t, err)
	require.True(t, ok)
	v.(map[string]any)["n"] = int64(99)

	// Source changes are visible immediately.
	src.data["k"] = map[string]any{"n": int64(2)}
	v, _, err = p.Read("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(2)}, v)
	assert.Equal(t, 2, src.reads)
}

func TestIsolatedCopy(t *testing.T) {
	p, err := New(ModeIsolatedCopy, newSource())
	require.NoError(t, err)

	v, ok, err := p.Read("k")
	require.NoError(t, err)
	require.True(t, ok)
	v.(map[string]any)["n"] = int64(99)

	again, _, err := p.Read("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1)}, again, "caller mutation must not leak into the cache")

	written := map[string]any{"n": int64(5)}
	p.Write("k", written)
	written["n"] = int64(6)
	again, _, err = p.Read("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(5)}, again, "writes store a copy")

	all, err := p.ReadAll()
	require.NoError(t, err)
	all["k"].(map[string]any)["n"] = int64(7)
	again, _, _ = p.Read("k")
	assert.Equal(t, map[string]any{"n": int64(5)}, again)
}

func TestSharedMutable(t *testing.T) {
	p, err := New(ModeSharedMutable, newSource())
	require.NoError(t, err)

	v, ok, err := p.Read("k")
	require.NoError(t, err)
	require.True(t, ok)
	v.(map[string]any)["n"] = int64(99)

	again, _, err := p.Read("k")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(99)}, again, "mutation visible without a write")
}

func TestRemoveAndReset(t *testing.T) {
	for _, mode := range []Mode{ModeIsolatedCopy, ModeSharedMutable} {
		p, err := New(mode, newSource())
		require.NoError(t, err)

		p.Write("other", "x")
		p.Remove("k")
		_, ok, err := p.Read("k")
		require.NoError(t, err)
		assert.False(t, ok, mode.String())

		p.Reset()
		all, err := p.ReadAll()
		require.NoError(t, err)
		assert.Empty(t, all, mode.String())
	}
}
