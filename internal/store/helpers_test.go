package store

import (
	"math"
	"testing"

	"github.com/agentic-research/simpledb/internal/cache"
	"github.com/agentic-research/simpledb/internal/config"
	"github.com/agentic-research/simpledb/internal/keypath"
	"github.com/agentic-research/simpledb/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumber(t *testing.T) {
	forEach(t, func(t *testing.T, cfg config.Config) {
		s := open(t, cfg)

		got, err := s.Number().Add("hits", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got, "missing counts as zero")

		got, err = s.Number().Subtract("hits", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(-3), got)

		got, err = s.Number().Add("stats.ratio", 0.5)
		require.NoError(t, err)
		assert.Equal(t, 0.5, got)
		got, err = s.Number().Add("stats.ratio", 0.5)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)

		require.NoError(t, s.Set("name", "x"))
		_, err = s.Number().Add("name", 1)
		assert.ErrorIs(t, err, ErrNotANumber)
	})
}

func TestNumberOverflow(t *testing.T) {
	forEach(t, func(t *testing.T, cfg config.Config) {
		s := open(t, cfg)
		require.NoError(t, s.Set("big", int64(math.MaxInt64-1)))

		got, err := s.Number().Add("big", 5)
		require.NoError(t, err)
		f, ok := got.(float64)
		require.True(t, ok, "sum past MaxInt64 must not wrap, got %T %v", got, got)
		assert.Greater(t, f, 0.0)

		require.NoError(t, s.Set("small", int64(math.MinInt64+1)))
		got, err = s.Number().Subtract("small", 2)
		require.NoError(t, err)
		f, ok = got.(float64)
		require.True(t, ok, "sum past MinInt64 must not wrap, got %T %v", got, got)
		assert.Less(t, f, 0.0)
	})
}

func TestAddInt(t *testing.T) {
	sum, ok := addInt(40, 2)
	assert.True(t, ok)
	assert.Equal(t, int64(42), sum)

	_, ok = addInt(math.MaxInt64, 1)
	assert.False(t, ok)
	_, ok = addInt(math.MinInt64, -1)
	assert.False(t, ok)
	_, ok = addInt(1, 0.5)
	assert.False(t, ok)
	sum, ok = addInt(math.MaxInt64-1, 1)
	assert.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), sum)
}

func TestArrayMutations(t *testing.T) {
	forEach(t, func(t *testing.T, cfg config.Config) {
		s := open(t, cfg)
		arr := s.Array()

		got, err := arr.Push("list", "c", "a")
		require.NoError(t, err)
		assert.Equal(t, []any{"c", "a"}, got, "push creates the sequence")
		_, err = arr.Push("list", "b", "d")
		require.NoError(t, err)

		v, ok, err := arr.ExtractValue("list", "d")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "d", v)

		_, ok, err = arr.ExtractValue("list", "zzz")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = arr.ExtractAt("list", 10)
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, err = arr.ExtractAt("nothing", 0)
		require.NoError(t, err)
		assert.False(t, ok)

		sorted, err := arr.Sort("list", nil)
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "b", "c"}, sorted)

		removed, err := arr.Splice("list", 1, 1, "x", "y")
		require.NoError(t, err)
		assert.Equal(t, []any{"b"}, removed)

		v, ok, err = arr.ExtractFunc("list", func(v any, _ int) bool { return v == "y" })
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "y", v)

		require.NoError(t, s.Close())
		reopened := open(t, cfg)
		stored, _, err := reopened.Get("list")
		require.NoError(t, err)
		assert.Equal(t, []any{"a", "x", "c"}, stored, "sort and splice persist")
	})
}

func TestArrayReads(t *testing.T) {
	s := open(t, testConfig(t, config.TypeJSON, cache.ModeIsolatedCopy))
	arr := s.Array()
	require.NoError(t, s.Set("nums", []int{3, 1, 2}))

	ok, err := arr.Includes("nums", 1, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = arr.Includes("nums", 3, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	gt1 := func(v any, _ int) bool { n, _ := value.Number(v); return n > 1 }

	v, ok, err := arr.Find("nums", gt1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)

	i, err := arr.FindIndex("nums", func(v any, _ int) bool { return v == int64(2) })
	require.NoError(t, err)
	assert.Equal(t, 2, i)

	filtered, err := arr.Filter("nums", gt1)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(2)}, filtered)

	doubled, err := arr.Map("nums", func(v any, _ int) any { return v.(int64) * 2 })
	require.NoError(t, err)
	assert.Equal(t, []any{int64(6), int64(2), int64(4)}, doubled)

	sum, err := arr.Reduce("nums", func(acc, v any, _ int) any { return acc.(int64) + v.(int64) }, int64(0))
	require.NoError(t, err)
	assert.Equal(t, int64(6), sum)

	some, err := arr.Some("nums", gt1)
	require.NoError(t, err)
	assert.True(t, some)
	every, err := arr.Every("nums", gt1)
	require.NoError(t, err)
	assert.False(t, every)

	r, err := arr.Random("nums")
	require.NoError(t, err)
	assert.Contains(t, []any{int64(3), int64(1), int64(2)}, r)

	stored, _, err := s.Get("nums")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(1), int64(2)}, stored, "reads never reorder")

	require.NoError(t, s.Set("str", "x"))
	_, err = arr.Filter("str", gt1)
	assert.ErrorIs(t, err, keypath.ErrNotAnArray)
	_, err = arr.Push("str", 1)
	assert.ErrorIs(t, err, keypath.ErrNotAnArray)
	_, err = arr.Sort("missing", nil)
	assert.ErrorIs(t, err, keypath.ErrNotAnArray)
}
