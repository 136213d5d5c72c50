package value

import (
	"encoding/json"
	"math"
	"math/big"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		tests := []struct {
			in   any
			want any
		}{
			{nil, nil},
			{true, true},
			{"s", "s"},
			{7, int64(7)},
			{int32(-3), int64(-3)},
			{uint16(9), int64(9)},
			{float32(1.5), 1.5},
			{2.25, 2.25},
			{json.Number("12"), int64(12)},
			{json.Number("1.5"), 1.5},
			{big.NewInt(42), int64(42)},
		}
		for _, tt := range tests {
			got, err := Normalize(tt.in)
			require.NoError(t, err, "%#v", tt.in)
			assert.Equal(t, tt.want, got, "%#v", tt.in)
		}
	})

	t.Run("typed containers", func(t *testing.T) {
		got, err := Normalize(map[string]any{
			"list":  []string{"a", "b"},
			"count": map[string]int{"x": 1},
			"ptr":   (*int)(nil),
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"list":  []any{"a", "b"},
			"count": map[string]any{"x": int64(1)},
			"ptr":   nil,
		}, got)
	})

	t.Run("rejected", func(t *testing.T) {
		huge := new(big.Int).Lsh(big.NewInt(1), 80)
		for _, in := range []any{
			[]byte("raw"),
			uint64(math.MaxUint64),
			huge,
			math.NaN(),
			math.Inf(1),
			map[int]string{1: "a"},
			make(chan int),
			[]any{"ok", []byte("nested")},
		} {
			_, err := Normalize(in)
			assert.ErrorIs(t, err, ErrUnsupported, "%T", in)
		}
	})
}

func TestClone(t *testing.T) {
	orig := map[string]any{"a": []any{int64(1), map[string]any{"b": "c"}}}
	cp := Clone(orig).(map[string]any)
	assert.Equal(t, orig, cp)

	cp["a"].([]any)[1].(map[string]any)["b"] = "changed"
	assert.Equal(t, "c", orig["a"].([]any)[1].(map[string]any)["b"])

	assert.Nil(t, Clone(nil))
	assert.Equal(t, "s", Clone("s"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(int64(3), 3.0))
	assert.True(t, Equal(nil, nil))
	assert.True(t, Equal([]any{int64(1), "a"}, []any{1.0, "a"}))
	assert.True(t, Equal(map[string]any{"a": int64(1)}, map[string]any{"a": 1.0}))
	assert.False(t, Equal(map[string]any{"a": int64(1)}, map[string]any{"b": int64(1)}))
	assert.False(t, Equal("1", int64(1)))
	assert.False(t, Equal(nil, false))
}

func TestCompare(t *testing.T) {
	in := []any{"b", int64(3), nil, true, 1.5, "a", false}
	sort.SliceStable(in, func(i, j int) bool { return Compare(in[i], in[j]) < 0 })
	assert.Equal(t, []any{nil, false, true, 1.5, int64(3), "a", "b"}, in)
}

func TestFromFloat(t *testing.T) {
	assert.Equal(t, int64(4), FromFloat(4))
	assert.Equal(t, 4.5, FromFloat(4.5))
	assert.Equal(t, 1e300, FromFloat(1e300))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]any{"c": 1, "a": 2, "b": 3}))
}
