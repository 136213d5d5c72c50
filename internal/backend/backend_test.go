package backend

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openers builds each backend over a fresh file.
var openers = map[string]func(t *testing.T, check bool) Backend{
	"json": func(t *testing.T, check bool) Backend {
		b, err := OpenJSONFile(filepath.Join(t.TempDir(), "db.json"), check)
		require.NoError(t, err)
		return b
	},
	"yaml": func(t *testing.T, check bool) Backend {
		b, err := OpenJSONFile(filepath.Join(t.TempDir(), "db.yaml"), check)
		require.NoError(t, err)
		return b
	},
	"sqlite": func(t *testing.T, check bool) Backend {
		b, err := OpenSQLiteKV(filepath.Join(t.TempDir(), "db.sqlite"), "simpledb", check)
		require.NoError(t, err)
		return b
	},
}

func TestBackend_ApplyAndRead(t *testing.T) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			b := open(t, true)
			defer func() { _ = b.Close() }()

			doc := map[string]any{"a": int64(1), "b": []any{int64(1), "x", true}}
			require.NoError(t, b.Apply([]Change{
				{Key: "user", Kind: ChangeUpdate, Value: doc},
				{Key: "n", Kind: ChangeUpdate, Value: 2.5},
				{Key: "gone", Kind: ChangeUpdate, Value: "soon"},
				{Key: "gone", Kind: ChangeDelete},
			}))

			v, ok, err := b.Get("user")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, doc, v)

			_, ok, err = b.Get("gone")
			require.NoError(t, err)
			assert.False(t, ok)

			all, err := b.All()
			require.NoError(t, err)
			assert.Equal(t, map[string]any{"user": doc, "n": 2.5}, all)

			require.NoError(t, b.Clear())
			all, err = b.All()
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestBackend_MalformedChange(t *testing.T) {
	for name, open := range openers {
		t.Run(name, func(t *testing.T) {
			b := open(t, false)
			defer func() { _ = b.Close() }()

			err := b.Apply([]Change{
				{Key: "ok", Kind: ChangeUpdate, Value: int64(1)},
				{Key: "", Kind: ChangeUpdate, Value: int64(2)},
			})
			require.ErrorIs(t, err, ErrMalformedChange)

			err = b.Apply([]Change{{Key: "k", Kind: Kind(9)}})
			require.ErrorIs(t, err, ErrMalformedChange)

			all, err := b.All()
			require.NoError(t, err)
			assert.Empty(t, all, "nothing from a rejected batch is written")
		})
	}
}

func TestJSONFile_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	_, err := OpenJSONFile(path, false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{}", strings.TrimSpace(string(data)))
}

func TestJSONFile_Deterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	f, err := OpenJSONFile(path, false)
	require.NoError(t, err)

	require.NoError(t, f.Apply([]Change{
		{Key: "b", Kind: ChangeUpdate, Value: int64(2)},
		{Key: "a", Kind: ChangeUpdate, Value: map[string]any{"z": int64(1), "y": int64(2)}},
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	s := string(data)
	assert.Less(t, strings.Index(s, `"a"`), strings.Index(s, `"b"`))
	assert.Less(t, strings.Index(s, `"y"`), strings.Index(s, `"z"`))
	assert.Contains(t, s, "\t", "tab indented")
}

func TestJSONFile_Deleted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	f, err := OpenJSONFile(path, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	_, _, err = f.Get("a")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	err = f.Apply([]Change{{Key: "a", Kind: ChangeUpdate, Value: int64(1)}})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestJSONFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": `), 0o644))
	_, err := OpenJSONFile(path, false)
	assert.ErrorIs(t, err, ErrCorruptStore)

	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o644))
	_, err = OpenJSONFile(path, false)
	assert.ErrorIs(t, err, ErrCorruptStore, "root must be an object")
}

func TestJSONFile_YAMLIntegers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.yml")
	require.NoError(t, os.WriteFile(path, []byte("count: 3\nname: x\nlist: [1, 2]\n"), 0o644))
	f, err := OpenJSONFile(path, false)
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f.Format())

	all, err := f.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": int64(3), "name": "x", "list": []any{int64(1), int64(2)}}, all)
}

func TestSQLiteKV_NotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("this is not sqlite ", 64)), 0o644))

	_, err := OpenSQLiteKV(path, "simpledb", false)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestSQLiteKV_Memory(t *testing.T) {
	kv, err := OpenSQLiteKV(":memory:", "kv", false)
	require.NoError(t, err)
	defer func() { _ = kv.Close() }()

	require.NoError(t, kv.Apply([]Change{{Key: "a", Kind: ChangeUpdate, Value: "x"}}))
	v, ok, err := kv.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestSQLiteKV_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	kv, err := OpenSQLiteKV(path, "kv", false)
	require.NoError(t, err)
	require.NoError(t, kv.Apply([]Change{{Key: "a", Kind: ChangeUpdate, Value: map[string]any{"b": int64(1)}}}))
	require.NoError(t, kv.Close())

	kv, err = OpenSQLiteKV(path, "kv", false)
	require.NoError(t, err)
	defer func() { _ = kv.Close() }()
	v, ok, err := kv.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"b": int64(1)}, v)
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"simpledb", "my table", "t1"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "sqlite_master", "SQLITE_x", `a"b`, "a[b", "a]b", "a\x00b"} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName, "%q", bad)
	}
	_, err := OpenSQLiteKV(":memory:", "sqlite_kv", false)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestEncodeValue(t *testing.T) {
	s, err := EncodeValue(map[string]any{"b": int64(1), "a": []any{"x", nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",null],"b":1}`, s)

	v, err := DecodeValue(s)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": []any{"x", nil}, "b": int64(1)}, v)
}
