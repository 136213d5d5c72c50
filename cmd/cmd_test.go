package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentic-research/simpledb/internal/tabledb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, runWith(&buf, args...), "simpledb %s", strings.Join(args, " "))
	return buf.String()
}

func TestKVCommands(t *testing.T) {
	for _, ext := range []string{"json", "yaml", "sqlite"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "store."+ext)
			kv := func(args ...string) string {
				return run(t, append([]string{"kv", "--path", path}, args...)...)
			}

			kv("set", "user", `{"name":"ada","tags":["a"]}`)
			kv("set", "greeting", "hello")
			assert.Equal(t, "\"ada\"\n", kv("get", "user.name"))
			assert.Equal(t, "\"hello\"\n", kv("get", "greeting"))
			assert.Equal(t, "true\n", kv("has", "user.tags"))
			assert.Equal(t, "false\n", kv("has", "user.age"))

			assert.Equal(t, "2\n", kv("add", "counter", "2"))
			assert.Equal(t, "2.5\n", kv("add", "counter", "0.5"))
			assert.Equal(t, "[1,\"x\"]\n", kv("push", "list", "1", "x"))
			assert.Equal(t, "counter\ngreeting\nlist\nuser\n", kv("keys"))

			assert.Equal(t, "[\"a\"]\n", kv("delete", "user.tags"))
			assert.Equal(t, `{"counter":2.5,"greeting":"hello","list":[1,"x"],"user":{"name":"ada"}}`+"\n",
				kv("json", "--indent", "0"))

			var buf bytes.Buffer
			err := runWith(&buf, "kv", "--path", path, "get", "missing")
			require.Error(t, err)

			kv("clear")
			assert.Empty(t, kv("keys"))
		})
	}
}

func TestKVFlushDelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delayed.json")
	run(t, "kv", "--path", path, "--flush-delay", "1h", "set", "k", "1")
	// Close flushes whatever the timer did not.
	assert.Equal(t, "1\n", run(t, "kv", "--path", path, "get", "k"))
}

func TestInvalidConfig(t *testing.T) {
	var buf bytes.Buffer
	err := runWith(&buf, "kv", "--path", filepath.Join(t.TempDir(), "x.json"), "--cache-type", "7", "keys")
	require.Error(t, err)

	err = runWith(&buf, "--log-level", "loud", "kv", "keys")
	require.Error(t, err)
}

func TestTableCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tables.sqlite")
	tbl := func(args ...string) string {
		return run(t, append(append([]string{"table"}, args...), "--db", db)...)
	}

	tbl("create", "people", "id:INTEGER:PRIMARY KEY", "name:TEXT:UNIQUE")
	tbl("create", "people", "ignored")
	assert.Equal(t, "people\n", tbl("list"))

	tbl("insert", "people", `{"id":1,"name":"ada"}`, `{"id":2,"name":"bob"}`)
	var buf bytes.Buffer
	err := runWith(&buf, "table", "insert", "people", `{"id":3,"name":"cy"}`, `{"id":4,"name":"ada"}`, "--db", db)
	require.ErrorIs(t, err, tabledb.ErrConstraintViolation)
	assert.Equal(t, "2\n", tbl("count", "people"))

	assert.Equal(t, "{\"id\":2,\"name\":\"bob\"}\n", tbl("select", "people", "--where", "id > 1"))
	assert.Equal(t, "1\n", tbl("update", "people", `{"name":"bea"}`, "--match", `{"id":2}`))
	assert.Equal(t, "{\"id\":2,\"name\":\"bea\"}\n", tbl("select", "people", "--match", `{"name":"bea"}`))

	run(t, "column", "add", "people", "age:INTEGER", "--db", db)
	run(t, "column", "rename", "people", "name", "full_name", "--db", db)
	assert.Equal(t, "id INTEGER PRIMARY KEY\nfull_name TEXT UNIQUE\nage INTEGER\n", run(t, "column", "list", "people", "--db", db))
	run(t, "column", "drop", "people", "age", "--db", db)

	tbl("insert", "people", "--replace", `{"id":1,"full_name":"ada l"}`)
	assert.Equal(t, "{\"full_name\":\"ada l\",\"id\":1}\n", tbl("select", "people", "--match", `{"id":1}`))

	err = runWith(&buf, "table", "select", "people", "--where", "id = 1", "--match", `{"id":1}`, "--db", db)
	require.Error(t, err)

	assert.Equal(t, "1\n", tbl("delete", "people", "--where", "id = 2"))
	tbl("rename", "people", "persons")
	tbl("drop", "persons")
	assert.Empty(t, tbl("list"))
}

func TestDBCommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "raw.sqlite")
	dbRun := func(args ...string) string {
		return run(t, append(append([]string{"db"}, args...), "--db", db)...)
	}

	assert.Equal(t, "2\n", dbRun("exec", "CREATE TABLE t (x)", "INSERT INTO t VALUES (1), (2)"))

	var buf bytes.Buffer
	err := runWith(&buf, "db", "exec", "INSERT INTO t VALUES (3)", "INSERT INTO nope VALUES (1)", "--db", db)
	require.Error(t, err)
	assert.Equal(t, "2\n", run(t, "table", "count", "t", "--db", db))

	assert.Equal(t, "{\"foreign_keys\":1}\n", dbRun("pragma", "foreign_keys"))
	dbRun("optimize")
}

func TestStatsFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	out := run(t, "--stats", "kv", "--path", path, "set", "a", "1")
	assert.Contains(t, out, "simpledb_flushes_total")
}
