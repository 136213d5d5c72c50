package backend

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteKV keeps one row per root key in a two-column table. Values are
// stored as JSON text.
type SQLiteKV struct {
	db    *sql.DB
	path  string
	table string // quoted
	check bool
}

// OpenSQLiteKV opens (or creates) the database at path and the key/value
// table called name inside it.
func OpenSQLiteKV(path, name string, check bool) (*SQLiteKV, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStoreUnavailable, path, err)
	}
	// A single connection keeps :memory: databases alive across calls.
	db.SetMaxOpenConns(1)

	kv := &SQLiteKV{db: db, path: path, table: QuoteIdent(name), check: check}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value TEXT)", kv.table)
	if _, err := db.Exec(stmt); err != nil {
		_ = db.Close()
		return nil, kv.classify("create table", err)
	}
	return kv, nil
}

// QuoteIdent quotes name as an SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DB exposes the underlying handle.
func (kv *SQLiteKV) DB() *sql.DB { return kv.db }

func (kv *SQLiteKV) Get(key string) (any, bool, error) {
	var raw string
	err := kv.db.QueryRow("SELECT value FROM "+kv.table+" WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kv.classify("get "+key, err)
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: value of %q in %s: %w", ErrCorruptStore, key, kv.path, err)
	}
	return v, true, nil
}

func (kv *SQLiteKV) All() (map[string]any, error) {
	rows, err := kv.db.Query("SELECT key, value FROM " + kv.table)
	if err != nil {
		return nil, kv.classify("select all", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, kv.classify("scan", err)
		}
		v, err := DecodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: value of %q in %s: %w", ErrCorruptStore, key, kv.path, err)
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, kv.classify("select all", err)
	}
	return out, nil
}

// Apply writes changes inside one transaction.
func (kv *SQLiteKV) Apply(changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	if err := validateAll(changes); err != nil {
		return err
	}

	tx, err := kv.db.Begin()
	if err != nil {
		return kv.classify("begin", err)
	}
	defer func() { _ = tx.Rollback() }() // safe to ignore

	setStmt, err := tx.Prepare("INSERT OR REPLACE INTO " + kv.table + " (key, value) VALUES (?, ?)")
	if err != nil {
		return kv.classify("prepare set", err)
	}
	defer func() { _ = setStmt.Close() }() // safe to ignore

	delStmt, err := tx.Prepare("DELETE FROM " + kv.table + " WHERE key = ?")
	if err != nil {
		return kv.classify("prepare delete", err)
	}
	defer func() { _ = delStmt.Close() }() // safe to ignore

	written := make(map[string]string)
	for _, c := range changes {
		if c.Kind == ChangeDelete {
			if _, err := delStmt.Exec(c.Key); err != nil {
				return kv.classify("delete "+c.Key, err)
			}
			delete(written, c.Key)
			continue
		}
		raw, err := EncodeValue(c.Value)
		if err != nil {
			return fmt.Errorf("key %q: %w", c.Key, err)
		}
		if _, err := setStmt.Exec(c.Key, raw); err != nil {
			return kv.classify("set "+c.Key, err)
		}
		written[c.Key] = raw
	}

	if kv.check {
		for key, want := range written {
			var got string
			err := tx.QueryRow("SELECT value FROM "+kv.table+" WHERE key = ?", key).Scan(&got)
			if err != nil || got != want {
				return fmt.Errorf("%w: a value didn't store correctly in SQLite database at %s (key %q)",
					ErrWriteVerificationFailed, kv.path, key)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return kv.classify("commit", err)
	}
	return nil
}

func (kv *SQLiteKV) Clear() error {
	if _, err := kv.db.Exec("DELETE FROM " + kv.table); err != nil {
		return kv.classify("clear", err)
	}
	return nil
}

func (kv *SQLiteKV) Close() error { return kv.db.Close() }

// classify maps driver errors onto the backend taxonomy.
func (kv *SQLiteKV) classify(op string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
			return fmt.Errorf("%w: file in %s is not a valid SQLite database: %w", ErrCorruptStore, kv.path, err)
		case sqlite3.SQLITE_CANTOPEN:
			return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, kv.path, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Backend = (*SQLiteKV)(nil)
