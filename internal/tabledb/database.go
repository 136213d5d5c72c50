// Package tabledb is a small relational layer over SQLite: tables with a
// managed column list, row reads and writes keyed by column name, and
// conditions that can be raw SQL, column equality or Go predicates.
package tabledb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/agentic-research/simpledb/internal/backend"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Option configures Open.
type Option func(*Database)

// WithLogger sets the logger for schema and transaction events.
func WithLogger(l *slog.Logger) Option {
	return func(db *Database) {
		if l != nil {
			db.logger = l
		}
	}
}

// Database owns one dedicated connection. Every statement, transaction and
// savepoint runs on it, so :memory: databases and open transactions behave
// like a single session.
type Database struct {
	path   string
	logger *slog.Logger

	sqlDB *sql.DB
	conn  *sql.Conn

	tables *Tables
	tx     *Tx

	spSeq  atomic.Uint64
	closed atomic.Bool
	// schema is the schema_version the table handles were last synced to.
	schema atomic.Int64
}

// Open opens or creates the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string, opts ...Option) (*Database, error) {
	// The predicate dispatcher is only visible to connections opened after
	// it was registered.
	if err := registerFunctions(); err != nil {
		return nil, err
	}

	db := &Database{path: path, logger: slog.Default()}
	for _, o := range opts {
		o(db)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", backend.ErrStoreUnavailable, path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		_ = sqlDB.Close()
		return nil, openError(path, err)
	}
	db.sqlDB, db.conn = sqlDB, conn

	if err := db.exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, openError(path, err)
	}
	db.tables = &Tables{db: db, byName: make(map[string]*Table)}
	db.tx = &Tx{db: db}
	if err := db.tables.load(); err != nil {
		_ = db.Close()
		return nil, openError(path, err)
	}
	db.noteSchema()
	db.logger.Debug("database opened", "path", path, "tables", len(db.tables.byName))
	return db, nil
}

func openError(path string, err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_CORRUPT:
			return fmt.Errorf("%w: %s: %w", backend.ErrCorruptStore, path, err)
		case sqlite3.SQLITE_CANTOPEN:
			return fmt.Errorf("%w: %s: %w", backend.ErrStoreUnavailable, path, err)
		}
	}
	return fmt.Errorf("open %s: %w", path, err)
}

// Path returns the path the database was opened with.
func (db *Database) Path() string { return db.path }

// Tables returns the table manager.
func (db *Database) Tables() *Tables { return db.tables }

// Tx returns the explicit transaction controls.
func (db *Database) Tx() *Tx { return db.tx }

// Transaction runs fn inside a savepoint. The savepoint is released when fn
// returns nil and rolled back otherwise. Calls nest: an inner Transaction
// that fails only undoes its own work.
func (db *Database) Transaction(fn func(*Database) error) error {
	err := db.withSavepoint(func() error { return fn(db) })
	if err != nil {
		if syncErr := db.syncSchema(); syncErr != nil {
			err = errors.Join(err, syncErr)
		}
	}
	return err
}

// Exec runs a statement that returns no rows and reports the number of rows
// it changed. Tables created, altered or dropped by the statement are
// reflected in Tables afterwards.
func (db *Database) Exec(query string, args ...any) (int64, error) {
	n, err := db.execN(query, args...)
	if err != nil {
		return 0, err
	}
	return n, db.syncSchema()
}

func (db *Database) execN(query string, args ...any) (int64, error) {
	if db.closed.Load() {
		return 0, ErrClosed
	}
	res, err := db.conn.ExecContext(context.Background(), query, args...)
	if err != nil {
		return 0, classify(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Pragma runs "PRAGMA <stmt>" and returns whatever rows it produces.
func (db *Database) Pragma(stmt string) ([]Row, error) {
	rows, err := db.query("PRAGMA " + stmt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return scanRows(rows, cols)
}

// Optimize lets the engine refresh its statistics and then rebuilds the file.
func (db *Database) Optimize() error {
	if err := db.exec("PRAGMA optimize"); err != nil {
		return err
	}
	return db.exec("VACUUM")
}

// Close releases the connection. Later calls fail with ErrClosed.
func (db *Database) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	var errs []error
	if db.conn != nil {
		errs = append(errs, db.conn.Close())
	}
	if db.sqlDB != nil {
		errs = append(errs, db.sqlDB.Close())
	}
	db.logger.Debug("database closed", "path", db.path)
	return errors.Join(errs...)
}

func (db *Database) exec(query string, args ...any) error {
	_, err := db.execN(query, args...)
	return err
}

func (db *Database) schemaVersion() (int64, error) {
	rows, err := db.query("PRAGMA schema_version")
	if err != nil {
		return 0, err
	}
	defer func() { _ = rows.Close() }()
	var v int64
	if rows.Next() {
		if err := rows.Scan(&v); err != nil {
			return 0, err
		}
	}
	return v, rows.Err()
}

// noteSchema records the current schema as the one the handles reflect.
// Called after a schema change made through Tables or Columns.
func (db *Database) noteSchema() {
	if v, err := db.schemaVersion(); err == nil {
		db.schema.Store(v)
	}
}

// syncSchema re-reads the tables when the schema changed behind the
// handles: raw statements, or a rollback that undid a schema change. It
// takes the table locks and must not be called while one is held.
func (db *Database) syncSchema() error {
	v, err := db.schemaVersion()
	if err != nil {
		return err
	}
	if v == db.schema.Load() {
		return nil
	}
	if err := db.tables.load(); err != nil {
		return fmt.Errorf("reload schema: %w", err)
	}
	db.schema.Store(v)
	db.logger.Debug("schema reloaded", "version", v, "tables", len(db.tables.List()))
	return nil
}

func (db *Database) query(query string, args ...any) (*sql.Rows, error) {
	if db.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := db.conn.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

// withSavepoint wraps fn in a uniquely named savepoint. Outside a
// transaction the savepoint opens one and its release commits it. It does
// not re-read the schema, so row writes may call it under the table lock.
func (db *Database) withSavepoint(fn func() error) (err error) {
	name := "simpledb_sp_" + strconv.FormatUint(db.spSeq.Add(1), 10)
	if err := db.tx.run("SAVEPOINT", name); err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = db.tx.run("ROLLBACK TO SAVEPOINT", name)
			_ = db.tx.run("RELEASE SAVEPOINT", name)
			panic(p)
		}
		if err != nil {
			if rbErr := db.tx.run("ROLLBACK TO SAVEPOINT", name); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			if relErr := db.tx.run("RELEASE SAVEPOINT", name); relErr != nil {
				err = errors.Join(err, relErr)
			}
			return
		}
		err = db.tx.run("RELEASE SAVEPOINT", name)
	}()
	return fn()
}

func scanRows(rows *sql.Rows, cols []string) ([]Row, error) {
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = fromDriver(vals[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}
