package tabledb

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agentic-research/simpledb/internal/backend"
)

// Table reads and writes rows of one table. Row operations share the
// table lock; schema changes through Columns take it exclusively.
type Table struct {
	db *Database

	mu      sync.RWMutex
	name    string
	cols    []Column
	dropped bool

	columns *Columns
}

func newTable(db *Database, name string, cols []Column) *Table {
	t := &Table{db: db, name: name, cols: cols}
	t.columns = &Columns{t: t}
	return t
}

// Name returns the current table name.
func (t *Table) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.name
}

// Columns returns the column manager.
func (t *Table) Columns() *Columns { return t.columns }

// Values lays out r in column order.
func (r Row) Values(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = r[c]
	}
	return out
}

// rlock takes the read lock and fails for a dropped table.
func (t *Table) rlock() error {
	t.mu.RLock()
	if t.dropped {
		t.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrTableNotFound, t.name)
	}
	return nil
}

// Get returns the first row matching cond.
func (t *Table) Get(cond Condition) (Row, bool, error) {
	rows, err := t.selectRows(cond, " LIMIT 1")
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// Select returns every row matching cond, each holding all current columns.
func (t *Table) Select(cond Condition) ([]Row, error) {
	return t.selectRows(cond, "")
}

func (t *Table) selectRows(cond Condition, suffix string) ([]Row, error) {
	if err := t.rlock(); err != nil {
		return nil, err
	}
	defer t.mu.RUnlock()

	c, err := compile(cond, t.name, t.cols)
	if err != nil {
		return nil, err
	}
	defer c.Release()

	names := columnNames(t.cols)
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = qualify(t.name, n)
	}
	q := "SELECT " + strings.Join(quoted, ", ") + " FROM " + backend.QuoteIdent(t.name) + c.where() + suffix
	rows, err := t.db.query(q, c.args()...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()
	out, err := scanRows(rows, names)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", t.name, err)
	}
	return out, nil
}

// Count returns the number of rows matching cond.
func (t *Table) Count(cond Condition) (int64, error) {
	if err := t.rlock(); err != nil {
		return 0, err
	}
	defer t.mu.RUnlock()

	c, err := compile(cond, t.name, t.cols)
	if err != nil {
		return 0, err
	}
	defer c.Release()

	rows, err := t.db.query("SELECT COUNT(*) FROM "+backend.QuoteIdent(t.name)+c.where(), c.args()...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// Insert adds rows. Omitted columns take their default. When several rows
// are given either all of them are stored or none.
func (t *Table) Insert(rows ...Row) error {
	return t.write("INSERT", true, rows)
}

// Replace inserts rows, replacing any existing row that conflicts on a
// unique or primary key column.
func (t *Table) Replace(rows ...Row) error {
	return t.write("INSERT OR REPLACE", true, rows)
}

// ReplaceWith is Replace with control over defaults. Without defaults every
// omitted column is written as NULL.
func (t *Table) ReplaceWith(useDefaults bool, rows ...Row) error {
	return t.write("INSERT OR REPLACE", useDefaults, rows)
}

func (t *Table) write(verb string, useDefaults bool, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := t.rlock(); err != nil {
		return err
	}
	defer t.mu.RUnlock()

	stmts := make([]boundRow, len(rows))
	for i, r := range rows {
		b, err := t.bindRow(r, useDefaults)
		if err != nil {
			return err
		}
		stmts[i] = b
	}

	run := func() error {
		for _, b := range stmts {
			if err := t.db.exec(b.sql(verb, t.name), b.args...); err != nil {
				return fmt.Errorf("%s into %s: %w", strings.ToLower(verb), t.name, err)
			}
		}
		return nil
	}
	if len(stmts) == 1 {
		return run()
	}
	return t.db.withSavepoint(run)
}

type boundRow struct {
	cols []string
	args []any
}

func (b boundRow) sql(verb, table string) string {
	if len(b.cols) == 0 {
		return verb + " INTO " + backend.QuoteIdent(table) + " DEFAULT VALUES"
	}
	quoted := make([]string, len(b.cols))
	for i, c := range b.cols {
		quoted[i] = backend.QuoteIdent(c)
	}
	return verb + " INTO " + backend.QuoteIdent(table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(b.cols)), ", ") + ")"
}

// bindRow resolves r against the column list. With defaults, a column that
// is omitted and has no default is left to the engine; without defaults it
// is written as NULL.
func (t *Table) bindRow(r Row, useDefaults bool) (boundRow, error) {
	if err := t.checkKeys(r); err != nil {
		return boundRow{}, err
	}
	var b boundRow
	for _, c := range t.cols {
		v, ok := r[c.Name]
		if !ok {
			switch {
			case !useDefaults:
			case c.Default != nil:
				v = c.Default
			default:
				continue
			}
		}
		arg, err := bindValue(v, c.Type)
		if err != nil {
			return boundRow{}, fmt.Errorf("column %q of %s: %w", c.Name, t.name, err)
		}
		b.cols = append(b.cols, c.Name)
		b.args = append(b.args, arg)
	}
	return b, nil
}

func (t *Table) checkKeys(r Row) error {
	var unknown []string
	for k := range r {
		if _, ok := findColumn(t.cols, k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	slices.Sort(unknown)
	return fmt.Errorf("%w: %s in %s", ErrUnknownColumn, strings.Join(unknown, ", "), t.name)
}

// Update sets values on every row matching cond and returns how many rows
// changed. Defaults are not applied. Empty values change nothing.
func (t *Table) Update(cond Condition, values Row) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	if err := t.rlock(); err != nil {
		return 0, err
	}
	defer t.mu.RUnlock()

	if err := t.checkKeys(values); err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	sets := make([]string, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		col, _ := findColumn(t.cols, k)
		arg, err := bindValue(values[k], col.Type)
		if err != nil {
			return 0, fmt.Errorf("column %q of %s: %w", k, t.name, err)
		}
		sets[i] = backend.QuoteIdent(k) + " = ?"
		args = append(args, arg)
	}

	c, err := compile(cond, t.name, t.cols)
	if err != nil {
		return 0, err
	}
	defer c.Release()

	q := "UPDATE " + backend.QuoteIdent(t.name) + " SET " + strings.Join(sets, ", ") + c.where()
	n, err := t.db.execN(q, append(args, c.args()...)...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", t.name, err)
	}
	return n, nil
}

// Delete removes every row matching cond and returns how many were removed.
// A nil cond removes all rows.
func (t *Table) Delete(cond Condition) (int64, error) {
	if err := t.rlock(); err != nil {
		return 0, err
	}
	defer t.mu.RUnlock()

	c, err := compile(cond, t.name, t.cols)
	if err != nil {
		return 0, err
	}
	defer c.Release()

	n, err := t.db.execN("DELETE FROM "+backend.QuoteIdent(t.name)+c.where(), c.args()...)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", t.name, err)
	}
	return n, nil
}

// Clear removes all rows.
func (t *Table) Clear() error {
	_, err := t.Delete(nil)
	return err
}
