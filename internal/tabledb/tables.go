package tabledb

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/metrics"
)

// Tables tracks the tables of a database.
type Tables struct {
	db *Database

	mu     sync.RWMutex
	byName map[string]*Table
}

// load reads the schema from the database. Handles for tables that still
// exist keep their identity and pick up the stored columns; tables that are
// gone are marked dropped.
func (ts *Tables) load() error {
	names, err := ts.names()
	if err != nil {
		return err
	}
	described := make(map[string][]Column, len(names))
	for _, n := range names {
		cols, err := ts.describe(n)
		if err != nil {
			return fmt.Errorf("describe %s: %w", n, err)
		}
		described[n] = cols
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	for n, t := range ts.byName {
		if _, ok := described[n]; ok {
			continue
		}
		t.mu.Lock()
		t.dropped = true
		t.mu.Unlock()
		delete(ts.byName, n)
	}
	for n, cols := range described {
		t, ok := ts.byName[n]
		if !ok {
			ts.byName[n] = newTable(ts.db, n, cols)
			continue
		}
		t.mu.Lock()
		t.cols = keepConstraints(t.cols, cols)
		t.mu.Unlock()
	}
	return nil
}

// keepConstraints carries the constraint text a column was declared with
// over to its described form, which only knows key, NOT NULL and UNIQUE.
func keepConstraints(old, described []Column) []Column {
	for i, c := range described {
		if prev, ok := findColumn(old, c.Name); ok && prev.Type == c.Type && prev.Constraint != "" {
			described[i].Constraint = prev.Constraint
		}
	}
	return described
}

func (ts *Tables) names() ([]string, error) {
	rows, err := ts.db.query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// stored returns the name a table is stored under. Table names compare
// case-insensitively in SQLite.
func (ts *Tables) stored(name string) (string, bool, error) {
	rows, err := ts.db.query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE`, name)
	if err != nil {
		return "", false, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return "", false, rows.Err()
	}
	var n string
	if err := rows.Scan(&n); err != nil {
		return "", false, err
	}
	return n, true, nil
}

func (ts *Tables) describe(name string) ([]Column, error) {
	unique, err := ts.uniqueColumns(name)
	if err != nil {
		return nil, err
	}
	rows, err := ts.db.query("PRAGMA table_info(" + backend.QuoteIdent(name) + ")")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var cols []Column
	for rows.Next() {
		var (
			cid      int
			colName  string
			declType string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &colName, &declType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		var cons []string
		if pk > 0 {
			cons = append(cons, "PRIMARY KEY")
		}
		if notNull != 0 {
			cons = append(cons, "NOT NULL")
		}
		if unique[colName] {
			cons = append(cons, "UNIQUE")
		}
		cols = append(cols, Column{
			Name:       colName,
			Type:       AffinityOf(declType),
			Constraint: strings.Join(cons, " "),
			Default:    parseDefault(dflt),
		})
	}
	return cols, rows.Err()
}

// uniqueColumns finds columns carrying their own UNIQUE constraint.
func (ts *Tables) uniqueColumns(table string) (map[string]bool, error) {
	rows, err := ts.db.query("PRAGMA index_list(" + backend.QuoteIdent(table) + ")")
	if err != nil {
		return nil, err
	}
	var indexes []string
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if unique != 0 && origin == "u" && partial == 0 {
			indexes = append(indexes, name)
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool)
	for _, idx := range indexes {
		rows, err := ts.db.query("PRAGMA index_info(" + backend.QuoteIdent(idx) + ")")
		if err != nil {
			return nil, err
		}
		var cols []string
		for rows.Next() {
			var (
				seqno, cid int
				name       sql.NullString
			)
			if err := rows.Scan(&seqno, &cid, &name); err != nil {
				_ = rows.Close()
				return nil, err
			}
			cols = append(cols, name.String)
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
		if len(cols) == 1 && cols[0] != "" {
			out[cols[0]] = true
		}
	}
	return out, nil
}

// Create makes a table with the given columns. Creating a table that already
// exists returns it with the columns it is stored with.
func (ts *Tables) Create(name string, cols ...Column) (*Table, error) {
	if err := backend.ValidateName(name); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoColumns, name)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.byName[name]; ok {
		return t, nil
	}
	existing, ok, err := ts.stored(name)
	if err != nil {
		return nil, err
	}
	if ok {
		if t, tracked := ts.byName[existing]; tracked {
			return t, nil
		}
		stored, err := ts.describe(existing)
		if err != nil {
			return nil, fmt.Errorf("describe %s: %w", existing, err)
		}
		t := newTable(ts.db, existing, stored)
		ts.byName[existing] = t
		ts.db.logger.Debug("table adopted", "table", existing, "columns", columnNames(stored))
		return t, nil
	}

	defs := make([]string, 0, len(cols))
	valid := make([]Column, 0, len(cols))
	for _, c := range cols {
		c, err := validateColumn(c)
		if err != nil {
			return nil, err
		}
		if _, dup := findColumn(valid, c.Name); dup {
			return nil, fmt.Errorf("%w: duplicate column %q in %s", ErrSchemaChangeRejected, c.Name, name)
		}
		valid = append(valid, c)
		defs = append(defs, c.definition())
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", backend.QuoteIdent(name), strings.Join(defs, ", "))
	if err := ts.db.exec(stmt); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrSchemaChangeRejected, name, err)
	}
	t := newTable(ts.db, name, valid)
	ts.byName[name] = t
	ts.db.noteSchema()
	metrics.SchemaChanges.Inc()
	ts.db.logger.Debug("table created", "table", name, "columns", columnNames(valid))
	return t, nil
}

// Get returns the named table.
func (ts *Tables) Get(name string) (*Table, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// List returns the table names in sorted order.
func (ts *Tables) List() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]string, 0, len(ts.byName))
	for n := range ts.byName {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Drop removes a table and its rows.
func (ts *Tables) Drop(name string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ts.db.exec("DROP TABLE " + backend.QuoteIdent(name)); err != nil {
		return fmt.Errorf("%w: drop %s: %w", ErrSchemaChangeRejected, name, err)
	}
	delete(ts.byName, name)
	t.dropped = true
	ts.db.noteSchema()
	metrics.SchemaChanges.Inc()
	ts.db.logger.Debug("table dropped", "table", name)
	return nil
}

// Rename renames a table. Existing *Table handles follow the new name.
func (ts *Tables) Rename(oldName, newName string) error {
	if err := backend.ValidateName(newName); err != nil {
		return err
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t, ok := ts.byName[oldName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableNotFound, oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, taken := ts.byName[newName]; taken {
		return fmt.Errorf("%w: table %s already exists", ErrSchemaChangeRejected, newName)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", backend.QuoteIdent(oldName), backend.QuoteIdent(newName))
	if err := ts.db.exec(stmt); err != nil {
		return fmt.Errorf("%w: rename %s: %w", ErrSchemaChangeRejected, oldName, err)
	}
	delete(ts.byName, oldName)
	ts.byName[newName] = t
	t.name = newName
	ts.db.noteSchema()
	metrics.SchemaChanges.Inc()
	ts.db.logger.Debug("table renamed", "from", oldName, "to", newName)
	return nil
}
