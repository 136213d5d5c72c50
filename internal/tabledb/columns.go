package tabledb

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/metrics"
	"github.com/agentic-research/simpledb/internal/value"
)

// Column describes one column of a table.
type Column struct {
	Name string
	// Type is the declared storage class; empty declares none.
	Type StorageClass
	// Constraint is appended verbatim to the column definition, e.g.
	// "PRIMARY KEY", "UNIQUE NOT NULL" or "UNIQUE ON CONFLICT REPLACE".
	Constraint string
	// Default is stored in the schema as the column's DEFAULT clause and is
	// written by Insert and Replace for an omitted column. Adding a column
	// with a default fills it in on existing rows.
	Default any
}

// Cols builds untyped, unconstrained columns.
func Cols(names ...string) []Column {
	out := make([]Column, len(names))
	for i, n := range names {
		out[i] = Column{Name: n}
	}
	return out
}

func (c Column) definition() string {
	parts := []string{backend.QuoteIdent(c.Name)}
	if c.Type != ClassNone {
		parts = append(parts, string(c.Type))
	}
	if s := strings.TrimSpace(c.Constraint); s != "" {
		parts = append(parts, s)
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+sqlLiteral(c.Default))
	}
	return strings.Join(parts, " ")
}

// qualify renders "table"."column". A column that no longer exists is then
// an error instead of a string literal.
func qualify(table, column string) string {
	return backend.QuoteIdent(table) + "." + backend.QuoteIdent(column)
}

// sqlLiteral renders a bound scalar as a SQL literal.
func sqlLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	}
	return "'" + strings.ReplaceAll(fmt.Sprint(v), "'", "''") + "'"
}

// parseDefault reads the dflt_value column of PRAGMA table_info. Literals
// come back as values; expressions such as CURRENT_TIMESTAMP yield nil and
// are left to the engine.
func parseDefault(lit sql.NullString) any {
	if !lit.Valid {
		return nil
	}
	s := strings.TrimSpace(lit.String)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	switch {
	case strings.EqualFold(s, "NULL"):
		return nil
	case strings.EqualFold(s, "TRUE"):
		return int64(1)
	case strings.EqualFold(s, "FALSE"):
		return int64(0)
	case len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'':
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.ContainsAny(s, "xXpPnN") {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
		return f
	}
	return nil
}

func validateColumn(c Column) (Column, error) {
	if strings.TrimSpace(c.Name) == "" || strings.ContainsRune(c.Name, 0) {
		return c, fmt.Errorf("%w: column %q", backend.ErrInvalidName, c.Name)
	}
	switch c.Type {
	case ClassNone, ClassBlob, ClassInteger, ClassNumeric, ClassReal, ClassText:
	default:
		return c, fmt.Errorf("%w: column %q has unknown storage class %q", backend.ErrInvalidName, c.Name, c.Type)
	}
	if c.Default != nil {
		d, err := bindValue(c.Default, c.Type)
		if err != nil {
			return c, fmt.Errorf("default of %q: %w", c.Name, err)
		}
		c.Default = d
	}
	return c, nil
}

func findColumn(cols []Column, name string) (Column, bool) {
	for _, c := range cols {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func columnNames(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Columns manages the schema of one table. Every change is issued to the
// database first and mirrored in memory only when it succeeded. A rollback
// that undoes a change re-reads the schema.
type Columns struct {
	t *Table
}

// List returns the column names in table order.
func (cs *Columns) List() []string {
	cs.t.mu.RLock()
	defer cs.t.mu.RUnlock()
	return columnNames(cs.t.cols)
}

// All returns a copy of the column definitions in table order.
func (cs *Columns) All() []Column {
	cs.t.mu.RLock()
	defer cs.t.mu.RUnlock()
	out := make([]Column, len(cs.t.cols))
	copy(out, cs.t.cols)
	return out
}

// Column returns the definition of name.
func (cs *Columns) Column(name string) (Column, bool) {
	cs.t.mu.RLock()
	defer cs.t.mu.RUnlock()
	return findColumn(cs.t.cols, name)
}

// Defaults returns every column's default value, nil where none is set.
func (cs *Columns) Defaults() Row {
	cs.t.mu.RLock()
	defer cs.t.mu.RUnlock()
	return defaultsOf(cs.t.cols)
}

func defaultsOf(cols []Column) Row {
	out := make(Row, len(cols))
	for _, c := range cols {
		out[c.Name] = value.Clone(c.Default)
	}
	return out
}

// Add appends a column. Existing rows take its default, or NULL without one.
func (cs *Columns) Add(col Column) error {
	col, err := validateColumn(col)
	if err != nil {
		return err
	}
	t := cs.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := findColumn(t.cols, col.Name); ok {
		return fmt.Errorf("%w: column %q already exists in %s", ErrSchemaChangeRejected, col.Name, t.name)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", backend.QuoteIdent(t.name), col.definition())
	if err := t.db.exec(stmt); err != nil {
		return fmt.Errorf("%w: add %q to %s: %w", ErrSchemaChangeRejected, col.Name, t.name, err)
	}
	t.cols = append(t.cols, col)
	cs.changed("add", col.Name)
	return nil
}

// Rename renames a column in place; its position and default are kept.
func (cs *Columns) Rename(oldName, newName string) error {
	if _, err := validateColumn(Column{Name: newName}); err != nil {
		return err
	}
	t := cs.t
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := cs.indexLocked(oldName)
	if idx < 0 {
		return fmt.Errorf("%w: %q in %s", ErrColumnNotFound, oldName, t.name)
	}
	if oldName == newName {
		return nil
	}
	if cs.indexLocked(newName) >= 0 {
		return fmt.Errorf("%w: column %q already exists in %s", ErrSchemaChangeRejected, newName, t.name)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		backend.QuoteIdent(t.name), backend.QuoteIdent(oldName), backend.QuoteIdent(newName))
	if err := t.db.exec(stmt); err != nil {
		return fmt.Errorf("%w: rename %q in %s: %w", ErrSchemaChangeRejected, oldName, t.name, err)
	}
	t.cols[idx].Name = newName
	cs.changed("rename", newName)
	return nil
}

// Delete drops a column and its data. The engine refuses to drop key,
// unique or indexed columns; that surfaces as ErrSchemaChangeRejected.
func (cs *Columns) Delete(name string) error {
	t := cs.t
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := cs.indexLocked(name)
	if idx < 0 {
		return fmt.Errorf("%w: %q in %s", ErrColumnNotFound, name, t.name)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", backend.QuoteIdent(t.name), backend.QuoteIdent(name))
	if err := t.db.exec(stmt); err != nil {
		return fmt.Errorf("%w: drop %q from %s: %w", ErrSchemaChangeRejected, name, t.name, err)
	}
	t.cols = append(t.cols[:idx:idx], t.cols[idx+1:]...)
	cs.changed("drop", name)
	return nil
}

func (cs *Columns) indexLocked(name string) int {
	for i, c := range cs.t.cols {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (cs *Columns) changed(op, column string) {
	cs.t.db.noteSchema()
	metrics.SchemaChanges.Inc()
	cs.t.db.logger.Debug("schema changed", "table", cs.t.name, "op", op, "column", column)
}
