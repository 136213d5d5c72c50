package tabledb

import (
	"fmt"
	"slices"
	"strings"
)

// Row is one record keyed by column name.
type Row map[string]any

// Condition filters rows. A nil Condition matches every row.
//
// Three forms exist: Raw is trusted SQL used verbatim, Where is equality on
// columns, and Func is a Go predicate evaluated by the engine for every
// scanned row.
type Condition interface {
	// Compile renders the condition against the table's current columns.
	// Column references are qualified with table.
	Compile(table string, columns []Column) (*Compiled, error)
}

// Compiled is a condition ready to be placed after WHERE. Release must be
// called once the statement using it has finished.
type Compiled struct {
	SQL     string
	Args    []any
	release func()
}

// Release frees resources held for the statement. Safe on nil.
func (c *Compiled) Release() {
	if c != nil && c.release != nil {
		c.release()
		c.release = nil
	}
}

// Raw is a trusted SQL fragment, e.g. `a > 3 AND b IS NOT NULL`.
type Raw string

func (r Raw) Compile(string, []Column) (*Compiled, error) {
	if strings.TrimSpace(string(r)) == "" {
		return nil, fmt.Errorf("%w: empty SQL fragment", ErrNoConditionValues)
	}
	return &Compiled{SQL: "(" + string(r) + ")"}, nil
}

// Where matches rows whose columns equal the given values; nil matches NULL.
type Where map[string]any

func (w Where) Compile(table string, columns []Column) (*Compiled, error) {
	if len(w) == 0 {
		return nil, ErrNoConditionValues
	}
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		col, ok := findColumn(columns, k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, k)
		}
		if w[k] == nil {
			parts = append(parts, qualify(table, k)+" IS NULL")
			continue
		}
		arg, err := bindValue(w[k], col.Type)
		if err != nil {
			return nil, fmt.Errorf("condition on %q: %w", k, err)
		}
		parts = append(parts, qualify(table, k)+" = ?")
		args = append(args, arg)
	}
	return &Compiled{SQL: strings.Join(parts, " AND "), Args: args}, nil
}

// Func is a Go predicate. The row it receives holds every column of the
// table at the time the statement runs.
type Func func(Row) bool

func (f Func) Compile(table string, columns []Column) (*Compiled, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil predicate", ErrNoConditionValues)
	}
	if err := registerFunctions(); err != nil {
		return nil, err
	}
	names := columnNames(columns)
	id, err := predicates.register(f, names)
	if err != nil {
		return nil, err
	}
	return &Compiled{
		SQL:     predicateSQL(id, table, names),
		release: func() { predicates.release(id) },
	}, nil
}

// compile handles the nil condition.
func compile(c Condition, table string, columns []Column) (*Compiled, error) {
	if c == nil {
		return nil, nil
	}
	return c.Compile(table, columns)
}

// where renders " WHERE ..." or nothing.
func (c *Compiled) where() string {
	if c == nil {
		return ""
	}
	return " WHERE " + c.SQL
}

func (c *Compiled) args() []any {
	if c == nil {
		return nil
	}
	return c.Args
}
