package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/config"
	"github.com/agentic-research/simpledb/internal/tabledb"
	"github.com/spf13/cobra"
)

var (
	dbPath     string
	whereSQL   string
	matchJSON  string
	replaceRow bool
	noDefaults bool
)

var (
	tableCmd = &cobra.Command{
		Use:   "table",
		Short: "Manage tables and their rows",
	}
	columnCmd = &cobra.Command{
		Use:   "column",
		Short: "Manage the columns of a table",
	}
)

func init() {
	for _, c := range []*cobra.Command{tableCmd, columnCmd, dbCmd} {
		c.PersistentFlags().StringVar(&dbPath, "db", config.DefaultSQLitePath, "SQLite database file (:memory: for a scratch database)")
	}

	for _, c := range []*cobra.Command{tableSelectCmd, tableUpdateCmd, tableDeleteCmd, tableCountCmd} {
		c.Flags().StringVar(&whereSQL, "where", "", "Raw SQL condition, e.g. 'a > 3'")
		c.Flags().StringVar(&matchJSON, "match", "", `Column equality as a JSON object, e.g. '{"a":1}'`)
	}
	tableInsertCmd.Flags().BoolVar(&replaceRow, "replace", false, "Replace rows that conflict on a unique column")
	tableInsertCmd.Flags().BoolVar(&noDefaults, "no-defaults", false, "With --replace, write NULL for omitted columns")

	tableCmd.AddCommand(tableCreateCmd, tableListCmd, tableDropCmd, tableRenameCmd,
		tableInsertCmd, tableSelectCmd, tableUpdateCmd, tableDeleteCmd, tableCountCmd)
	columnCmd.AddCommand(columnListCmd, columnAddCmd, columnRenameCmd, columnDropCmd)
}

func withDatabase(fn func(*tabledb.Database) error) (err error) {
	db, err := tabledb.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	return fn(db)
}

func withTable(name string, fn func(*tabledb.Table) error) error {
	return withDatabase(func(db *tabledb.Database) error {
		t, err := db.Tables().Get(name)
		if err != nil {
			return err
		}
		return fn(t)
	})
}

// parseColumn reads "name[:TYPE[:CONSTRAINT]]", e.g. "id:INTEGER:PRIMARY KEY".
func parseColumn(spec string) (tabledb.Column, error) {
	parts := strings.SplitN(spec, ":", 3)
	col := tabledb.Column{Name: parts[0]}
	if len(parts) > 1 && parts[1] != "" {
		class := tabledb.StorageClass(strings.ToUpper(parts[1]))
		switch class {
		case tabledb.ClassBlob, tabledb.ClassInteger, tabledb.ClassNumeric, tabledb.ClassReal, tabledb.ClassText:
		default:
			return col, fmt.Errorf("column %q: unknown type %q", parts[0], parts[1])
		}
		col.Type = class
	}
	if len(parts) > 2 {
		col.Constraint = parts[2]
	}
	return col, nil
}

func parseRow(s string) (tabledb.Row, error) {
	v, err := backend.DecodeValue(s)
	if err != nil {
		return nil, fmt.Errorf("row %q: %w", s, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("row %q: want a JSON object", s)
	}
	return tabledb.Row(m), nil
}

// condition builds the filter from --where or --match. Neither means all
// rows.
func condition() (tabledb.Condition, error) {
	switch {
	case whereSQL != "" && matchJSON != "":
		return nil, errors.New("use either --where or --match")
	case whereSQL != "":
		return tabledb.Raw(whereSQL), nil
	case matchJSON != "":
		r, err := parseRow(matchJSON)
		if err != nil {
			return nil, err
		}
		return tabledb.Where(r), nil
	}
	return nil, nil
}

func printRows(w io.Writer, rows []tabledb.Row) error {
	for _, r := range rows {
		m := make(map[string]any, len(r))
		for k, val := range r {
			if b, ok := val.([]byte); ok {
				val = string(b)
			}
			m[k] = val
		}
		if err := printValue(w, m); err != nil {
			return err
		}
	}
	return nil
}

var (
	tableCreateCmd = &cobra.Command{
		Use:   "create [table] [column[:TYPE[:CONSTRAINT]]...]",
		Short: "Create a table (no-op when it exists)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols := make([]tabledb.Column, 0, len(args)-1)
			for _, spec := range args[1:] {
				c, err := parseColumn(spec)
				if err != nil {
					return err
				}
				cols = append(cols, c)
			}
			return withDatabase(func(db *tabledb.Database) error {
				_, err := db.Tables().Create(args[0], cols...)
				return err
			})
		},
	}
	tableListCmd = &cobra.Command{
		Use:   "list",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(func(db *tabledb.Database) error {
				for _, n := range db.Tables().List() {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), n); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	tableDropCmd = &cobra.Command{
		Use:   "drop [table]",
		Short: "Drop a table and its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(db *tabledb.Database) error {
				return db.Tables().Drop(args[0])
			})
		},
	}
	tableRenameCmd = &cobra.Command{
		Use:   "rename [table] [new-name]",
		Short: "Rename a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(db *tabledb.Database) error {
				return db.Tables().Rename(args[0], args[1])
			})
		},
	}
	tableInsertCmd = &cobra.Command{
		Use:   "insert [table] [row-json...]",
		Short: "Insert rows given as JSON objects; all rows are stored or none",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([]tabledb.Row, 0, len(args)-1)
			for _, a := range args[1:] {
				r, err := parseRow(a)
				if err != nil {
					return err
				}
				rows = append(rows, r)
			}
			return withTable(args[0], func(t *tabledb.Table) error {
				if replaceRow {
					return t.ReplaceWith(!noDefaults, rows...)
				}
				return t.Insert(rows...)
			})
		},
	}
	tableSelectCmd = &cobra.Command{
		Use:   "select [table]",
		Short: "Print matching rows as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := condition()
			if err != nil {
				return err
			}
			return withTable(args[0], func(t *tabledb.Table) error {
				rows, err := t.Select(cond)
				if err != nil {
					return err
				}
				return printRows(cmd.OutOrStdout(), rows)
			})
		},
	}
	tableUpdateCmd = &cobra.Command{
		Use:   "update [table] [values-json]",
		Short: "Set columns on matching rows and print how many changed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := condition()
			if err != nil {
				return err
			}
			values, err := parseRow(args[1])
			if err != nil {
				return err
			}
			return withTable(args[0], func(t *tabledb.Table) error {
				n, err := t.Update(cond, values)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
	tableDeleteCmd = &cobra.Command{
		Use:   "delete [table]",
		Short: "Delete matching rows and print how many were removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := condition()
			if err != nil {
				return err
			}
			return withTable(args[0], func(t *tabledb.Table) error {
				n, err := t.Delete(cond)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
	tableCountCmd = &cobra.Command{
		Use:   "count [table]",
		Short: "Print the number of matching rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cond, err := condition()
			if err != nil {
				return err
			}
			return withTable(args[0], func(t *tabledb.Table) error {
				n, err := t.Count(cond)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
				return err
			})
		},
	}
)

var (
	columnListCmd = &cobra.Command{
		Use:   "list [table]",
		Short: "List columns with their type and constraint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTable(args[0], func(t *tabledb.Table) error {
				for _, c := range t.Columns().All() {
					line := strings.TrimSpace(strings.Join([]string{c.Name, string(c.Type), c.Constraint}, " "))
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	columnAddCmd = &cobra.Command{
		Use:   "add [table] [column[:TYPE[:CONSTRAINT]]]",
		Short: "Add a column; existing rows read NULL for it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			col, err := parseColumn(args[1])
			if err != nil {
				return err
			}
			return withTable(args[0], func(t *tabledb.Table) error {
				return t.Columns().Add(col)
			})
		},
	}
	columnRenameCmd = &cobra.Command{
		Use:   "rename [table] [column] [new-name]",
		Short: "Rename a column",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTable(args[0], func(t *tabledb.Table) error {
				return t.Columns().Rename(args[1], args[2])
			})
		},
	}
	columnDropCmd = &cobra.Command{
		Use:   "drop [table] [column]",
		Short: "Drop a column and its data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTable(args[0], func(t *tabledb.Table) error {
				return t.Columns().Delete(args[1])
			})
		},
	}
)
