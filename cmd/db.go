package cmd

import (
	"fmt"

	"github.com/agentic-research/simpledb/internal/tabledb"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Run statements and maintenance on the table database",
}

func init() {
	dbCmd.AddCommand(dbExecCmd, dbPragmaCmd, dbOptimizeCmd)
}

var (
	dbExecCmd = &cobra.Command{
		Use:   "exec [sql...]",
		Short: "Run statements in one transaction; any failure undoes all of them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(db *tabledb.Database) error {
				var total int64
				err := db.Transaction(func(db *tabledb.Database) error {
					for _, stmt := range args {
						n, err := db.Exec(stmt)
						if err != nil {
							return err
						}
						total += n
					}
					return nil
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), total)
				return err
			})
		},
	}
	dbPragmaCmd = &cobra.Command{
		Use:   "pragma [statement]",
		Short: "Run PRAGMA <statement> and print its rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatabase(func(db *tabledb.Database) error {
				rows, err := db.Pragma(args[0])
				if err != nil {
					return err
				}
				return printRows(cmd.OutOrStdout(), rows)
			})
		},
	}
	dbOptimizeCmd = &cobra.Command{
		Use:   "optimize",
		Short: "Refresh query statistics and compact the file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(func(db *tabledb.Database) error {
				return db.Optimize()
			})
		},
	}
)
