package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/agentic-research/simpledb/internal/backend"
	"github.com/agentic-research/simpledb/internal/config"
	"github.com/agentic-research/simpledb/internal/store"
	"github.com/spf13/cobra"
)

var kvCmd = &cobra.Command{
	Use:   "kv",
	Short: "Read and write the key/value store",
}

var jsonIndent int

func init() {
	kvCmd.AddCommand(getCmd, setCmd, delCmd, hasCmd, keysCmd, clearCmd, jsonCmd, addCmd, pushCmd)
	jsonCmd.Flags().IntVar(&jsonIndent, "indent", 2, "Spaces per indent level (0 for compact)")
}

// withStore opens the configured store, runs fn and closes the store, which
// flushes any pending writes.
func withStore(fn func(*store.Store) error) (err error) {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

// parseValue reads a JSON value; anything that is not JSON is taken as a
// plain string.
func parseValue(s string) any {
	if v, err := backend.DecodeValue(s); err == nil {
		return v
	}
	return s
}

func printValue(w io.Writer, v any) error {
	out, err := backend.EncodeValue(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Print the value at a dotted key path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				val, ok, err := s.Get(args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s: not found", args[0])
				}
				return printValue(cmd.OutOrStdout(), val)
			})
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set a dotted key path to a JSON value (non-JSON is stored as a string)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				return s.Set(args[0], parseValue(args[1]))
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete a dotted key path and print what was removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				removed, err := s.Delete(args[0])
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), removed)
			})
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Print whether a dotted key path is set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(s *store.Store) error {
				ok, err := s.Has(args[0])
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatBool(ok))
				return err
			})
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "List the root keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(s *store.Store) error {
				keys, err := s.Keys()
				if err != nil {
					return err
				}
				for _, k := range keys {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), k); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(s *store.Store) error { return s.Clear() })
		},
	}
	jsonCmd = &cobra.Command{
		Use:   "json",
		Short: "Print the whole store as one JSON document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(s *store.Store) error {
				doc, err := s.ToJSON(jsonIndent)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), doc)
				return err
			})
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [key] [number]",
		Short: "Add a number to the value at key (missing counts as 0)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("number must be numeric: %w", err)
			}
			return withStore(func(s *store.Store) error {
				n, err := s.Number().Add(args[0], delta)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), n)
			})
		},
	}
	pushCmd = &cobra.Command{
		Use:   "push [key] [value...]",
		Short: "Append values to the array at key, creating it when missing",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			vals := make([]any, 0, len(args)-1)
			for _, a := range args[1:] {
				vals = append(vals, parseValue(a))
			}
			return withStore(func(s *store.Store) error {
				arr, err := s.Array().Push(args[0], vals...)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), arr)
			})
		},
	}
)
