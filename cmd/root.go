package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/agentic-research/simpledb/internal/config"
	"github.com/agentic-research/simpledb/internal/logging"
	"github.com/agentic-research/simpledb/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// v holds the store configuration: flags, SIMPLEDB_* variables and .env
	// files, in that order of precedence.
	v = viper.New()

	logLevel  string
	showStats bool
)

var rootCmd = &cobra.Command{
	Use:           "simpledb",
	Short:         "A JSON key/value store and a small relational table layer over SQLite",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logging.Setup(level)
		return v.BindPFlags(cmd.Flags())
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if showStats {
			metrics.Write(cmd.ErrOrStderr())
		}
	},
}

func init() {
	cobra.OnInitialize(func() { config.InitEnv(v) })

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn or error")
	pf.BoolVar(&showStats, "stats", false, "Print metrics in Prometheus text format after the command")

	pf.String(config.KeyPath, "", "Store file (default ./simple-db.<type>)")
	pf.String(config.KeyType, "", "Store type: json, yaml or sqlite (default from the path extension)")
	pf.Int(config.KeyCacheType, 0, "Cache mode: 0 passthrough, 1 isolated copy, 2 shared")
	pf.Bool(config.KeyCheck, false, "Re-read every write and fail on mismatch")
	pf.String(config.KeyName, config.DefaultName, "Table name for the sqlite store")
	pf.Duration(config.KeyFlushDelay, 0, "Coalesce writes for this long before flushing (0 writes through)")

	rootCmd.AddCommand(kvCmd, tableCmd, columnCmd, dbCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "simpledb:", err)
		os.Exit(1)
	}
}

// runWith executes args against the root command with the given output.
// Tests use it to drive the CLI in process.
func runWith(out io.Writer, args ...string) error {
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs(args)
	resetFlags(rootCmd)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	return rootCmd.Execute()
}

// resetFlags puts every flag back to its default so one in-process run does
// not leak into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.PersistentFlags().VisitAll(reset)
	c.Flags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}
