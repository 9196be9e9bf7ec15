// Package cli assembles the querytrail command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the querytrail root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "querytrail",
		Short: "Hourly audit-trail query reporting",
		Long: `querytrail harvests audit-trail events for one-hour windows, correlates
each query start with its completion metadata, and writes hour-partitioned
reports plus per-date completion state to object storage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(opts.Verbose)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config (env overrides apply either way)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		NewRunCommand(opts),
		NewBackfillCommand(opts),
		NewServeCommand(opts),
	)
	return cmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
