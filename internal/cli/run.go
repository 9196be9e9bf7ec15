package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/querytrail/querytrail/internal/config"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Date string
	Hour int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a single hour or dispatch a whole day",
		Long: `Process one (date, hour) unit directly, or dispatch all 24 hours of a day.

Whole-day runs fan out through the configured workflow state machine; without
one, the hours run locally on a bounded worker pool. The date defaults to
yesterday in the configured timezone.

Example:
  querytrail run --date 2024-01-15 --hour 9
  querytrail run --date 2024-01-15
  querytrail run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Date, "date", "", "report date (YYYY-MM-DD), default yesterday")
	cmd.Flags().IntVar(&opts.Hour, "hour", -1, "hour 0-23; omit to dispatch the whole day")
	return cmd
}

func runRun(cmd *cobra.Command, opts *RunOptions) error {
	ctx := cmd.Context()
	logger := slog.Default()

	loader, err := config.NewLoader(opts.ConfigPath)
	if err != nil {
		return err
	}
	rt, err := buildRuntime(ctx, loader.Config(), logger)
	if err != nil {
		return err
	}

	date := yesterday(rt.location)
	if opts.Date != "" {
		date, err = time.ParseInLocation("2006-01-02", opts.Date, rt.location)
		if err != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
	}

	if opts.Hour >= 0 {
		if opts.Hour > 23 {
			return fmt.Errorf("--hour must be 0-23, got %d", opts.Hour)
		}
		res, err := rt.processor.ProcessHour(ctx, date, opts.Hour)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	}

	res, err := rt.dispatcher.DispatchDay(ctx, date)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
