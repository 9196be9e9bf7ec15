package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/querytrail/querytrail/internal/config"
)

// BackfillOptions holds flags for the backfill command.
type BackfillOptions struct {
	*RootOptions
	Start string
	End   string
}

// NewBackfillCommand creates the backfill command.
func NewBackfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackfillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Dispatch every day in an inclusive date range",
		Long: `Dispatch whole-day runs for every day between --start and --end, inclusive.

Hours already marked processed are still re-run; reports are overwritten in
place and the completion state converges, so re-running a range is safe.
Flags fall back to backfill.start_date / backfill.end_date from the config.

Example:
  querytrail backfill --start 2024-01-10 --end 2024-01-15`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Start, "start", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.End, "end", "", "last date (YYYY-MM-DD), inclusive")
	return cmd
}

func runBackfill(cmd *cobra.Command, opts *BackfillOptions) error {
	ctx := cmd.Context()
	logger := slog.Default()

	loader, err := config.NewLoader(opts.ConfigPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}

	startStr, endStr := opts.Start, opts.End
	if startStr == "" {
		startStr = cfg.Backfill.StartDate
	}
	if endStr == "" {
		endStr = cfg.Backfill.EndDate
	}
	if startStr == "" || endStr == "" {
		return fmt.Errorf("backfill requires --start and --end (or backfill.* in the config)")
	}

	start, err := time.ParseInLocation("2006-01-02", startStr, rt.location)
	if err != nil {
		return fmt.Errorf("--start must be YYYY-MM-DD: %w", err)
	}
	end, err := time.ParseInLocation("2006-01-02", endStr, rt.location)
	if err != nil {
		return fmt.Errorf("--end must be YYYY-MM-DD: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("--end %s is before --start %s", endStr, startStr)
	}

	results, err := rt.dispatcher.DispatchRange(ctx, start, end)
	if err != nil {
		return err
	}
	return printJSON(cmd, results)
}
