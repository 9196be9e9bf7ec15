package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks the config for:
//   - A target bucket
//   - A known output type and a resolvable timezone
//   - Sane fetch and dispatch bounds
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Bucket == "" {
		errs = append(errs, "bucket is required")
	}
	switch cfg.OutputType {
	case "csv", "json":
	default:
		errs = append(errs, fmt.Sprintf("output_type must be csv or json, got %q", cfg.OutputType))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q: %v", cfg.Timezone, err))
	}
	if cfg.Fetch.PageSize < 1 || cfg.Fetch.PageSize > 50 {
		// The audit lookup API caps page size at 50.
		errs = append(errs, fmt.Sprintf("fetch.page_size must be 1-50, got %d", cfg.Fetch.PageSize))
	}
	if cfg.Fetch.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("fetch.max_attempts must be >= 1, got %d", cfg.Fetch.MaxAttempts))
	}
	if cfg.Dispatch.HourWorkers < 1 {
		errs = append(errs, fmt.Sprintf("dispatch.hour_workers must be >= 1, got %d", cfg.Dispatch.HourWorkers))
	}
	if cfg.Serve.DailyRunAt != "" {
		if _, err := time.Parse("15:04", cfg.Serve.DailyRunAt); err != nil {
			errs = append(errs, fmt.Sprintf("serve.daily_run_at must be HH:MM, got %q", cfg.Serve.DailyRunAt))
		}
	}
	for _, d := range []struct{ name, v string }{
		{"backfill.start_date", cfg.Backfill.StartDate},
		{"backfill.end_date", cfg.Backfill.EndDate},
	} {
		if d.v == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d.v); err != nil {
			errs = append(errs, fmt.Sprintf("%s must be YYYY-MM-DD, got %q", d.name, d.v))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
