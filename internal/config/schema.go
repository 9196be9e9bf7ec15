package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Bucket          string       `yaml:"bucket"`
	OutputType      string       `yaml:"output_type"` // "csv" or "json"
	Timezone        string       `yaml:"timezone"`
	StateMachineARN string       `yaml:"state_machine_arn"`
	Fetch           FetchConf    `yaml:"fetch"`
	Dispatch        DispatchConf `yaml:"dispatch"`
	Serve           ServeConf    `yaml:"serve"`
	Backfill        BackfillConf `yaml:"backfill"`
}

// FetchConf tunes the audit-trail lookup loop.
type FetchConf struct {
	PageSize    int32 `yaml:"page_size"`
	MaxAttempts int   `yaml:"max_attempts"`
	BaseDelayMs int   `yaml:"base_delay_ms"`
}

// BaseDelay returns the initial backoff delay as a duration.
func (f FetchConf) BaseDelay() time.Duration {
	return time.Duration(f.BaseDelayMs) * time.Millisecond
}

// DispatchConf controls local whole-day fan-out when no state machine is configured.
type DispatchConf struct {
	HourWorkers int `yaml:"hour_workers"`
}

// ServeConf holds settings for the long-running serve mode.
type ServeConf struct {
	Addr string `yaml:"addr"`
	// DailyRunAt is a local wall-clock time ("HH:MM") at which the previous
	// day is dispatched. Empty disables the scheduler.
	DailyRunAt string `yaml:"daily_run_at"`
}

// BackfillConf is an optional inclusive date range ("2006-01-02") used by the
// backfill command when no flags are given.
type BackfillConf struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
