// Package pipeline orchestrates the hourly harvest-correlate-persist run and
// the whole-day dispatch around it.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/querytrail/querytrail/internal/extract"
	"github.com/querytrail/querytrail/internal/metrics"
	"github.com/querytrail/querytrail/internal/state"
	"github.com/querytrail/querytrail/internal/trail"
)

// EventFetcher materializes all audit events in a window.
type EventFetcher interface {
	Fetch(ctx context.Context, w trail.Window) ([]types.Event, error)
}

// RecordExtractor maps raw events to report records.
type RecordExtractor interface {
	Extract(ctx context.Context, events []types.Event) []extract.Record
}

// ReportWriter persists one report object per (date, hour).
type ReportWriter interface {
	Write(ctx context.Context, date time.Time, hour int, records []extract.Record) (string, error)
}

// StateMarker records a successfully processed hour.
type StateMarker interface {
	MarkProcessed(ctx context.Context, date time.Time, hour int) (state.HourlyState, error)
}

// HourResult summarizes one hour unit of work.
type HourResult struct {
	ReportDate     string `json:"report_date"`
	Hour           int    `json:"hour"`
	EventsFetched  int    `json:"events_fetched"`
	RecordsWritten int    `json:"records_written"`
	ReportKey      string `json:"report_key,omitempty"`
	StateUpdated   bool   `json:"state_updated"`
	Error          string `json:"error,omitempty"`
}

// HourProcessor runs a single (date, hour) unit: fetch, extract, write report,
// mark state. All steps are sequential; each must fully complete before the
// next begins.
type HourProcessor struct {
	fetcher   EventFetcher
	extractor RecordExtractor
	sink      ReportWriter
	states    StateMarker
	loc       *time.Location
	logger    *slog.Logger
}

// NewHourProcessor wires the four pipeline stages.
func NewHourProcessor(f EventFetcher, x RecordExtractor, s ReportWriter, st StateMarker, loc *time.Location, logger *slog.Logger) *HourProcessor {
	return &HourProcessor{fetcher: f, extractor: x, sink: s, states: st, loc: loc, logger: logger}
}

// ProcessHour processes one hour of date. A fetch or report-write failure
// aborts the hour with no state change, so a later re-run retries it wholesale.
// A state-write failure after a successful report write is reported in the
// result but does not fail the hour: the report exists, the hour stays
// unmarked, and the next run regenerates the same report.
func (p *HourProcessor) ProcessHour(ctx context.Context, date time.Time, hour int) (HourResult, error) {
	started := time.Now()
	res := HourResult{ReportDate: date.Format("2006-01-02"), Hour: hour}

	w := trail.HourWindow(date, hour, p.loc)
	events, err := p.fetcher.Fetch(ctx, w)
	if err != nil {
		metrics.HoursProcessed.WithLabelValues("error").Inc()
		return res, fmt.Errorf("hour %d of %s: %w", hour, res.ReportDate, err)
	}
	res.EventsFetched = len(events)

	records := p.extractor.Extract(ctx, events)
	res.RecordsWritten = len(records)

	key, err := p.sink.Write(ctx, date, hour, records)
	if err != nil {
		metrics.HoursProcessed.WithLabelValues("error").Inc()
		return res, fmt.Errorf("hour %d of %s: %w", hour, res.ReportDate, err)
	}
	res.ReportKey = key
	metrics.RecordsWritten.Add(float64(len(records)))

	if _, err := p.states.MarkProcessed(ctx, date, hour); err != nil {
		// The report is already durable; leave the hour unmarked for re-run.
		p.logger.Error("state update failed after report write",
			"date", res.ReportDate, "hour", hour, "err", err)
	} else {
		res.StateUpdated = true
	}

	metrics.HoursProcessed.WithLabelValues("ok").Inc()
	metrics.HourDuration.Observe(time.Since(started).Seconds())
	p.logger.Info("hour processed",
		"date", res.ReportDate, "hour", hour,
		"events", res.EventsFetched, "records", res.RecordsWritten, "key", key)
	return res, nil
}
