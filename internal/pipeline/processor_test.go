package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querytrail/querytrail/internal/correlate"
	"github.com/querytrail/querytrail/internal/extract"
	"github.com/querytrail/querytrail/internal/report"
	"github.com/querytrail/querytrail/internal/state"
	"github.com/querytrail/querytrail/internal/storage"
	"github.com/querytrail/querytrail/internal/trail"
)

// fakeFetcher returns a canned event list or error; it records the window.
type fakeFetcher struct {
	events []types.Event
	err    error
	window trail.Window
}

func (f *fakeFetcher) Fetch(_ context.Context, w trail.Window) ([]types.Event, error) {
	f.window = w
	return f.events, f.err
}

type noopLookup struct{}

func (noopLookup) Lookup(context.Context, string) correlate.Completion {
	return correlate.Completion{}
}

// failingSink rejects every write.
type failingSink struct{}

func (failingSink) Write(context.Context, time.Time, int, []extract.Record) (string, error) {
	return "", errors.New("storage unavailable")
}

// failingMarker rejects every state update.
type failingMarker struct{}

func (failingMarker) MarkProcessed(context.Context, time.Time, int) (state.HourlyState, error) {
	return state.HourlyState{}, errors.New("state write denied")
}

func nyc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func trackedEvent(id, username, queryID string, at time.Time) types.Event {
	detail := `{"eventName":"StartQueryExecution","responseElements":{"queryExecutionId":"` + queryID + `"}}`
	return types.Event{
		EventId:         aws.String(id),
		EventTime:       aws.Time(at),
		Username:        aws.String(username),
		CloudTrailEvent: aws.String(detail),
	}
}

func unrelatedEvent(id string, at time.Time) types.Event {
	return types.Event{
		EventId:         aws.String(id),
		EventTime:       aws.Time(at),
		CloudTrailEvent: aws.String(`{"eventName":"ListBuckets"}`),
	}
}

// newTestProcessor wires a processor with real extract/report/state stages on
// an in-memory store, faking only the fetch.
func newTestProcessor(t *testing.T, fetcher EventFetcher, mem *storage.MemStore) *HourProcessor {
	t.Helper()
	loc := nyc(t)
	logger := slog.Default()
	return NewHourProcessor(
		fetcher,
		extract.New(noopLookup{}, loc, logger),
		report.NewSink(mem, "csv", loc),
		state.NewStore(mem),
		loc,
		logger,
	)
}

func TestProcessHour(t *testing.T) {
	// Window 2024-01-15 09:00-10:00 local: 3 raw events, 2 tracked, 1 unrelated.
	loc := nyc(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	at := time.Date(2024, 1, 15, 14, 5, 0, 0, time.UTC)
	fetcher := &fakeFetcher{events: []types.Event{
		trackedEvent("e1", "alice", "q-1", at),
		unrelatedEvent("e2", at),
		trackedEvent("e3", "bob", "q-2", at.Add(time.Minute)),
	}}
	mem := storage.NewMemStore()
	p := newTestProcessor(t, fetcher, mem)

	res, err := p.ProcessHour(context.Background(), date, 9)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-15", res.ReportDate)
	assert.Equal(t, 9, res.Hour)
	assert.Equal(t, 3, res.EventsFetched)
	assert.Equal(t, 2, res.RecordsWritten)
	assert.True(t, res.StateUpdated)

	// The fetch window is the configured local hour.
	assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, loc), fetcher.window.Start)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, loc), fetcher.window.End)

	// One report object with header + 2 rows.
	data, err := mem.Get(context.Background(), res.ReportKey)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	// Hour 9 is now marked processed for the date.
	st, err := state.NewStore(mem).Load(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, []int{9}, st.ProcessedHours)
	assert.Equal(t, state.StatusInProgress, st.Status)
}

func TestProcessHourEmptyWindow(t *testing.T) {
	loc := nyc(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	mem := storage.NewMemStore()
	p := newTestProcessor(t, &fakeFetcher{}, mem)

	res, err := p.ProcessHour(context.Background(), date, 0)
	require.NoError(t, err)
	assert.Zero(t, res.EventsFetched)
	assert.Zero(t, res.RecordsWritten)
	assert.NotEmpty(t, res.ReportKey)
	assert.True(t, res.StateUpdated)
}

func TestProcessHourFetchFailure(t *testing.T) {
	loc := nyc(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	mem := storage.NewMemStore()
	p := newTestProcessor(t, &fakeFetcher{err: trail.ErrRetryBudget}, mem)

	_, err := p.ProcessHour(context.Background(), date, 9)
	require.ErrorIs(t, err, trail.ErrRetryBudget)

	// Neither artifact nor completion marker exists.
	assert.Empty(t, mem.Keys())
}

func TestProcessHourReportWriteFailure(t *testing.T) {
	loc := nyc(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	mem := storage.NewMemStore()
	logger := slog.Default()
	p := NewHourProcessor(
		&fakeFetcher{events: []types.Event{trackedEvent("e1", "alice", "q-1", time.Now())}},
		extract.New(noopLookup{}, loc, logger),
		failingSink{},
		state.NewStore(mem),
		loc,
		logger,
	)

	_, err := p.ProcessHour(context.Background(), date, 9)
	require.Error(t, err)

	// A failed report write must not mark the hour processed.
	st, err := state.NewStore(mem).Load(context.Background(), date)
	require.NoError(t, err)
	assert.Empty(t, st.ProcessedHours)
}

func TestProcessHourStateWriteFailureIsNonFatal(t *testing.T) {
	loc := nyc(t)
	date := time.Date(2024, 1, 15, 0, 0, 0, 0, loc)
	mem := storage.NewMemStore()
	logger := slog.Default()
	p := NewHourProcessor(
		&fakeFetcher{},
		extract.New(noopLookup{}, loc, logger),
		report.NewSink(mem, "csv", loc),
		failingMarker{},
		loc,
		logger,
	)

	res, err := p.ProcessHour(context.Background(), date, 9)
	require.NoError(t, err)

	// Inconsistent but safe: the report exists, the hour stays unmarked.
	assert.False(t, res.StateUpdated)
	ok, err := mem.Exists(context.Background(), res.ReportKey)
	require.NoError(t, err)
	assert.True(t, ok)
}
