package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querytrail/querytrail/internal/config"
	"github.com/querytrail/querytrail/internal/pipeline"
	"github.com/querytrail/querytrail/internal/state"
)

type fakeRunner struct {
	res pipeline.HourResult
	err error

	gotDate time.Time
	gotHour int
}

func (f *fakeRunner) ProcessHour(_ context.Context, date time.Time, hour int) (pipeline.HourResult, error) {
	f.gotDate, f.gotHour = date, hour
	return f.res, f.err
}

type fakeDispatcher struct {
	res     pipeline.DayResult
	err     error
	gotDate time.Time
}

func (f *fakeDispatcher) DispatchDay(_ context.Context, date time.Time) (pipeline.DayResult, error) {
	f.gotDate = date
	return f.res, f.err
}

type fakeStates struct {
	st  state.HourlyState
	err error
}

func (f *fakeStates) Load(context.Context, time.Time) (state.HourlyState, error) {
	return f.st, f.err
}

func newTestHandler(t *testing.T, b *Backend) (*Handler, *config.Loader) {
	t.Helper()
	loader, err := config.NewLoader("")
	require.NoError(t, err)
	loader.Config().Bucket = "tracking-logs"
	if b.Location == nil {
		b.Location = time.UTC
	}
	return New(b, loader), loader
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTriggerSingleHour(t *testing.T) {
	runner := &fakeRunner{res: pipeline.HourResult{ReportDate: "2024-01-15", Hour: 9, RecordsWritten: 2}}
	h, _ := newTestHandler(t, &Backend{Runner: runner, Dispatcher: &fakeDispatcher{}, States: &fakeStates{}})

	rec := doRequest(h, http.MethodPost, "/v1/runs", `{"report_date":"2024-01-15","hour":9}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 9, runner.gotHour)
	assert.Equal(t, "2024-01-15", runner.gotDate.Format("2006-01-02"))

	var res pipeline.HourResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.RecordsWritten)
}

func TestTriggerSingleHourFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("retry budget exceeded")}
	h, _ := newTestHandler(t, &Backend{Runner: runner, Dispatcher: &fakeDispatcher{}, States: &fakeStates{}})

	rec := doRequest(h, http.MethodPost, "/v1/runs", `{"report_date":"2024-01-15","hour":9}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "retry budget exceeded")
}

func TestTriggerWholeDay(t *testing.T) {
	disp := &fakeDispatcher{res: pipeline.DayResult{ReportDate: "2024-01-15", ExecutionARN: "arn:x"}}
	h, _ := newTestHandler(t, &Backend{Runner: &fakeRunner{}, Dispatcher: disp, States: &fakeStates{}})

	rec := doRequest(h, http.MethodPost, "/v1/runs", `{"report_date":"2024-01-15"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "2024-01-15", disp.gotDate.Format("2006-01-02"))
	assert.Contains(t, rec.Body.String(), "arn:x")
}

func TestTriggerDefaultsToYesterday(t *testing.T) {
	disp := &fakeDispatcher{}
	h, _ := newTestHandler(t, &Backend{Runner: &fakeRunner{}, Dispatcher: disp, States: &fakeStates{}})

	rec := doRequest(h, http.MethodPost, "/v1/runs", `{}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	wantDate := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	assert.Equal(t, wantDate, disp.gotDate.Format("2006-01-02"))
}

func TestTriggerValidation(t *testing.T) {
	h, _ := newTestHandler(t, &Backend{Runner: &fakeRunner{}, Dispatcher: &fakeDispatcher{}, States: &fakeStates{}})

	cases := []struct {
		name string
		body string
	}{
		{name: "bad json", body: `{`},
		{name: "bad date", body: `{"report_date":"15-01-2024"}`},
		{name: "hour too big", body: `{"report_date":"2024-01-15","hour":24}`},
		{name: "negative hour", body: `{"report_date":"2024-01-15","hour":-1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(h, http.MethodPost, "/v1/runs", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetState(t *testing.T) {
	states := &fakeStates{st: state.HourlyState{ProcessedHours: []int{3, 9}, Status: state.StatusInProgress}}
	h, _ := newTestHandler(t, &Backend{Runner: &fakeRunner{}, Dispatcher: &fakeDispatcher{}, States: states})

	rec := doRequest(h, http.MethodGet, "/v1/state/2024-01-15", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "2024-01-15", doc["report_date"])
	assert.Equal(t, "in_progress", doc["status"])
	assert.Equal(t, []interface{}{float64(3), float64(9)}, doc["processed_hours"])
}

func TestGetStateBadDate(t *testing.T) {
	h, _ := newTestHandler(t, &Backend{Runner: &fakeRunner{}, Dispatcher: &fakeDispatcher{}, States: &fakeStates{}})
	rec := doRequest(h, http.MethodGet, "/v1/state/not-a-date", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	h, loader := newTestHandler(t, &Backend{Runner: &fakeRunner{}, Dispatcher: &fakeDispatcher{}, States: &fakeStates{}})

	rec := doRequest(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// An invalid config flips readiness.
	loader.Config().Bucket = ""
	rec = doRequest(h, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSwapBackend(t *testing.T) {
	first := &fakeDispatcher{res: pipeline.DayResult{ExecutionARN: "arn:first"}}
	h, _ := newTestHandler(t, &Backend{Runner: &fakeRunner{}, Dispatcher: first, States: &fakeStates{}})

	second := &fakeDispatcher{res: pipeline.DayResult{ExecutionARN: "arn:second"}}
	h.Swap(&Backend{Runner: &fakeRunner{}, Dispatcher: second, States: &fakeStates{}, Location: time.UTC})

	rec := doRequest(h, http.MethodPost, "/v1/runs", `{"report_date":"2024-01-15"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "arn:second")
	assert.Empty(t, first.gotDate)
}
