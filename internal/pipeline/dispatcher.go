package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/google/uuid"

	"github.com/querytrail/querytrail/internal/awsapi"
	"github.com/querytrail/querytrail/internal/metrics"
)

// HourRunner is the single-hour unit of work invoked per fan-out entry.
type HourRunner interface {
	ProcessHour(ctx context.Context, date time.Time, hour int) (HourResult, error)
}

// hourEntry is one element of the fan-out payload handed to the workflow engine.
type hourEntry struct {
	Hour       int    `json:"hour"`
	ReportDate string `json:"report_date"` // "YYYY/MM/DD"
}

type fanoutPayload struct {
	Hours []hourEntry `json:"hours"`
}

// DayResult summarizes a whole-day dispatch. ExecutionARN is set on the
// workflow path; Hours on the local path.
type DayResult struct {
	RunID        string       `json:"run_id"`
	ReportDate   string       `json:"report_date"`
	ExecutionARN string       `json:"execution_arn,omitempty"`
	Hours        []HourResult `json:"hours,omitempty"`
	Failed       int          `json:"failed"`
}

// Dispatcher decides how a whole day is executed: fanned out to the workflow
// engine when a state machine is configured, or run on a local worker pool
// otherwise. Hours are independent units; the only shared artifact is the
// per-date state object.
type Dispatcher struct {
	runner          HourRunner
	workflow        awsapi.StepFunctions
	stateMachineARN string
	hourWorkers     int
	logger          *slog.Logger
}

// NewDispatcher creates a Dispatcher. workflow may be nil when no state
// machine ARN is configured.
func NewDispatcher(runner HourRunner, workflow awsapi.StepFunctions, stateMachineARN string, hourWorkers int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		runner:          runner,
		workflow:        workflow,
		stateMachineARN: stateMachineARN,
		hourWorkers:     hourWorkers,
		logger:          logger,
	}
}

// DispatchDay runs all 24 hours of date.
func (d *Dispatcher) DispatchDay(ctx context.Context, date time.Time) (DayResult, error) {
	res := DayResult{
		RunID:      uuid.New().String(),
		ReportDate: date.Format("2006-01-02"),
	}

	if d.stateMachineARN != "" {
		arn, err := d.startWorkflow(ctx, date, res.RunID)
		if err != nil {
			return res, err
		}
		res.ExecutionARN = arn
		metrics.DispatchesStarted.WithLabelValues("workflow").Inc()
		d.logger.Info("day fanned out to workflow", "date", res.ReportDate, "execution", arn)
		return res, nil
	}

	metrics.DispatchesStarted.WithLabelValues("local").Inc()
	res.Hours = d.runLocal(ctx, date)
	for _, h := range res.Hours {
		if h.Error != "" {
			res.Failed++
		}
	}
	d.logger.Info("day processed locally",
		"date", res.ReportDate, "hours", len(res.Hours), "failed", res.Failed)
	return res, nil
}

// DispatchRange dispatches every day in the inclusive [start, end] range, used
// for backfills.
func (d *Dispatcher) DispatchRange(ctx context.Context, start, end time.Time) ([]DayResult, error) {
	var results []DayResult
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		res, err := d.DispatchDay(ctx, day)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *Dispatcher) startWorkflow(ctx context.Context, date time.Time, runID string) (string, error) {
	payload := fanoutPayload{Hours: make([]hourEntry, 0, 24)}
	for h := 0; h < 24; h++ {
		payload.Hours = append(payload.Hours, hourEntry{
			Hour:       h,
			ReportDate: date.Format("2006/01/02"),
		})
	}
	input, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("dispatch: marshal fan-out payload: %w", err)
	}

	out, err := d.workflow.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(d.stateMachineARN),
		Input:           aws.String(string(input)),
		Name:            aws.String("querytrail-" + date.Format("2006-01-02") + "-" + runID),
	})
	if err != nil {
		return "", fmt.Errorf("dispatch: start execution: %w", err)
	}
	return aws.ToString(out.ExecutionArn), nil
}

// runLocal processes the 24 hours on a bounded worker pool. A failed hour is
// captured in its result; it never stops the other hours.
func (d *Dispatcher) runLocal(ctx context.Context, date time.Time) []HourResult {
	resultC := make(chan HourResult, 24)
	pool := newWorkerPool(ctx, d.hourWorkers, 24, func(ctx context.Context, hour int) {
		res, err := d.runner.ProcessHour(ctx, date, hour)
		if err != nil {
			res.Error = err.Error()
		}
		resultC <- res
	})
	for h := 0; h < 24; h++ {
		pool.Submit(h)
	}
	pool.Drain()
	close(resultC)

	results := make([]HourResult, 0, 24)
	for res := range resultC {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Hour < results[j].Hour })
	return results
}
