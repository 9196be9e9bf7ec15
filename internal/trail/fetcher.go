// Package trail retrieves audit events from CloudTrail for one-hour windows.
package trail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/smithy-go"

	"github.com/querytrail/querytrail/internal/awsapi"
	"github.com/querytrail/querytrail/internal/config"
	"github.com/querytrail/querytrail/internal/metrics"
)

// ErrRetryBudget is returned when every lookup attempt for a page was throttled.
// The hour is not marked processed, so a re-run retries it from scratch.
var ErrRetryBudget = errors.New("trail: retry budget exceeded for audit lookup")

// Fetcher pages through audit events for a window, retrying throttled pages
// with capped exponential backoff plus jitter. Only throttling is retried;
// every other failure propagates immediately.
type Fetcher struct {
	client      awsapi.CloudTrail
	pageSize    int32
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger

	// Overridable in tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

// NewFetcher creates a Fetcher with the given lookup client and tuning.
func NewFetcher(client awsapi.CloudTrail, conf config.FetchConf, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:      client,
		pageSize:    conf.PageSize,
		maxAttempts: conf.MaxAttempts,
		baseDelay:   conf.BaseDelay(),
		logger:      logger,
		sleep:       sleepCtx,
		jitter: func(d time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(d) + 1))
		},
	}
}

// Fetch accumulates every page of events in w and returns the materialized
// list. Downstream correlation needs random access and the per-hour volume is
// bounded, so no lazy stream.
func (f *Fetcher) Fetch(ctx context.Context, w Window) ([]types.Event, error) {
	var events []types.Event
	var cursor *string
	for {
		in := &cloudtrail.LookupEventsInput{
			StartTime:  aws.Time(w.Start),
			EndTime:    aws.Time(w.End),
			MaxResults: aws.Int32(f.pageSize),
			NextToken:  cursor,
		}
		out, err := f.lookupPage(ctx, in)
		if err != nil {
			return nil, err
		}
		events = append(events, out.Events...)
		cursor = out.NextToken
		if cursor == nil || *cursor == "" {
			break
		}
	}
	metrics.EventsFetched.Add(float64(len(events)))
	return events, nil
}

// lookupPage performs one lookup call with backoff on throttling: delay starts
// at baseDelay, doubles per attempt, and a uniform jitter in [0, delay] is
// added before each sleep.
func (f *Fetcher) lookupPage(ctx context.Context, in *cloudtrail.LookupEventsInput) (*cloudtrail.LookupEventsOutput, error) {
	delay := f.baseDelay
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		out, err := f.client.LookupEvents(ctx, in)
		if err == nil {
			return out, nil
		}
		if !isThrottle(err) {
			return nil, fmt.Errorf("trail: lookup events: %w", err)
		}
		if attempt == f.maxAttempts {
			break
		}
		wait := delay + f.jitter(delay)
		f.logger.Warn("audit lookup throttled", "attempt", attempt, "retry_in", wait)
		metrics.ThrottleRetries.Inc()
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, ErrRetryBudget
}

func isThrottle(err error) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ThrottlingException"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
