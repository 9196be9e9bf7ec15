// Package extract filters audit events down to tracked query starts and maps
// each to a flat report record.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"

	"github.com/querytrail/querytrail/internal/correlate"
	"github.com/querytrail/querytrail/internal/metrics"
)

// trackedAction is the only audit action that produces a record.
const trackedAction = "StartQueryExecution"

// errNotTracked marks an event outside the tracked action. Not an error
// condition, simply out of scope.
var errNotTracked = errors.New("extract: event is not a tracked action")

// CompletionLookup is the correlation dependency. Lookups are best-effort and
// never fail; see the correlate package.
type CompletionLookup interface {
	Lookup(ctx context.Context, queryID string) correlate.Completion
}

// Extractor turns raw audit events into Records.
type Extractor struct {
	correlator CompletionLookup
	loc        *time.Location
	logger     *slog.Logger
}

// New creates an Extractor that renders timestamps in loc.
func New(correlator CompletionLookup, loc *time.Location, logger *slog.Logger) *Extractor {
	return &Extractor{correlator: correlator, loc: loc, logger: logger}
}

// callDetail is the structured sub-document embedded in each audit event,
// describing the originating API call.
type callDetail struct {
	EventName    string `json:"eventName"`
	UserIdentity struct {
		UserName string `json:"userName"`
	} `json:"userIdentity"`
	RequestParameters struct {
		QueryExecutionID string `json:"queryExecutionId"`
	} `json:"requestParameters"`
	ResponseElements struct {
		QueryExecutionID string `json:"queryExecutionId"`
	} `json:"responseElements"`
}

// Extract maps events to records, preserving input order. Non-tracked events
// are discarded silently; a malformed event is logged and dropped without
// aborting the batch. No deduplication: duplicate deliveries yield duplicate
// records.
func (x *Extractor) Extract(ctx context.Context, events []types.Event) []Record {
	records := make([]Record, 0, len(events))
	for _, ev := range events {
		rec, err := x.record(ctx, ev)
		if errors.Is(err, errNotTracked) {
			continue
		}
		if err != nil {
			x.logger.Error("failed to extract event", "event_id", aws.ToString(ev.EventId), "err", err)
			metrics.EventsDropped.Inc()
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (x *Extractor) record(ctx context.Context, ev types.Event) (Record, error) {
	raw := aws.ToString(ev.CloudTrailEvent)
	if raw == "" {
		return Record{}, errors.New("missing event detail payload")
	}
	var detail callDetail
	if err := json.Unmarshal([]byte(raw), &detail); err != nil {
		return Record{}, fmt.Errorf("parse event detail: %w", err)
	}
	if detail.EventName != trackedAction {
		return Record{}, errNotTracked
	}

	username := aws.ToString(ev.Username)
	if username == "" {
		username = detail.UserIdentity.UserName
	}
	if username == "" {
		username = SentinelUnknown
	}

	if ev.EventTime == nil {
		return Record{}, errors.New("event has no timestamp")
	}
	rec := Record{
		Username:   username,
		QueryStart: ev.EventTime.In(x.loc).Format(time.RFC3339),
		QueryEnd:   SentinelNA,
		QueryText:  SentinelRedacted,
		QueryID:    SentinelNA,
		Workgroup:  SentinelUnknown,
	}

	// The operation reports the query ID in the response on success and in the
	// request on some failure paths.
	queryID := detail.ResponseElements.QueryExecutionID
	if queryID == "" {
		queryID = detail.RequestParameters.QueryExecutionID
	}
	if queryID == "" {
		return rec, nil
	}
	rec.QueryID = queryID

	comp := x.correlator.Lookup(ctx, queryID)
	if comp.EndTime != nil {
		rec.QueryEnd = comp.EndTime.In(x.loc).Format(time.RFC3339)
	}
	if comp.QueryText != "" {
		rec.QueryText = comp.QueryText
	}
	if comp.Workgroup != "" {
		rec.Workgroup = comp.Workgroup
	}
	return rec, nil
}
