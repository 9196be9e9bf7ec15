// Package correlate enriches query-start events with completion metadata from
// the query-execution service.
package correlate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"

	"github.com/querytrail/querytrail/internal/awsapi"
	"github.com/querytrail/querytrail/internal/metrics"
)

// Completion holds the best-effort metadata for a finished query. Unset fields
// mean the lookup failed or the service had nothing; callers substitute their
// own sentinels.
type Completion struct {
	EndTime   *time.Time
	QueryText string
	Workgroup string
}

// Correlator performs single-shot completion lookups. Correlation is
// enrichment, not essential data: every failure degrades to a zero Completion
// and is never retried.
type Correlator struct {
	client awsapi.Athena
	logger *slog.Logger
}

// New creates a Correlator.
func New(client awsapi.Athena, logger *slog.Logger) *Correlator {
	return &Correlator{client: client, logger: logger}
}

// Lookup fetches completion metadata for queryID. It never fails: not-found,
// transient errors, and malformed responses all return the zero Completion.
func (c *Correlator) Lookup(ctx context.Context, queryID string) Completion {
	out, err := c.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(queryID),
	})
	if err != nil {
		c.logger.Warn("completion lookup failed", "query_id", queryID, "err", err)
		metrics.CorrelationFailures.Inc()
		return Completion{}
	}

	var comp Completion
	qe := out.QueryExecution
	if qe == nil {
		return comp
	}
	if qe.Status != nil && qe.Status.CompletionDateTime != nil {
		t := *qe.Status.CompletionDateTime
		comp.EndTime = &t
	}
	if q := aws.ToString(qe.Query); q != "" {
		comp.QueryText = strings.TrimSpace(q)
	}
	comp.Workgroup = aws.ToString(qe.WorkGroup)
	return comp
}
