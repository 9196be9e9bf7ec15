// Package report serializes record batches into hour-partitioned report objects.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/querytrail/querytrail/internal/extract"
	"github.com/querytrail/querytrail/internal/storage"
)

var csvHeader = []string{
	"RunTime", "Username", "QueryStartTime", "QueryEndTime",
	"Query", "QueryExecutionId", "WorkGroup",
}

// row is the structured (JSON) shape of one record.
type row struct {
	RunTime   string `json:"run_time"`
	Username  string `json:"username"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Query     string `json:"query"`
	QueryID   string `json:"query_execution_id"`
	Workgroup string `json:"workgroup"`
}

// Sink writes one immutable report object per (date, hour). Re-running an hour
// overwrites the object wholesale; there is no partial or append write.
type Sink struct {
	store  storage.ObjectStore
	format string // "csv" or "json"
	loc    *time.Location

	// now stamps each row with the wall-clock time of the write; tests pin it.
	now func() time.Time
}

// NewSink creates a Sink emitting the given format ("csv" or "json").
func NewSink(store storage.ObjectStore, format string, loc *time.Location) *Sink {
	return &Sink{store: store, format: format, loc: loc, now: time.Now}
}

// Key returns the deterministic object key for a report.
func Key(date time.Time, hour int, format string) string {
	return fmt.Sprintf("reports/year=%04d/month=%02d/day=%02d/hour=%d/report_%s_h%d.%s",
		date.Year(), date.Month(), date.Day(), hour, date.Format("2006_01_02"), hour, format)
}

// Write serializes records and overwrites the report object for (date, hour),
// returning the object key.
func (s *Sink) Write(ctx context.Context, date time.Time, hour int, records []extract.Record) (string, error) {
	key := Key(date, hour, s.format)
	runTime := s.now().In(s.loc).Format(time.RFC3339)

	var body []byte
	var contentType string
	var err error
	switch s.format {
	case "json":
		body, err = renderJSON(runTime, records)
		contentType = "application/json"
	default:
		body, err = renderCSV(runTime, records)
		contentType = "text/csv"
	}
	if err != nil {
		return "", fmt.Errorf("report: render %s: %w", key, err)
	}

	if err := s.store.Put(ctx, key, body, contentType); err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	return key, nil
}

func renderCSV(runTime string, records []extract.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range records {
		if err := w.Write([]string{
			runTime, r.Username, r.QueryStart, r.QueryEnd, r.QueryText, r.QueryID, r.Workgroup,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderJSON(runTime string, records []extract.Record) ([]byte, error) {
	rows := make([]row, 0, len(records))
	for _, r := range records {
		rows = append(rows, row{
			RunTime:   runTime,
			Username:  r.Username,
			StartTime: r.QueryStart,
			EndTime:   r.QueryEnd,
			Query:     r.QueryText,
			QueryID:   r.QueryID,
			Workgroup: r.Workgroup,
		})
	}
	return json.MarshalIndent(rows, "", "  ")
}
