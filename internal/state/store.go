// Package state tracks, per report date, which hours have been processed.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/querytrail/querytrail/internal/storage"
)

// Status of a report date.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// HourlyState is the durable per-date completion record. It is the single
// source of truth for "did this hour run"; report objects are never consulted.
type HourlyState struct {
	ProcessedHours []int  `json:"processed_hours"`
	Status         Status `json:"status"`
}

// Has reports whether hour is already marked processed.
func (s HourlyState) Has(hour int) bool {
	return slices.Contains(s.ProcessedHours, hour)
}

// Store reads and writes HourlyState objects. Saves are unsynchronized
// read-modify-write: concurrent completions for the same date are
// last-write-wins, and the external fan-out engine is expected to serialize
// them.
type Store struct {
	store storage.ObjectStore
}

// NewStore creates a Store on the given object store.
func NewStore(store storage.ObjectStore) *Store {
	return &Store{store: store}
}

// Key returns the state object key for a date.
func Key(date time.Time) string {
	return fmt.Sprintf("hourly-state/%s.json", date.Format("2006_01_02"))
}

// Load returns the state for date. An absent object is the first run for that
// date and yields an empty in-progress state, not an error.
func (s *Store) Load(ctx context.Context, date time.Time) (HourlyState, error) {
	key := Key(date)
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return HourlyState{}, fmt.Errorf("state: %w", err)
	}
	if !ok {
		return HourlyState{ProcessedHours: []int{}, Status: StatusInProgress}, nil
	}
	data, err := s.store.Get(ctx, key)
	if err != nil {
		return HourlyState{}, fmt.Errorf("state: %w", err)
	}
	var st HourlyState
	if err := json.Unmarshal(data, &st); err != nil {
		return HourlyState{}, fmt.Errorf("state: parse %s: %w", key, err)
	}
	if st.ProcessedHours == nil {
		st.ProcessedHours = []int{}
	}
	return st, nil
}

// Save recomputes the status from hours and overwrites the state object
// wholesale. Hours are deduplicated and stored sorted.
func (s *Store) Save(ctx context.Context, date time.Time, hours []int) (HourlyState, error) {
	set := slices.Clone(hours)
	slices.Sort(set)
	set = slices.Compact(set)

	st := HourlyState{ProcessedHours: set, Status: StatusInProgress}
	if len(set) >= 24 {
		st.Status = StatusCompleted
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return HourlyState{}, fmt.Errorf("state: marshal: %w", err)
	}
	if err := s.store.Put(ctx, Key(date), data, "application/json"); err != nil {
		return HourlyState{}, fmt.Errorf("state: %w", err)
	}
	return st, nil
}

// MarkProcessed loads the date's state, adds hour, and saves.
func (s *Store) MarkProcessed(ctx context.Context, date time.Time, hour int) (HourlyState, error) {
	st, err := s.Load(ctx, date)
	if err != nil {
		return HourlyState{}, err
	}
	return s.Save(ctx, date, append(st.ProcessedHours, hour))
}
