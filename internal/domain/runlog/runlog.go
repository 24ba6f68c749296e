// Package runlog records every action-executor invocation made while
// stepping a session, so failures can be audited after the driver exits.
package runlog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Record struct {
	RunID         string    `json:"run_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	TokenPrefix   string    `json:"token_prefix,omitempty"`
	WorkflowID    string    `json:"workflow_id,omitempty"`
	ItemID        string    `json:"item_id"`
	Action        string    `json:"action"`
	Status        Status    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

func (r Record) Validate() error {
	if r.RunID == "" {
		return errors.New("run id cannot be empty")
	}
	if r.Action == "" {
		return errors.New("action cannot be empty")
	}
	switch r.Status {
	case StatusSucceeded, StatusFailed:
	default:
		return errors.New("status must be succeeded or failed")
	}
	return nil
}

// Store is append-only apart from retention pruning. List returns records
// oldest first.
type Store interface {
	Append(ctx context.Context, record Record) error
	List(ctx context.Context) ([]Record, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	SortByStart(out)
	return out, nil
}

func (s *InMemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	deleted := 0
	for _, record := range s.records {
		if record.Timestamp().Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, record)
	}
	s.records = kept
	return deleted, nil
}

// Timestamp is the instant used for retention.
func (r Record) Timestamp() time.Time {
	if r.EndedAt.IsZero() {
		return r.StartedAt
	}
	return r.EndedAt
}

func SortByStart(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
}
