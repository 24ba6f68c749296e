package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Session is the persisted progress of one driver through one batch.
type Session struct {
	Token            string    `json:"token"`
	WorkflowID       string    `json:"workflow_id"`
	Query            string    `json:"query"`
	SkipMarksHandled bool      `json:"skip_marks_handled"`
	ItemIDs          []string  `json:"item_ids"`
	Cursor           int       `json:"cursor"`
	ProcessedCount   int       `json:"processed_count"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// New builds a session at cursor zero. itemIDs is copied so later changes
// by the caller never reach the snapshot.
func New(token, workflowID, query string, itemIDs []string, skipMarksHandled bool, now time.Time, ttl time.Duration) *Session {
	ids := make([]string, len(itemIDs))
	copy(ids, itemIDs)
	return &Session{
		Token:            token,
		WorkflowID:       workflowID,
		Query:            query,
		SkipMarksHandled: skipMarksHandled,
		ItemIDs:          ids,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
	}
}

func (s *Session) Total() int {
	return len(s.ItemIDs)
}

func (s *Session) HasMore() bool {
	return s.Cursor < len(s.ItemIDs)
}

// CurrentItemID returns the item under the cursor, or false once exhausted.
func (s *Session) CurrentItemID() (string, bool) {
	if !s.HasMore() {
		return "", false
	}
	return s.ItemIDs[s.Cursor], true
}

func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Advance moves past the current item. Both counters move by exactly one.
func (s *Session) Advance() error {
	if !s.HasMore() {
		return errors.New("session has no remaining items")
	}
	s.Cursor++
	s.ProcessedCount++
	return nil
}

// Validate reports records that are missing required fields or carry an
// impossible cursor.
func (s *Session) Validate() error {
	switch {
	case s.Token == "":
		return errors.New("missing token")
	case s.ItemIDs == nil:
		return errors.New("missing item_ids")
	case s.ExpiresAt.IsZero():
		return errors.New("missing expires_at")
	case s.Cursor < 0 || s.Cursor > len(s.ItemIDs):
		return fmt.Errorf("cursor %d out of range for %d items", s.Cursor, len(s.ItemIDs))
	case s.ProcessedCount < 0:
		return fmt.Errorf("negative processed_count %d", s.ProcessedCount)
	}
	return nil
}

// Decode parses and validates one persisted record. Unknown fields are
// ignored.
func Decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func Encode(s *Session) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
