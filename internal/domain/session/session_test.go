package session

import (
	"testing"
	"time"
)

func TestNewCopiesItemIDs(t *testing.T) {
	ids := []string{"a", "b"}
	s := New("tok", "wf", "q", ids, false, time.Unix(0, 0).UTC(), time.Hour)
	ids[0] = "mutated"
	if s.ItemIDs[0] != "a" {
		t.Fatalf("expected snapshot to be isolated, got %q", s.ItemIDs[0])
	}
	if !s.ExpiresAt.Equal(s.CreatedAt.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", s.ExpiresAt)
	}
}

func TestAdvanceMovesBothCounters(t *testing.T) {
	s := New("tok", "wf", "q", []string{"a", "b"}, false, time.Now(), time.Hour)
	for i := 1; i <= 2; i++ {
		if err := s.Advance(); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if s.Cursor != i || s.ProcessedCount != i {
			t.Fatalf("after %d advances cursor=%d processed=%d", i, s.Cursor, s.ProcessedCount)
		}
	}
	if s.HasMore() {
		t.Fatal("expected exhausted session")
	}
	if _, ok := s.CurrentItemID(); ok {
		t.Fatal("expected no current item")
	}
	if err := s.Advance(); err == nil {
		t.Fatal("expected advance past end to fail")
	}
}

func TestIsExpiredAtIsStrict(t *testing.T) {
	now := time.Now()
	s := New("tok", "wf", "q", nil, false, now, time.Minute)
	if s.IsExpiredAt(s.ExpiresAt) {
		t.Fatal("session should still be live at its exact expiry instant")
	}
	if !s.IsExpiredAt(s.ExpiresAt.Add(time.Nanosecond)) {
		t.Fatal("expected expiry just past deadline")
	}
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"not json":    `{`,
		"no token":    `{"item_ids":[],"expires_at":"2030-01-01T00:00:00Z"}`,
		"no item ids": `{"token":"t","expires_at":"2030-01-01T00:00:00Z"}`,
		"no expiry":   `{"token":"t","item_ids":[]}`,
		"cursor past": `{"token":"t","item_ids":["a"],"cursor":2,"expires_at":"2030-01-01T00:00:00Z"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("%s: expected decode failure", name)
		}
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	raw := `{"token":"t","item_ids":["a"],"cursor":1,"expires_at":"2030-01-01T00:00:00Z","extra":true}`
	s, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.Cursor != 1 {
		t.Fatalf("unexpected cursor %d", s.Cursor)
	}
}
