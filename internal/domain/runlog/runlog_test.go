package runlog

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryStoreDeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()

	old := Record{
		RunID:     "old-1",
		ItemID:    "msg-1",
		Action:    "archive",
		Status:    StatusSucceeded,
		StartedAt: now.Add(-48 * time.Hour),
		EndedAt:   now.Add(-47 * time.Hour),
	}
	recent := Record{
		RunID:     "recent-1",
		ItemID:    "msg-2",
		Action:    "reply",
		Status:    StatusSucceeded,
		StartedAt: now.Add(-1 * time.Hour),
		EndedAt:   now.Add(-30 * time.Minute),
	}
	oldNoEndedAt := Record{
		RunID:     "old-no-end",
		ItemID:    "msg-3",
		Action:    "archive",
		Status:    StatusFailed,
		StartedAt: now.Add(-50 * time.Hour),
	}

	for _, r := range []Record{old, recent, oldNoEndedAt} {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("append %s: %v", r.RunID, err)
		}
	}

	deleted, err := store.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].RunID != "recent-1" {
		t.Fatalf("unexpected remaining records: %+v", remaining)
	}
}

func TestAppendRejectsInvalidRecord(t *testing.T) {
	store := NewInMemoryStore()
	if err := store.Append(context.Background(), Record{RunID: "r", Action: "archive", Status: "running"}); err == nil {
		t.Fatal("expected invalid status to be rejected")
	}
	if err := store.Append(context.Background(), Record{Action: "archive", Status: StatusFailed}); err == nil {
		t.Fatal("expected missing run id to be rejected")
	}
}

func TestListSortsByStart(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now().UTC()
	_ = store.Append(ctx, Record{RunID: "b", Action: "skip", Status: StatusSucceeded, StartedAt: now})
	_ = store.Append(ctx, Record{RunID: "a", Action: "skip", Status: StatusSucceeded, StartedAt: now.Add(-time.Minute)})

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records[0].RunID != "a" {
		t.Fatalf("expected oldest first, got %q", records[0].RunID)
	}
}
