package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/roushou/stepwise/internal/domain/workflow"
)

func TestDefinitionStoreSeedsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewDefinitionStore()

	if _, err := store.Get(ctx, "unread-inbox"); err != nil {
		t.Fatalf("expected built-in definition: %v", err)
	}
	removed, err := store.Delete(ctx, "unread-inbox")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if err := store.EnsureDefaults(ctx); err != nil {
		t.Fatalf("ensure defaults: %v", err)
	}
	if _, err := store.Get(ctx, "unread-inbox"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected deleted default to stay deleted, got %v", err)
	}
}

func TestDefinitionStoreDisplayNameFallback(t *testing.T) {
	ctx := context.Background()
	store := NewDefinitionStore()
	if err := store.Save(ctx, "triage", workflow.Definition{Query: "label:triage"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	def, err := store.Get(ctx, "triage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if def.DisplayName != "triage" || def.ID != "triage" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	removed, err := store.Delete(ctx, "missing")
	if err != nil || removed {
		t.Fatalf("expected delete of missing id to report false, got %v %v", removed, err)
	}
}
