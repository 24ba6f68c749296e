// Package item describes the collaborators that own the work items a
// session steps through. The engine treats item identifiers as opaque.
package item

import "context"

// Snapshot is what a driver sees for the current item.
type Snapshot struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Source resolves a query to an ordered batch of item identifiers. The
// order must be stable for a given query at a given instant.
type Source interface {
	Search(ctx context.Context, query string) ([]string, error)
}

// Executor performs the real-world effect of an action on one item.
// Implementations should tolerate being called again for the same item
// after a failure.
type Executor interface {
	View(ctx context.Context, id string) (Snapshot, error)
	Reply(ctx context.Context, id string, payload map[string]any) error
	Archive(ctx context.Context, id string) error
	MarkHandled(ctx context.Context, id string) error
}
