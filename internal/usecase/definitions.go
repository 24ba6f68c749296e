package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/roushou/stepwise/internal/domain/fault"
	"github.com/roushou/stepwise/internal/domain/workflow"
)

// DefinitionService is the edit surface over the definition store.
type DefinitionService struct {
	store  workflow.DefinitionStore
	logger *slog.Logger
}

func NewDefinitionService(store workflow.DefinitionStore, logger *slog.Logger) *DefinitionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefinitionService{store: store, logger: logger}
}

// List returns every definition ordered by id.
func (s *DefinitionService) List(ctx context.Context) ([]workflow.Definition, error) {
	defs, err := s.store.List(ctx)
	if err != nil {
		return nil, definitionStoreFault(err, "definitions.list")
	}
	out := make([]workflow.Definition, 0, len(defs))
	for id, def := range defs {
		def.ID = id
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *DefinitionService) Get(ctx context.Context, id string) (workflow.Definition, error) {
	if id == "" {
		return workflow.Definition{}, fault.Validation("workflow id is required")
	}
	def, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return workflow.Definition{}, fault.WorkflowNotFound(id)
		}
		return workflow.Definition{}, definitionStoreFault(err, "definitions.get")
	}
	return def, nil
}

func (s *DefinitionService) Save(ctx context.Context, def workflow.Definition) error {
	if err := def.Validate(); err != nil {
		return fault.Validation(err.Error())
	}
	if err := s.store.Save(ctx, def.ID, def); err != nil {
		return definitionStoreFault(err, "definitions.save")
	}
	s.logger.Info("workflow definition saved", "workflow_id", def.ID)
	return nil
}

// Delete reports whether a definition existed. Sessions already started
// from it keep their own copy of the query.
func (s *DefinitionService) Delete(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, fault.Validation("workflow id is required")
	}
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, definitionStoreFault(err, "definitions.delete")
	}
	if removed {
		s.logger.Info("workflow definition deleted", "workflow_id", id)
	}
	return removed, nil
}

func definitionStoreFault(err error, op string) fault.Fault {
	if f, ok := fault.As(err); ok {
		return f
	}
	return fault.Internal("workflow definition store failed").
		WithCause(err).
		WithDetails(map[string]any{
			"storage_op":    op,
			"storage_cause": err.Error(),
		})
}
