package memory

import (
	"context"
	"sync"

	"github.com/roushou/stepwise/internal/domain/workflow"
)

type DefinitionStore struct {
	mu      sync.RWMutex
	seeded  bool
	entries map[string]workflow.Definition
}

func NewDefinitionStore() *DefinitionStore {
	return &DefinitionStore{entries: make(map[string]workflow.Definition)}
}

// EnsureDefaults seeds the built-in set once. Later calls never overwrite
// edits or restore deleted entries.
func (s *DefinitionStore) EnsureDefaults(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDefaultsLocked()
	return nil
}

func (s *DefinitionStore) ensureDefaultsLocked() {
	if s.seeded {
		return
	}
	s.seeded = true
	if len(s.entries) > 0 {
		return
	}
	for id, def := range workflow.Defaults() {
		s.entries[id] = def
	}
}

func (s *DefinitionStore) Get(_ context.Context, id string) (workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDefaultsLocked()
	def, ok := s.entries[id]
	if !ok {
		return workflow.Definition{}, workflow.ErrNotFound
	}
	def.ID = id
	if def.DisplayName == "" {
		def.DisplayName = id
	}
	return def, nil
}

func (s *DefinitionStore) List(_ context.Context) (map[string]workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDefaultsLocked()
	out := make(map[string]workflow.Definition, len(s.entries))
	for id, def := range s.entries {
		def.ID = id
		out[id] = def
	}
	return out, nil
}

func (s *DefinitionStore) Save(_ context.Context, id string, def workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDefaultsLocked()
	def.ID = id
	s.entries[id] = def
	return nil
}

func (s *DefinitionStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDefaultsLocked()
	if _, ok := s.entries[id]; !ok {
		return false, nil
	}
	delete(s.entries, id)
	return true, nil
}
