package file

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/jsonschema-go/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/roushou/stepwise/internal/domain/workflow"
	"github.com/roushou/stepwise/internal/platform/fsutil"
)

//go:embed workflows.schema.json
var definitionsSchema []byte

type definitionsDocument struct {
	Workflows map[string]workflow.Definition `yaml:"workflows"`
}

// DefinitionStore keeps every definition in one YAML document under a
// top-level workflows key. Every mutation rewrites the whole document.
type DefinitionStore struct {
	path   string
	schema *jsonschema.Resolved
	mu     sync.Mutex
}

func NewDefinitionStore(path string) (*DefinitionStore, error) {
	if path == "" {
		return nil, errors.New("definitions path cannot be empty")
	}
	resolved, err := resolveDefinitionsSchema()
	if err != nil {
		return nil, err
	}
	return &DefinitionStore{path: path, schema: resolved}, nil
}

func resolveDefinitionsSchema() (*jsonschema.Resolved, error) {
	var schema jsonschema.Schema
	if err := json.Unmarshal(definitionsSchema, &schema); err != nil {
		return nil, fmt.Errorf("unmarshal definitions schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve definitions schema: %w", err)
	}
	return resolved, nil
}

func (s *DefinitionStore) Path() string {
	return s.path
}

// EnsureDefaults writes the built-in set when the document does not exist.
// An existing document is never touched.
func (s *DefinitionStore) EnsureDefaults(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureDefaultsLocked(ctx)
}

func (s *DefinitionStore) ensureDefaultsLocked(_ context.Context) error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat definitions: %w", err)
	}
	return s.writeLocked(workflow.Defaults())
}

func (s *DefinitionStore) Get(ctx context.Context, id string) (workflow.Definition, error) {
	defs, err := s.List(ctx)
	if err != nil {
		return workflow.Definition{}, err
	}
	def, ok := defs[id]
	if !ok {
		return workflow.Definition{}, fmt.Errorf("%w: %s", workflow.ErrNotFound, id)
	}
	if def.DisplayName == "" {
		def.DisplayName = id
	}
	return def, nil
}

func (s *DefinitionStore) List(ctx context.Context) (map[string]workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureDefaultsLocked(ctx); err != nil {
		return nil, err
	}
	return s.readLocked()
}

func (s *DefinitionStore) Save(ctx context.Context, id string, def workflow.Definition) error {
	return s.mutate(ctx, func(defs map[string]workflow.Definition) bool {
		def.ID = id
		defs[id] = def
		return true
	})
}

func (s *DefinitionStore) Delete(ctx context.Context, id string) (bool, error) {
	var existed bool
	err := s.mutate(ctx, func(defs map[string]workflow.Definition) bool {
		if _, existed = defs[id]; existed {
			delete(defs, id)
		}
		return existed
	})
	return existed, err
}

// mutate runs a read-modify-write cycle under an advisory lock so two
// editors in separate processes do not drop each other's changes.
func (s *DefinitionStore) mutate(ctx context.Context, apply func(map[string]workflow.Definition) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create definitions dir: %w", err)
	}
	lock := flock.New(s.path + lockExt)
	locked, err := lock.TryLockContext(ctx, defaultLockRetry)
	if err != nil {
		return fmt.Errorf("lock definitions: %w", err)
	}
	if !locked {
		return errors.New("lock definitions: already held")
	}
	defer func() { _ = lock.Unlock() }()

	if err := s.ensureDefaultsLocked(ctx); err != nil {
		return err
	}
	defs, err := s.readLocked()
	if err != nil {
		return err
	}
	if !apply(defs) {
		return nil
	}
	return s.writeLocked(defs)
}

func (s *DefinitionStore) readLocked() (map[string]workflow.Definition, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}
	if err := s.validate(raw); err != nil {
		return nil, err
	}
	var doc definitionsDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse definitions: %w", err)
	}
	out := make(map[string]workflow.Definition, len(doc.Workflows))
	for id, def := range doc.Workflows {
		def.ID = id
		out[id] = def
	}
	return out, nil
}

// validate checks the document against the embedded JSON schema. YAML is
// decoded generically and re-encoded as JSON so the validator sees plain
// JSON values.
func (s *DefinitionStore) validate(raw []byte) error {
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("parse definitions: %w", err)
	}
	if generic == nil {
		return nil
	}
	encoded, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("encode definitions for validation: %w", err)
	}
	var instance any
	if err := json.Unmarshal(encoded, &instance); err != nil {
		return fmt.Errorf("decode definitions for validation: %w", err)
	}
	if err := s.schema.Validate(instance); err != nil {
		return fmt.Errorf("invalid definitions document %s: %w", s.path, err)
	}
	return nil
}

func (s *DefinitionStore) writeLocked(defs map[string]workflow.Definition) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create definitions dir: %w", err)
	}
	data, err := yaml.Marshal(definitionsDocument{Workflows: defs})
	if err != nil {
		return fmt.Errorf("encode definitions: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write definitions: %w", err)
	}
	return nil
}
