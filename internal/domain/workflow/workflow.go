package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNotFound = errors.New("workflow definition not found")

var idPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Definition is a named, reusable query plus skip policy.
type Definition struct {
	ID               string `json:"id" yaml:"-"`
	DisplayName      string `json:"displayName,omitempty" yaml:"display_name,omitempty"`
	Query            string `json:"query" yaml:"query"`
	Description      string `json:"description,omitempty" yaml:"description,omitempty"`
	SkipMarksHandled bool   `json:"skipMarksHandled" yaml:"skip_marks_handled"`
}

// Label returns the display name, falling back to the id.
func (d Definition) Label() string {
	if strings.TrimSpace(d.DisplayName) != "" {
		return d.DisplayName
	}
	return d.ID
}

func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("workflow id %q must be kebab-case", id)
	}
	return nil
}

func (d Definition) Validate() error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Query) == "" {
		return fmt.Errorf("workflow %q query cannot be empty", d.ID)
	}
	return nil
}

// DefinitionStore persists definitions. Get returns ErrNotFound for an
// unknown id. Save and Delete rewrite the whole backing document.
type DefinitionStore interface {
	EnsureDefaults(ctx context.Context) error
	Get(ctx context.Context, id string) (Definition, error)
	List(ctx context.Context) (map[string]Definition, error)
	Save(ctx context.Context, id string, def Definition) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Defaults is the built-in set written when no definitions exist yet.
func Defaults() map[string]Definition {
	return map[string]Definition{
		"unread-inbox": {
			ID:               "unread-inbox",
			DisplayName:      "Unread in inbox",
			Query:            "in:inbox is:unread",
			Description:      "Every unread item in the default folder, oldest first.",
			SkipMarksHandled: true,
		},
		"read-unarchived": {
			ID:          "read-unarchived",
			DisplayName: "Read but not archived",
			Query:       "in:inbox is:read",
			Description: "Items already read that are still sitting in the default folder.",
		},
	}
}
