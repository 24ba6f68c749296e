package workflow

import (
	"strings"

	"github.com/roushou/stepwise/internal/domain/item"
)

type ActionKind string

const (
	ActionView    ActionKind = "view"
	ActionReply   ActionKind = "reply"
	ActionArchive ActionKind = "archive"
	ActionSkip    ActionKind = "skip"
	ActionQuit    ActionKind = "quit"
)

var actionKinds = []ActionKind{ActionView, ActionReply, ActionArchive, ActionSkip, ActionQuit}

// ActionKinds lists every accepted kind in presentation order.
func ActionKinds() []ActionKind {
	return append([]ActionKind(nil), actionKinds...)
}

// ParseActionKind rejects anything outside the closed set.
func ParseActionKind(raw string) (ActionKind, bool) {
	kind := ActionKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range actionKinds {
		if kind == known {
			return kind, true
		}
	}
	return "", false
}

// Advances reports whether a successful action moves the cursor.
func (k ActionKind) Advances() bool {
	switch k {
	case ActionReply, ActionArchive, ActionSkip:
		return true
	default:
		return false
	}
}

type ActionRequest struct {
	Kind    ActionKind     `json:"actionKind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ReplyBody extracts the reply text from the payload.
func (r ActionRequest) ReplyBody() (string, bool) {
	if r.Payload == nil {
		return "", false
	}
	body, ok := r.Payload["body"].(string)
	if !ok || strings.TrimSpace(body) == "" {
		return "", false
	}
	return body, true
}

type Progress struct {
	Current   int `json:"current"`
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}

// ProgressAt reports 1-based progress for the item at cursor. A cursor at
// or past total means every item was processed.
func ProgressAt(cursor, total int) Progress {
	if total <= 0 {
		return Progress{}
	}
	if cursor >= total {
		return Progress{Current: total, Total: total, Remaining: 0}
	}
	return Progress{Current: cursor + 1, Total: total, Remaining: total - cursor - 1}
}

type StepError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type StepResponse struct {
	Success          bool           `json:"success"`
	Token            string         `json:"token,omitempty"`
	WorkflowID       string         `json:"workflowId,omitempty"`
	Item             *item.Snapshot `json:"item,omitempty"`
	Message          string         `json:"message"`
	Progress         Progress       `json:"progress"`
	AvailableActions []ActionKind   `json:"availableActions"`
	Completed        bool           `json:"completed"`
	Error            *StepError     `json:"error,omitempty"`
}
