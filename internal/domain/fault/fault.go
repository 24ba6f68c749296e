package fault

import (
	"errors"
	"fmt"
)

type Code string
type Category string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeWorkflowNotFound  Code = "WORKFLOW_NOT_FOUND"
	CodeInvalidToken      Code = "INVALID_TOKEN"
	CodeExpiredToken      Code = "EXPIRED_TOKEN"
	CodeTerminalState     Code = "TERMINAL_STATE"
	CodeUnsupportedAction Code = "UNSUPPORTED_ACTION"
	CodeItemSource        Code = "ITEM_SOURCE_ERROR"
	CodeActionExecution   Code = "ACTION_EXECUTION_ERROR"
	CodeInternal          Code = "INTERNAL_ERROR"
)

const (
	CategoryClient   Category = "client"
	CategoryRuntime  Category = "runtime"
	CategoryPlatform Category = "platform"
)

type Fault struct {
	Code          Code
	Category      Category
	Message       string
	Retryable     bool
	CorrelationID string
	Details       map[string]any
	Cause         error
}

func (f Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f Fault) Unwrap() error {
	return f.Cause
}

func New(code Code, category Category, message string) Fault {
	return Fault{
		Code:     code,
		Category: category,
		Message:  message,
	}
}

func Validation(message string) Fault {
	return New(CodeValidation, CategoryClient, message)
}

func WorkflowNotFound(id string) Fault {
	return New(CodeWorkflowNotFound, CategoryClient, fmt.Sprintf("workflow %q not found", id))
}

func InvalidToken(message string) Fault {
	return New(CodeInvalidToken, CategoryClient, message)
}

func ExpiredToken(message string) Fault {
	return New(CodeExpiredToken, CategoryClient, message)
}

func TerminalState(message string) Fault {
	return New(CodeTerminalState, CategoryClient, message)
}

func UnsupportedAction(kind string) Fault {
	return New(CodeUnsupportedAction, CategoryClient, fmt.Sprintf("unsupported action %q", kind))
}

// ItemSource wraps a failure of the collaborator that resolves queries.
func ItemSource(cause error) Fault {
	f := New(CodeItemSource, CategoryRuntime, "item source failed: "+causeText(cause))
	f.Retryable = true
	f.Cause = cause
	return f
}

// ActionExecution wraps a failure of the collaborator that performs item actions.
func ActionExecution(action string, cause error) Fault {
	f := New(CodeActionExecution, CategoryRuntime, fmt.Sprintf("%s failed: %s", action, causeText(cause)))
	f.Retryable = true
	f.Cause = cause
	return f
}

func Internal(message string) Fault {
	return New(CodeInternal, CategoryPlatform, message)
}

func As(err error) (Fault, bool) {
	var target Fault
	if errors.As(err, &target) {
		return target, true
	}
	return Fault{}, false
}

// Is reports whether err carries a fault with the given code.
func Is(err error, code Code) bool {
	f, ok := As(err)
	return ok && f.Code == code
}

func (f Fault) WithCorrelationID(id string) Fault {
	f.CorrelationID = id
	return f
}

func (f Fault) WithDetails(details map[string]any) Fault {
	f.Details = details
	return f
}

func (f Fault) WithCause(cause error) Fault {
	f.Cause = cause
	return f
}

func causeText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
