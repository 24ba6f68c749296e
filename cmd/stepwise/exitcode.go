package main

import (
	"errors"

	"github.com/roushou/stepwise/internal/domain/fault"
)

const (
	exitOK       = 0
	exitInternal = 1
	exitUsage    = 2
)

var faultExitCodes = map[fault.Code]int{
	fault.CodeValidation:        2,
	fault.CodeWorkflowNotFound:  3,
	fault.CodeInvalidToken:      4,
	fault.CodeExpiredToken:      5,
	fault.CodeTerminalState:     6,
	fault.CodeUnsupportedAction: 7,
	fault.CodeItemSource:        8,
	fault.CodeActionExecution:   9,
	fault.CodeInternal:          exitInternal,
}

type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// reportedError marks a failure already rendered to stdout.
type reportedError struct {
	err error
}

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if f, ok := fault.As(err); ok {
		if code, known := faultExitCodes[f.Code]; known {
			return code
		}
		return exitInternal
	}
	var usage usageError
	if errors.As(err, &usage) {
		return exitUsage
	}
	return exitInternal
}
