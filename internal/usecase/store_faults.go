package usecase

import (
	"errors"

	"github.com/roushou/stepwise/internal/domain/fault"
	"github.com/roushou/stepwise/internal/domain/session"
)

func mapSessionStoreError(err error, op string, correlationID string) fault.Fault {
	if f, ok := fault.As(err); ok {
		return f.WithCorrelationID(correlationID)
	}
	storeErr, ok := session.AsStoreError(err)
	if !ok {
		return fault.Internal("session store failed").
			WithCorrelationID(correlationID).
			WithCause(err).
			WithDetails(map[string]any{
				"storage_op": op,
			})
	}

	var out fault.Fault
	switch storeErr.Code {
	case session.StoreErrorNotFound:
		out = fault.InvalidToken("session not found")
	case session.StoreErrorExpired:
		out = fault.ExpiredToken("session expired")
	case session.StoreErrorCorruptRecord:
		out = fault.Internal("session store returned corrupted data")
	case session.StoreErrorUnavailable:
		out = fault.Internal("session store unavailable")
		out.Retryable = true
	case session.StoreErrorInvalidData:
		out = fault.Internal("invalid session data")
	default:
		out = fault.Internal("session store failed")
	}
	details := map[string]any{
		"storage_code": storeErr.Code,
		"storage_op":   storeErr.Op,
	}
	if storeErr.Cause != nil {
		details["storage_cause"] = storeErr.Cause.Error()
	}
	if storeErr.Message != "" {
		details["storage_message"] = storeErr.Message
	}
	return out.
		WithCorrelationID(correlationID).
		WithCause(err).
		WithDetails(details)
}

func asFault(err error, correlationID string) fault.Fault {
	if f, ok := fault.As(err); ok {
		if f.CorrelationID == "" {
			f = f.WithCorrelationID(correlationID)
		}
		return f
	}
	if errors.Is(err, errNilCollaborator) {
		return fault.Internal(err.Error()).WithCorrelationID(correlationID)
	}
	return fault.Internal("unexpected error").WithCorrelationID(correlationID).WithCause(err)
}

var errNilCollaborator = errors.New("step engine is missing a collaborator")
