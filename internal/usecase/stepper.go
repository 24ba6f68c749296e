package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/roushou/stepwise/internal/domain/fault"
	"github.com/roushou/stepwise/internal/domain/item"
	"github.com/roushou/stepwise/internal/domain/runlog"
	"github.com/roushou/stepwise/internal/domain/session"
	"github.com/roushou/stepwise/internal/domain/workflow"
	"github.com/roushou/stepwise/internal/platform/identity"
	"github.com/roushou/stepwise/internal/platform/logging"
)

const instrumentationName = "github.com/roushou/stepwise/internal/usecase"

type IDGenerator func() string

// SessionStore is satisfied by *session.Store.
type SessionStore interface {
	Create(ctx context.Context, workflowID, query string, itemIDs []string, skipMarksHandled bool) (*session.Session, error)
	Load(ctx context.Context, token string) (*session.Session, error)
	Save(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, token string) error
	CleanupExpired(ctx context.Context) (int, error)
	Lock(ctx context.Context, token string) (func(), error)
	TTL() time.Duration
}

type StepperDeps struct {
	Logger      *slog.Logger
	Definitions workflow.DefinitionStore
	Sessions    SessionStore
	Source      item.Source
	Executor    item.Executor
	Runlogs     runlog.Store
	Tracer      trace.Tracer
	Meter       metric.Meter
	NewID       IDGenerator
	Now         func() time.Time
}

// Stepper walks a driver through a session one item at a time. It holds
// no state of its own between calls.
type Stepper struct {
	logger      *slog.Logger
	definitions workflow.DefinitionStore
	sessions    SessionStore
	source      item.Source
	executor    item.Executor
	runlogs     runlog.Store
	tracer      trace.Tracer
	actions     metric.Int64Counter
	newID       IDGenerator
	timeNowUTC  func() time.Time
}

func NewStepper(deps StepperDeps) (*Stepper, error) {
	if deps.Definitions == nil || deps.Sessions == nil || deps.Source == nil || deps.Executor == nil {
		return nil, errNilCollaborator
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Runlogs == nil {
		deps.Runlogs = runlog.NewInMemoryStore()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(instrumentationName)
	}
	if deps.Meter == nil {
		deps.Meter = otel.Meter(instrumentationName)
	}
	if deps.NewID == nil {
		deps.NewID = identity.NewID
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	actions, err := deps.Meter.Int64Counter(
		"stepwise.actions",
		metric.WithDescription("Action executor invocations by action and outcome"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create actions counter: %w", err)
	}
	return &Stepper{
		logger:      deps.Logger,
		definitions: deps.Definitions,
		sessions:    deps.Sessions,
		source:      deps.Source,
		executor:    deps.Executor,
		runlogs:     deps.Runlogs,
		tracer:      deps.Tracer,
		actions:     actions,
		newID:       deps.NewID,
		timeNowUTC:  deps.Now,
	}, nil
}

// Start resolves a definition, snapshots its item batch into a new session
// and presents the first item. An empty batch completes immediately and
// creates no session.
func (s *Stepper) Start(ctx context.Context, workflowID string) (resp workflow.StepResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "stepwise.start",
		trace.WithAttributes(attribute.String("stepwise.workflow_id", workflowID)),
	)
	defer func() { endSpan(span, err) }()

	correlationID := s.newID()
	if workflowID == "" {
		return workflow.StepResponse{}, fault.Validation("workflow id is required").WithCorrelationID(correlationID)
	}

	def, err := s.definitions.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			return workflow.StepResponse{}, fault.WorkflowNotFound(workflowID).WithCorrelationID(correlationID)
		}
		return workflow.StepResponse{}, asFault(err, correlationID)
	}

	ids, err := s.source.Search(ctx, def.Query)
	if err != nil {
		s.logger.Error("item source search failed",
			"workflow_id", workflowID,
			"correlation_id", correlationID,
			"error", err,
		)
		return workflow.StepResponse{}, fault.ItemSource(err).WithCorrelationID(correlationID)
	}
	span.SetAttributes(attribute.Int("stepwise.total", len(ids)))

	if len(ids) == 0 {
		s.logger.Info("workflow has no items", "workflow_id", workflowID, "correlation_id", correlationID)
		return workflow.StepResponse{
			Success:          true,
			WorkflowID:       workflowID,
			Message:          fmt.Sprintf("No items match workflow %q.", def.Label()),
			AvailableActions: []workflow.ActionKind{},
			Completed:        true,
		}, nil
	}

	sess, err := s.sessions.Create(ctx, def.ID, def.Query, ids, def.SkipMarksHandled)
	if err != nil {
		return workflow.StepResponse{}, mapSessionStoreError(err, "session.create", correlationID)
	}

	s.logger.Info("session started",
		logging.Token(sess.Token),
		"workflow_id", def.ID,
		"total", sess.Total(),
		"ttl", s.sessions.TTL(),
		"expires_at", sess.ExpiresAt,
		"correlation_id", correlationID,
	)

	return s.activeResponse(ctx, sess, fmt.Sprintf("Started %q with %d items.", def.Label(), sess.Total())), nil
}

// Continue applies one action to the session's current item. A failed
// executor call leaves the cursor where it was.
func (s *Stepper) Continue(ctx context.Context, token string, req workflow.ActionRequest) (resp workflow.StepResponse, err error) {
	ctx, span := s.tracer.Start(ctx, "stepwise.continue",
		trace.WithAttributes(attribute.String("stepwise.action", string(req.Kind))),
	)
	defer func() { endSpan(span, err) }()

	correlationID := s.newID()
	if token == "" {
		return workflow.StepResponse{}, fault.InvalidToken("token is required").WithCorrelationID(correlationID)
	}
	kind, ok := workflow.ParseActionKind(string(req.Kind))
	if !ok {
		return workflow.StepResponse{}, fault.UnsupportedAction(string(req.Kind)).WithCorrelationID(correlationID)
	}
	req.Kind = kind
	if kind == workflow.ActionReply {
		if _, ok := req.ReplyBody(); !ok {
			return workflow.StepResponse{}, fault.Validation("reply requires a non-empty payload.body").WithCorrelationID(correlationID)
		}
	}

	unlock, err := s.sessions.Lock(ctx, token)
	if err != nil {
		return workflow.StepResponse{}, mapSessionStoreError(err, "session.lock", correlationID)
	}
	defer unlock()

	sess, err := s.sessions.Load(ctx, token)
	if err != nil {
		f := mapSessionStoreError(err, "session.load", correlationID)
		if f.Code == fault.CodeExpiredToken {
			s.logger.Warn("expired session purged", logging.Token(token), "correlation_id", correlationID)
		}
		return workflow.StepResponse{}, f
	}
	itemID, ok := sess.CurrentItemID()
	if !ok {
		return workflow.StepResponse{}, fault.TerminalState("session has no remaining items").
			WithCorrelationID(correlationID).
			WithDetails(map[string]any{"total": sess.Total()})
	}
	span.SetAttributes(
		attribute.String("stepwise.workflow_id", sess.WorkflowID),
		attribute.Int("stepwise.cursor", sess.Cursor),
	)

	if !kind.Advances() {
		return s.stay(ctx, sess, itemID, kind, correlationID)
	}

	if err := s.perform(ctx, sess, itemID, req, correlationID); err != nil {
		return workflow.StepResponse{}, err
	}
	if err := sess.Advance(); err != nil {
		return workflow.StepResponse{}, fault.Internal(err.Error()).WithCorrelationID(correlationID)
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return workflow.StepResponse{}, mapSessionStoreError(err, "session.save", correlationID)
	}

	s.logger.Info("session advanced",
		logging.Token(token),
		"workflow_id", sess.WorkflowID,
		"item_id", itemID,
		"action", kind,
		"cursor", sess.Cursor,
		"total", sess.Total(),
		"correlation_id", correlationID,
	)

	if !sess.HasMore() {
		return workflow.StepResponse{
			Success:          true,
			Token:            sess.Token,
			WorkflowID:       sess.WorkflowID,
			Message:          fmt.Sprintf("All %d items processed.", sess.Total()),
			Progress:         workflow.ProgressAt(sess.Cursor, sess.Total()),
			AvailableActions: []workflow.ActionKind{},
			Completed:        true,
		}, nil
	}
	return s.activeResponse(ctx, sess, actionMessage(kind, itemID)), nil
}

// stay handles the actions that leave the cursor in place.
func (s *Stepper) stay(ctx context.Context, sess *session.Session, itemID string, kind workflow.ActionKind, correlationID string) (workflow.StepResponse, error) {
	switch kind {
	case workflow.ActionView:
		snap, err := s.executor.View(ctx, itemID)
		if err != nil {
			return workflow.StepResponse{}, fault.ActionExecution(string(kind), err).WithCorrelationID(correlationID)
		}
		return s.responseWithItem(sess, &snap, "Current item."), nil

	case workflow.ActionQuit:
		if err := s.sessions.Delete(ctx, sess.Token); err != nil {
			return workflow.StepResponse{}, mapSessionStoreError(err, "session.delete", correlationID)
		}
		s.logger.Info("session quit",
			logging.Token(sess.Token),
			"workflow_id", sess.WorkflowID,
			"cursor", sess.Cursor,
			"total", sess.Total(),
			"correlation_id", correlationID,
		)
		return workflow.StepResponse{
			Success:          true,
			WorkflowID:       sess.WorkflowID,
			Message:          fmt.Sprintf("Session ended after %d of %d items.", sess.ProcessedCount, sess.Total()),
			Progress:         workflow.ProgressAt(sess.Cursor, sess.Total()),
			AvailableActions: []workflow.ActionKind{},
			Completed:        true,
		}, nil
	default:
		return workflow.StepResponse{}, fault.UnsupportedAction(string(kind)).WithCorrelationID(correlationID)
	}
}

// perform invokes the executor for an advancing action and records the
// outcome in the runlog.
func (s *Stepper) perform(ctx context.Context, sess *session.Session, itemID string, req workflow.ActionRequest, correlationID string) error {
	var call func() error
	switch req.Kind {
	case workflow.ActionReply:
		call = func() error { return s.executor.Reply(ctx, itemID, req.Payload) }
	case workflow.ActionArchive:
		call = func() error { return s.executor.Archive(ctx, itemID) }
	case workflow.ActionSkip:
		if !sess.SkipMarksHandled {
			return nil
		}
		call = func() error { return s.executor.MarkHandled(ctx, itemID) }
	default:
		return fault.UnsupportedAction(string(req.Kind)).WithCorrelationID(correlationID)
	}

	start := s.timeNowUTC()
	execErr := call()
	end := s.timeNowUTC()

	record := runlog.Record{
		RunID:         s.newID(),
		CorrelationID: correlationID,
		TokenPrefix:   logging.TokenPrefix(sess.Token),
		WorkflowID:    sess.WorkflowID,
		ItemID:        itemID,
		Action:        string(req.Kind),
		Status:        runlog.StatusSucceeded,
		StartedAt:     start,
		EndedAt:       end,
	}
	var out error
	if execErr != nil {
		f := fault.ActionExecution(string(req.Kind), execErr).WithCorrelationID(correlationID)
		record.Status = runlog.StatusFailed
		record.ErrorCode = string(f.Code)
		record.ErrorMessage = f.Message
		out = f
		s.logger.Error("action execution failed",
			logging.Token(sess.Token),
			"workflow_id", sess.WorkflowID,
			"item_id", itemID,
			"action", req.Kind,
			"correlation_id", correlationID,
			"error_code", f.Code,
			"error", execErr,
		)
	}
	if err := s.runlogs.Append(ctx, record); err != nil {
		s.logger.Error("failed to persist action runlog",
			"run_id", record.RunID,
			"correlation_id", correlationID,
			"error", err,
		)
	}
	s.actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", record.Action),
		attribute.String("status", string(record.Status)),
	))
	return out
}

// Delete removes a session. Unknown tokens are not an error.
func (s *Stepper) Delete(ctx context.Context, token string) (err error) {
	ctx, span := s.tracer.Start(ctx, "stepwise.delete")
	defer func() { endSpan(span, err) }()

	correlationID := s.newID()
	if token == "" {
		return fault.InvalidToken("token is required").WithCorrelationID(correlationID)
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return mapSessionStoreError(err, "session.delete", correlationID)
	}
	s.logger.Info("session deleted", logging.Token(token), "correlation_id", correlationID)
	return nil
}

// Cleanup sweeps expired and unreadable session records.
func (s *Stepper) Cleanup(ctx context.Context) (removed int, err error) {
	ctx, span := s.tracer.Start(ctx, "stepwise.cleanup")
	defer func() {
		span.SetAttributes(attribute.Int("stepwise.removed", removed))
		endSpan(span, err)
	}()

	correlationID := s.newID()
	removed, err = s.sessions.CleanupExpired(ctx)
	if err != nil {
		return removed, mapSessionStoreError(err, "session.cleanup", correlationID)
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed", "count", removed, "correlation_id", correlationID)
	}
	return removed, nil
}

func (s *Stepper) activeResponse(ctx context.Context, sess *session.Session, message string) workflow.StepResponse {
	id, _ := sess.CurrentItemID()
	snap, err := s.executor.View(ctx, id)
	if err != nil {
		s.logger.Warn("item preview failed",
			logging.Token(sess.Token),
			"item_id", id,
			"error", err,
		)
		snap = item.Snapshot{ID: id}
	}
	return s.responseWithItem(sess, &snap, message)
}

func (s *Stepper) responseWithItem(sess *session.Session, snap *item.Snapshot, message string) workflow.StepResponse {
	return workflow.StepResponse{
		Success:          true,
		Token:            sess.Token,
		WorkflowID:       sess.WorkflowID,
		Item:             snap,
		Message:          message,
		Progress:         workflow.ProgressAt(sess.Cursor, sess.Total()),
		AvailableActions: workflow.ActionKinds(),
	}
}

func actionMessage(kind workflow.ActionKind, itemID string) string {
	switch kind {
	case workflow.ActionReply:
		return fmt.Sprintf("Replied to %s.", itemID)
	case workflow.ActionArchive:
		return fmt.Sprintf("Archived %s.", itemID)
	case workflow.ActionSkip:
		return fmt.Sprintf("Skipped %s.", itemID)
	}
	return ""
}

// FailureResponse renders an error as the response a driver receives.
func FailureResponse(err error) workflow.StepResponse {
	f := asFault(err, "")
	return workflow.StepResponse{
		Success:          false,
		Message:          f.Message,
		AvailableActions: []workflow.ActionKind{},
		Error: &workflow.StepError{
			Code:          string(f.Code),
			Message:       f.Message,
			Retryable:     f.Retryable,
			CorrelationID: f.CorrelationID,
		},
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
