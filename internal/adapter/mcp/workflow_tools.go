package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/stepwise/internal/domain/workflow"
	"github.com/roushou/stepwise/internal/usecase"
)

type workflowStartToolInput struct {
	WorkflowID string `json:"workflowId"`
}

type workflowContinueToolInput struct {
	Token      string         `json:"token"`
	ActionKind string         `json:"actionKind"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type workflowTokenToolInput struct {
	Token string `json:"token"`
}

type workflowDeleteToolOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type workflowCleanupToolOutput struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
}

func (s *Server) registerStepTools() {
	s.server.AddTool(&sdkmcp.Tool{
		Name:         "workflow.start",
		Title:        "Workflow Start",
		Description:  "Starts a session for a saved workflow and returns its first item and continuation token",
		InputSchema:  workflowStartInputSchema(),
		OutputSchema: stepResponseOutputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint: false,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "step",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleWorkflowStart(ctx, req)
	})

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "workflow.continue",
		Title:        "Workflow Continue",
		Description:  "Applies one action to the current item of a session and returns the next item",
		InputSchema:  workflowContinueInputSchema(),
		OutputSchema: stepResponseOutputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint: false,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "step",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleWorkflowContinue(ctx, req)
	})

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "workflow.delete",
		Title:       "Workflow Delete",
		Description: "Discards a session. Unknown tokens are ignored",
		InputSchema: workflowTokenInputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint:   false,
			IdempotentHint: true,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "step",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleWorkflowDelete(ctx, req)
	})

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "workflow.cleanup",
		Title:       "Workflow Cleanup",
		Description: "Removes expired and unreadable sessions and returns how many were removed",
		InputSchema: emptyInputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint:   false,
			IdempotentHint: true,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "step",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleWorkflowCleanup(ctx, req)
	})
}

func (s *Server) handleWorkflowStart(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	var input workflowStartToolInput
	if err := decodeToolArguments(req, &input); err != nil {
		return nil, wireError(
			jsonrpc.CodeInvalidParams,
			"invalid workflow.start arguments",
			map[string]any{"details": err.Error()},
		)
	}
	resp, err := s.steps.Start(ctx, input.WorkflowID)
	if err != nil {
		return s.stepFailure(err)
	}
	return s.toolResultWithStructured(resp)
}

func (s *Server) handleWorkflowContinue(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	var input workflowContinueToolInput
	if err := decodeToolArguments(req, &input); err != nil {
		return nil, wireError(
			jsonrpc.CodeInvalidParams,
			"invalid workflow.continue arguments",
			map[string]any{"details": err.Error()},
		)
	}
	resp, err := s.steps.Continue(ctx, input.Token, workflow.ActionRequest{
		Kind:    workflow.ActionKind(input.ActionKind),
		Payload: input.Payload,
	})
	if err != nil {
		return s.stepFailure(err)
	}
	return s.toolResultWithStructured(resp)
}

func (s *Server) handleWorkflowDelete(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	var input workflowTokenToolInput
	if err := decodeToolArguments(req, &input); err != nil {
		return nil, wireError(
			jsonrpc.CodeInvalidParams,
			"invalid workflow.delete arguments",
			map[string]any{"details": err.Error()},
		)
	}
	if err := s.steps.Delete(ctx, input.Token); err != nil {
		return s.stepFailure(err)
	}
	return s.toolResultWithStructured(workflowDeleteToolOutput{
		Success: true,
		Message: "Session deleted.",
	})
}

func (s *Server) handleWorkflowCleanup(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	removed, err := s.steps.Cleanup(ctx)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(workflowCleanupToolOutput{
		Success: true,
		Removed: removed,
	})
}

// stepFailure reports step protocol errors as a tool-level error result
// carrying a StepResponse, so drivers read one shape for every outcome.
func (s *Server) stepFailure(err error) (*sdkmcp.CallToolResult, error) {
	resp := usecase.FailureResponse(err)
	result, encodeErr := s.toolResultWithStructured(resp)
	if encodeErr != nil {
		return nil, encodeErr
	}
	result.IsError = true
	return result, nil
}

func emptyInputSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
}

func workflowStartInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"workflowId": map[string]any{"type": "string", "minLength": 1},
		},
		"required":             []string{"workflowId"},
		"additionalProperties": false,
	}
}

func workflowContinueInputSchema() map[string]any {
	kinds := make([]string, 0, len(workflow.ActionKinds()))
	for _, kind := range workflow.ActionKinds() {
		kinds = append(kinds, string(kind))
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token":      map[string]any{"type": "string"},
			"actionKind": map[string]any{"type": "string", "enum": kinds},
			"payload": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"body": map[string]any{"type": "string"},
				},
			},
		},
		"required":             []string{"token", "actionKind"},
		"additionalProperties": false,
	}
}

func workflowTokenInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"token": map[string]any{"type": "string"},
		},
		"required":             []string{"token"},
		"additionalProperties": false,
	}
}

func stepResponseOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success":    map[string]any{"type": "boolean"},
			"token":      map[string]any{"type": "string"},
			"workflowId": map[string]any{"type": "string"},
			"item": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":     map[string]any{"type": "string"},
					"fields": map[string]any{"type": "object"},
				},
				"required": []string{"id"},
			},
			"message": map[string]any{"type": "string"},
			"progress": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"current":   map[string]any{"type": "integer"},
					"total":     map[string]any{"type": "integer"},
					"remaining": map[string]any{"type": "integer"},
				},
				"required": []string{"current", "total", "remaining"},
			},
			"availableActions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"completed": map[string]any{"type": "boolean"},
			"error": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code":          map[string]any{"type": "string"},
					"message":       map[string]any{"type": "string"},
					"retryable":     map[string]any{"type": "boolean"},
					"correlationId": map[string]any{"type": "string"},
				},
				"required": []string{"code", "message"},
			},
		},
		"required": []string{"success", "message", "progress", "availableActions", "completed"},
	}
}
