package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/stepwise/internal/domain/workflow"
)

type definitionIDToolInput struct {
	ID string `json:"id"`
}

type definitionSaveToolInput struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName,omitempty"`
	Query            string `json:"query"`
	Description      string `json:"description,omitempty"`
	SkipMarksHandled bool   `json:"skipMarksHandled,omitempty"`
}

type definitionListToolOutput struct {
	Workflows []workflow.Definition `json:"workflows"`
}

type definitionDeleteToolOutput struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

func (s *Server) registerDefinitionTools() {
	if s.definitions == nil {
		return
	}
	s.server.AddTool(&sdkmcp.Tool{
		Name:        "definitions.list",
		Title:       "Definitions List",
		Description: "Lists saved workflow definitions",
		InputSchema: emptyInputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint: true,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "definitions",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleDefinitionsList(ctx, req)
	})

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "definitions.get",
		Title:        "Definitions Get",
		Description:  "Returns one workflow definition",
		InputSchema:  definitionIDInputSchema(),
		OutputSchema: definitionOutputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint: true,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "definitions",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleDefinitionsGet(ctx, req)
	})

	s.server.AddTool(&sdkmcp.Tool{
		Name:         "definitions.save",
		Title:        "Definitions Save",
		Description:  "Creates or replaces a workflow definition. Running sessions keep their own copy",
		InputSchema:  definitionSaveInputSchema(),
		OutputSchema: definitionOutputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint:   false,
			IdempotentHint: true,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "definitions",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleDefinitionsSave(ctx, req)
	})

	s.server.AddTool(&sdkmcp.Tool{
		Name:        "definitions.delete",
		Title:       "Definitions Delete",
		Description: "Deletes a workflow definition and reports whether it existed",
		InputSchema: definitionIDInputSchema(),
		Annotations: &sdkmcp.ToolAnnotations{
			ReadOnlyHint:   false,
			IdempotentHint: true,
		},
		Meta: sdkmcp.Meta{
			"stepwise:type": "definitions",
		},
	}, func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		return s.handleDefinitionsDelete(ctx, req)
	})
}

func (s *Server) handleDefinitionsList(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	defs, err := s.definitions.List(ctx)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(definitionListToolOutput{Workflows: defs})
}

func (s *Server) handleDefinitionsGet(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	var input definitionIDToolInput
	if err := decodeToolArguments(req, &input); err != nil {
		return nil, wireError(
			jsonrpc.CodeInvalidParams,
			"invalid definitions.get arguments",
			map[string]any{"details": err.Error()},
		)
	}
	def, err := s.definitions.Get(ctx, input.ID)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(def)
}

func (s *Server) handleDefinitionsSave(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	var input definitionSaveToolInput
	if err := decodeToolArguments(req, &input); err != nil {
		return nil, wireError(
			jsonrpc.CodeInvalidParams,
			"invalid definitions.save arguments",
			map[string]any{"details": err.Error()},
		)
	}
	def := workflow.Definition{
		ID:               input.ID,
		DisplayName:      input.DisplayName,
		Query:            input.Query,
		Description:      input.Description,
		SkipMarksHandled: input.SkipMarksHandled,
	}
	if err := s.definitions.Save(ctx, def); err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(def)
}

func (s *Server) handleDefinitionsDelete(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if err := s.guards.checkAndConsume(req.Params.Arguments); err != nil {
		return nil, err
	}
	var input definitionIDToolInput
	if err := decodeToolArguments(req, &input); err != nil {
		return nil, wireError(
			jsonrpc.CodeInvalidParams,
			"invalid definitions.delete arguments",
			map[string]any{"details": err.Error()},
		)
	}
	deleted, err := s.definitions.Delete(ctx, input.ID)
	if err != nil {
		return nil, s.toCallToolError(err)
	}
	return s.toolResultWithStructured(definitionDeleteToolOutput{ID: input.ID, Deleted: deleted})
}

func definitionIDInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string"},
		},
		"required":             []string{"id"},
		"additionalProperties": false,
	}
}

func definitionSaveInputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":               map[string]any{"type": "string", "pattern": "^[a-z0-9]+(-[a-z0-9]+)*$"},
			"displayName":      map[string]any{"type": "string"},
			"query":            map[string]any{"type": "string", "minLength": 1},
			"description":      map[string]any{"type": "string"},
			"skipMarksHandled": map[string]any{"type": "boolean"},
		},
		"required":             []string{"id", "query"},
		"additionalProperties": false,
	}
}

func definitionOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":               map[string]any{"type": "string"},
			"displayName":      map[string]any{"type": "string"},
			"query":            map[string]any{"type": "string"},
			"description":      map[string]any{"type": "string"},
			"skipMarksHandled": map[string]any{"type": "boolean"},
		},
		"required": []string{"id", "query", "skipMarksHandled"},
	}
}
