package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/stepwise/internal/domain/fault"
	"github.com/roushou/stepwise/internal/domain/runlog"
)

const (
	resourceURIStatus           = "stepwise://status"
	resourceURIRuns             = "stepwise://runs"
	resourceURIWorkflows        = "stepwise://workflows"
	resourceTemplateWorkflowURI = "stepwise://workflows/{id}"

	maxRunsInResource = 100
)

func (s *Server) registerResources() {
	s.server.AddResource(&sdkmcp.Resource{
		Name:        "server_status",
		Title:       "Server Status",
		Description: "Server version, uptime and definition count",
		MIMEType:    "application/json",
		URI:         resourceURIStatus,
	}, s.handleServerStatusResource)

	s.server.AddResource(&sdkmcp.Resource{
		Name:        "runlog_list",
		Title:       "Action Runs",
		Description: "Most recent action executor invocations, newest first",
		MIMEType:    "application/json",
		URI:         resourceURIRuns,
	}, s.handleRunsResource)

	if s.definitions == nil {
		return
	}
	s.server.AddResource(&sdkmcp.Resource{
		Name:        "workflow_list",
		Title:       "Workflow Definitions",
		Description: "Every saved workflow definition",
		MIMEType:    "application/json",
		URI:         resourceURIWorkflows,
	}, s.handleWorkflowsResource)

	s.server.AddResourceTemplate(&sdkmcp.ResourceTemplate{
		Name:        "workflow_item",
		Title:       "Workflow Definition",
		Description: "Single workflow definition identified by id",
		MIMEType:    "application/json",
		URITemplate: resourceTemplateWorkflowURI,
	}, s.handleWorkflowByIDResource)
}

func (s *Server) handleServerStatusResource(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	if req.Params.URI != resourceURIStatus {
		return nil, sdkmcp.ResourceNotFoundError(req.Params.URI)
	}
	now := time.Now().UTC()
	status := map[string]any{
		"version":       serverVersion,
		"serverTime":    now.Format(time.RFC3339Nano),
		"uptimeSeconds": int64(now.Sub(s.startedAt).Seconds()),
	}
	if s.definitions != nil {
		if defs, err := s.definitions.List(ctx); err == nil {
			status["workflowsCount"] = len(defs)
		}
	}
	return resourceJSON(req.Params.URI, status)
}

func (s *Server) handleRunsResource(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	if req.Params.URI != resourceURIRuns {
		return nil, sdkmcp.ResourceNotFoundError(req.Params.URI)
	}
	records, err := s.runlogs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]map[string]any, 0, min(len(records), maxRunsInResource))
	for i := len(records) - 1; i >= 0 && len(out) < maxRunsInResource; i-- {
		out = append(out, runRecordJSON(records[i]))
	}
	return resourceJSON(req.Params.URI, map[string]any{"runs": out})
}

func (s *Server) handleWorkflowsResource(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	if req.Params.URI != resourceURIWorkflows {
		return nil, sdkmcp.ResourceNotFoundError(req.Params.URI)
	}
	defs, err := s.definitions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return resourceJSON(req.Params.URI, map[string]any{"workflows": defs})
}

func (s *Server) handleWorkflowByIDResource(ctx context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
	uri := strings.TrimSpace(req.Params.URI)
	prefix := resourceURIWorkflows + "/"
	if !strings.HasPrefix(uri, prefix) {
		return nil, sdkmcp.ResourceNotFoundError(uri)
	}
	id := strings.TrimPrefix(uri, prefix)
	if id == "" || strings.Contains(id, "/") {
		return nil, sdkmcp.ResourceNotFoundError(uri)
	}
	def, err := s.definitions.Get(ctx, id)
	if err != nil {
		if fault.Is(err, fault.CodeWorkflowNotFound) || fault.Is(err, fault.CodeValidation) {
			return nil, sdkmcp.ResourceNotFoundError(uri)
		}
		return nil, fmt.Errorf("get workflow %q: %w", id, err)
	}
	return resourceJSON(uri, def)
}

func resourceJSON(uri string, value any) (*sdkmcp.ReadResourceResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal resource %q: %w", uri, err)
	}
	return &sdkmcp.ReadResourceResult{
		Contents: []*sdkmcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(payload),
			},
		},
	}, nil
}

func runRecordJSON(record runlog.Record) map[string]any {
	out := map[string]any{
		"runId":         record.RunID,
		"correlationId": record.CorrelationID,
		"tokenPrefix":   record.TokenPrefix,
		"workflowId":    record.WorkflowID,
		"itemId":        record.ItemID,
		"action":        record.Action,
		"status":        string(record.Status),
		"startedAt":     record.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if !record.EndedAt.IsZero() {
		out["endedAt"] = record.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	if record.ErrorCode != "" {
		out["errorCode"] = record.ErrorCode
	}
	if record.ErrorMessage != "" {
		out["errorMessage"] = record.ErrorMessage
	}
	return out
}
