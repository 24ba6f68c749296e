package client

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type fakeSession struct {
	callToolFn      func(context.Context, *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error)
	listResourcesFn func(context.Context, *sdkmcp.ListResourcesParams) (*sdkmcp.ListResourcesResult, error)
	readResourceFn  func(context.Context, *sdkmcp.ReadResourceParams) (*sdkmcp.ReadResourceResult, error)

	callToolCalls      []*sdkmcp.CallToolParams
	listResourcesCalls []*sdkmcp.ListResourcesParams
}

func (f *fakeSession) CallTool(ctx context.Context, params *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
	f.callToolCalls = append(f.callToolCalls, cloneCallToolParams(params))
	if f.callToolFn == nil {
		return nil, errors.New("unexpected call")
	}
	return f.callToolFn(ctx, params)
}

func (f *fakeSession) ListResources(ctx context.Context, params *sdkmcp.ListResourcesParams) (*sdkmcp.ListResourcesResult, error) {
	f.listResourcesCalls = append(f.listResourcesCalls, &sdkmcp.ListResourcesParams{Cursor: params.Cursor})
	if f.listResourcesFn == nil {
		return nil, errors.New("unexpected resources/list")
	}
	return f.listResourcesFn(ctx, params)
}

func (f *fakeSession) ReadResource(ctx context.Context, params *sdkmcp.ReadResourceParams) (*sdkmcp.ReadResourceResult, error) {
	if f.readResourceFn == nil {
		return nil, errors.New("unexpected resources/read")
	}
	return f.readResourceFn(ctx, params)
}

func TestStartParsesStepResponse(t *testing.T) {
	session := &fakeSession{
		callToolFn: func(_ context.Context, _ *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
			return &sdkmcp.CallToolResult{
				StructuredContent: map[string]any{
					"success":    true,
					"token":      "tok-1",
					"workflowId": "unread-inbox",
					"item":       map[string]any{"id": "m1", "fields": map[string]any{"subject": "hi"}},
					"message":    "Started.",
					"progress":   map[string]any{"current": 1, "total": 2, "remaining": 1},
					"availableActions": []any{
						"view", "reply", "archive", "skip", "quit",
					},
				},
			}, nil
		},
	}
	client := newWithSession(session)

	resp, err := client.Start(context.Background(), "unread-inbox")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.Token != "tok-1" || resp.Item == nil || resp.Item.ID != "m1" {
		t.Fatalf("unexpected response: %#v", resp)
	}
	if resp.Progress.Total != 2 || len(resp.AvailableActions) != 5 {
		t.Fatalf("unexpected progress or actions: %#v", resp)
	}
	if len(session.callToolCalls) != 1 {
		t.Fatalf("unexpected call count: %d", len(session.callToolCalls))
	}
	call := session.callToolCalls[0]
	if call.Name != "workflow.start" {
		t.Fatalf("unexpected tool name: %q", call.Name)
	}
	args, _ := call.Arguments.(map[string]any)
	if args["workflowId"] != "unread-inbox" {
		t.Fatalf("unexpected arguments: %#v", call.Arguments)
	}
}

func TestContinueReturnsStepError(t *testing.T) {
	session := &fakeSession{
		callToolFn: func(_ context.Context, _ *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
			return &sdkmcp.CallToolResult{
				IsError: true,
				StructuredContent: map[string]any{
					"success":          false,
					"message":          "token has expired",
					"progress":         map[string]any{"current": 0, "total": 0, "remaining": 0},
					"availableActions": []any{},
					"error": map[string]any{
						"code":      "EXPIRED_TOKEN",
						"message":   "token has expired",
						"retryable": false,
					},
				},
			}, nil
		},
	}
	client := newWithSession(session)

	resp, err := client.Continue(context.Background(), "tok-1", "skip", nil)
	if err == nil {
		t.Fatal("expected step error")
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected StepError, got %T", err)
	}
	if stepErr.Code != "EXPIRED_TOKEN" {
		t.Fatalf("unexpected code: %q", stepErr.Code)
	}
	if resp.Success {
		t.Fatalf("expected failed response: %#v", resp)
	}
	if IsRetryable(err) {
		t.Fatal("expired token must not be retryable")
	}
	args, _ := session.callToolCalls[0].Arguments.(map[string]any)
	if _, ok := args["payload"]; ok {
		t.Fatalf("empty payload should be omitted: %#v", args)
	}
}

func TestReplySendsBody(t *testing.T) {
	session := &fakeSession{
		callToolFn: func(_ context.Context, _ *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
			return &sdkmcp.CallToolResult{
				StructuredContent: map[string]any{"success": true, "completed": true, "message": "done"},
			}, nil
		},
	}
	client := newWithSession(session)

	if _, err := client.Reply(context.Background(), "tok-1", "thanks"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	args, _ := session.callToolCalls[0].Arguments.(map[string]any)
	if args["actionKind"] != "reply" {
		t.Fatalf("unexpected action kind: %#v", args)
	}
	payload, _ := args["payload"].(map[string]any)
	if payload["body"] != "thanks" {
		t.Fatalf("unexpected payload: %#v", args["payload"])
	}
}

func TestStartWithRetryRetriesRetryableErrors(t *testing.T) {
	attempt := 0
	session := &fakeSession{
		callToolFn: func(_ context.Context, _ *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
			attempt++
			if attempt == 1 {
				return &sdkmcp.CallToolResult{
					IsError: true,
					StructuredContent: map[string]any{
						"success": false,
						"message": "search failed",
						"error":   map[string]any{"code": "ITEM_SOURCE_ERROR", "message": "search failed", "retryable": true},
					},
				}, nil
			}
			return &sdkmcp.CallToolResult{
				StructuredContent: map[string]any{"success": true, "token": "tok-2", "message": "Started."},
			}, nil
		},
	}
	client := newWithSession(session)

	resp, err := client.StartWithRetry(context.Background(), "unread-inbox", RetryOptions{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("start with retry: %v", err)
	}
	if attempt != 2 {
		t.Fatalf("expected retry attempt, got %d", attempt)
	}
	if resp.Token != "tok-2" {
		t.Fatalf("unexpected token: %#v", resp)
	}
}

func TestCallToolWithRetryStopsOnNonRetryableError(t *testing.T) {
	attempt := 0
	session := &fakeSession{
		callToolFn: func(_ context.Context, _ *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
			attempt++
			return nil, wireJSONRPCError(jsonrpc.CodeInvalidParams, "invalid", map[string]any{"retryable": false})
		},
	}
	client := newWithSession(session)

	_, err := client.CallToolWithRetry(context.Background(), "definitions.get", map[string]any{"id": "x"}, RetryOptions{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempt != 1 {
		t.Fatalf("expected no retry for non-retryable error, got %d attempts", attempt)
	}
}

func TestCleanupAndDefinitions(t *testing.T) {
	session := &fakeSession{
		callToolFn: func(_ context.Context, params *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
			switch params.Name {
			case "workflow.cleanup":
				return &sdkmcp.CallToolResult{StructuredContent: map[string]any{"success": true, "removed": 3}}, nil
			case "definitions.list":
				return &sdkmcp.CallToolResult{StructuredContent: map[string]any{
					"workflows": []any{
						map[string]any{"id": "read-unarchived", "query": "in:inbox is:read"},
						map[string]any{"id": "unread-inbox", "query": "in:inbox is:unread", "skipMarksHandled": true},
					},
				}}, nil
			case "definitions.delete":
				return &sdkmcp.CallToolResult{StructuredContent: map[string]any{"id": "x", "deleted": true}}, nil
			default:
				t.Fatalf("unexpected tool %q", params.Name)
				return nil, nil
			}
		},
	}
	client := newWithSession(session)

	removed, err := client.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("unexpected removed count: %d", removed)
	}
	defs, err := client.ListDefinitions(context.Background())
	if err != nil {
		t.Fatalf("list definitions: %v", err)
	}
	if len(defs) != 2 || !defs[1].SkipMarksHandled {
		t.Fatalf("unexpected definitions: %#v", defs)
	}
	deleted, err := client.DeleteDefinition(context.Background(), "x")
	if err != nil {
		t.Fatalf("delete definition: %v", err)
	}
	if !deleted {
		t.Fatal("expected deleted=true")
	}
}

func TestListResourcesAllPaginates(t *testing.T) {
	session := &fakeSession{
		listResourcesFn: func(_ context.Context, params *sdkmcp.ListResourcesParams) (*sdkmcp.ListResourcesResult, error) {
			switch params.Cursor {
			case "":
				return &sdkmcp.ListResourcesResult{
					Resources: []*sdkmcp.Resource{
						{Name: "status", URI: "stepwise://status"},
					},
					NextCursor: "1",
				}, nil
			case "1":
				return &sdkmcp.ListResourcesResult{
					Resources: []*sdkmcp.Resource{
						{Name: "runs", URI: "stepwise://runs"},
					},
				}, nil
			default:
				t.Fatalf("unexpected cursor %q", params.Cursor)
				return nil, nil
			}
		},
	}
	client := newWithSession(session)

	resources, err := client.ListResourcesAll(context.Background())
	if err != nil {
		t.Fatalf("list resources all: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	if resources[0].URI != "stepwise://status" || resources[1].URI != "stepwise://runs" {
		t.Fatalf("unexpected resources: %#v", resources)
	}
}

func TestCallErrorMapping(t *testing.T) {
	session := &fakeSession{
		callToolFn: func(_ context.Context, _ *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error) {
			return nil, wireJSONRPCError(-32044, "workflow \"x\" not found", map[string]any{
				"retryable": false,
				"code":      "WORKFLOW_NOT_FOUND",
			})
		},
	}
	client := newWithSession(session)

	_, err := client.GetDefinition(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %T", err)
	}
	if callErr.Code != -32044 {
		t.Fatalf("unexpected code: %d", callErr.Code)
	}
	if callErr.Data["code"] != "WORKFLOW_NOT_FOUND" {
		t.Fatalf("unexpected data: %#v", callErr.Data)
	}
}

func wireJSONRPCError(code int64, message string, data map[string]any) error {
	raw, _ := json.Marshal(data)
	return &jsonrpc.Error{
		Code:    code,
		Message: message,
		Data:    raw,
	}
}

func cloneCallToolParams(params *sdkmcp.CallToolParams) *sdkmcp.CallToolParams {
	if params == nil {
		return nil
	}
	cloned := &sdkmcp.CallToolParams{
		Name: params.Name,
	}
	if params.Arguments != nil {
		if args, ok := params.Arguments.(map[string]any); ok {
			clonedArgs := make(map[string]any, len(args))
			for k, v := range args {
				clonedArgs[k] = v
			}
			cloned.Arguments = clonedArgs
		} else {
			cloned.Arguments = params.Arguments
		}
	}
	if params.Meta != nil {
		cloned.Meta = sdkmcp.Meta{}
		for k, v := range params.Meta {
			cloned.Meta[k] = v
		}
	}
	return cloned
}
