// Package client is a typed Go client for the stepwise MCP tools.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type Client struct {
	session toolSession
}

func New(session *sdkmcp.ClientSession) *Client {
	return newWithSession(session)
}

type toolSession interface {
	CallTool(context.Context, *sdkmcp.CallToolParams) (*sdkmcp.CallToolResult, error)
	ListResources(context.Context, *sdkmcp.ListResourcesParams) (*sdkmcp.ListResourcesResult, error)
	ReadResource(context.Context, *sdkmcp.ReadResourceParams) (*sdkmcp.ReadResourceResult, error)
}

func newWithSession(session toolSession) *Client {
	return &Client{session: session}
}

type RetryOptions struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Item struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Progress struct {
	Current   int `json:"current"`
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}

type StepResponse struct {
	Success          bool       `json:"success"`
	Token            string     `json:"token,omitempty"`
	WorkflowID       string     `json:"workflowId,omitempty"`
	Item             *Item      `json:"item,omitempty"`
	Message          string     `json:"message"`
	Progress         Progress   `json:"progress"`
	AvailableActions []string   `json:"availableActions"`
	Completed        bool       `json:"completed"`
	Error            *StepError `json:"error,omitempty"`
}

// StepError is a step protocol failure reported by the server as a tool
// error result.
type StepError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Retryable     bool   `json:"retryable"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Definition struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName,omitempty"`
	Query            string `json:"query"`
	Description      string `json:"description,omitempty"`
	SkipMarksHandled bool   `json:"skipMarksHandled,omitempty"`
}

type CleanupResult struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
}

type CallError struct {
	Code    int64
	Message string
	Data    map[string]any
	Cause   error
}

const (
	defaultRetryMaxAttempts    = 3
	defaultRetryInitialBackoff = 200 * time.Millisecond
	defaultRetryMaxBackoff     = 2 * time.Second
)

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("mcp call error (%d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("mcp call error (%d): %s: %v", e.Code, e.Message, e.Cause)
}

// Start begins a session. On a step failure the decoded response is
// returned together with its *StepError.
func (c *Client) Start(ctx context.Context, workflowID string) (StepResponse, error) {
	callResult, err := c.callTool(ctx, "workflow.start", map[string]any{"workflowId": workflowID})
	if err != nil {
		return StepResponse{}, err
	}
	return parseStepResponse(callResult)
}

func (c *Client) StartWithRetry(ctx context.Context, workflowID string, retry RetryOptions) (StepResponse, error) {
	var out StepResponse
	err := withRetry(ctx, retry, func() error {
		resp, err := c.Start(ctx, workflowID)
		out = resp
		return err
	})
	return out, err
}

func (c *Client) Continue(ctx context.Context, token, actionKind string, payload map[string]any) (StepResponse, error) {
	args := map[string]any{
		"token":      token,
		"actionKind": actionKind,
	}
	if len(payload) > 0 {
		args["payload"] = payload
	}
	callResult, err := c.callTool(ctx, "workflow.continue", args)
	if err != nil {
		return StepResponse{}, err
	}
	return parseStepResponse(callResult)
}

// Reply is Continue with a reply action carrying body.
func (c *Client) Reply(ctx context.Context, token, body string) (StepResponse, error) {
	return c.Continue(ctx, token, "reply", map[string]any{"body": body})
}

func (c *Client) Delete(ctx context.Context, token string) error {
	callResult, err := c.callTool(ctx, "workflow.delete", map[string]any{"token": token})
	if err != nil {
		return err
	}
	if callResult.IsError {
		_, err := parseStepResponse(callResult)
		return err
	}
	return nil
}

func (c *Client) Cleanup(ctx context.Context) (int, error) {
	callResult, err := c.callTool(ctx, "workflow.cleanup", map[string]any{})
	if err != nil {
		return 0, err
	}
	out, err := decodeStructured[CleanupResult](callResult)
	if err != nil {
		return 0, err
	}
	return out.Removed, nil
}

func (c *Client) ListDefinitions(ctx context.Context) ([]Definition, error) {
	callResult, err := c.callTool(ctx, "definitions.list", map[string]any{})
	if err != nil {
		return nil, err
	}
	out, err := decodeStructured[struct {
		Workflows []Definition `json:"workflows"`
	}](callResult)
	if err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

func (c *Client) GetDefinition(ctx context.Context, id string) (Definition, error) {
	callResult, err := c.callTool(ctx, "definitions.get", map[string]any{"id": id})
	if err != nil {
		return Definition{}, err
	}
	return decodeStructured[Definition](callResult)
}

func (c *Client) SaveDefinition(ctx context.Context, def Definition) error {
	args := map[string]any{
		"id":    def.ID,
		"query": def.Query,
	}
	if def.DisplayName != "" {
		args["displayName"] = def.DisplayName
	}
	if def.Description != "" {
		args["description"] = def.Description
	}
	if def.SkipMarksHandled {
		args["skipMarksHandled"] = true
	}
	_, err := c.callTool(ctx, "definitions.save", args)
	return err
}

func (c *Client) DeleteDefinition(ctx context.Context, id string) (bool, error) {
	callResult, err := c.callTool(ctx, "definitions.delete", map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	out, err := decodeStructured[struct {
		Deleted bool `json:"deleted"`
	}](callResult)
	if err != nil {
		return false, err
	}
	return out.Deleted, nil
}

func parseStepResponse(callResult *sdkmcp.CallToolResult) (StepResponse, error) {
	resp, err := decodeStructured[StepResponse](callResult)
	if err != nil {
		return StepResponse{}, err
	}
	if callResult.IsError || !resp.Success {
		if resp.Error == nil {
			resp.Error = &StepError{Code: "INTERNAL_ERROR", Message: resp.Message}
		}
		return resp, resp.Error
	}
	return resp, nil
}

func (c *Client) ListResources(ctx context.Context) ([]*sdkmcp.Resource, error) {
	return c.ListResourcesAll(ctx)
}

func (c *Client) ListResourcesAll(ctx context.Context) ([]*sdkmcp.Resource, error) {
	cursor := ""
	var out []*sdkmcp.Resource
	seenCursor := map[string]struct{}{}
	for {
		resources, nextCursor, err := c.ListResourcesPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, resources...)
		if nextCursor == "" {
			return out, nil
		}
		if _, ok := seenCursor[nextCursor]; ok {
			return nil, fmt.Errorf("resources/list repeated nextCursor %q", nextCursor)
		}
		seenCursor[nextCursor] = struct{}{}
		cursor = nextCursor
	}
}

func (c *Client) ListResourcesPage(ctx context.Context, cursor string) ([]*sdkmcp.Resource, string, error) {
	params := &sdkmcp.ListResourcesParams{Cursor: cursor}
	resp, err := c.session.ListResources(ctx, params)
	if err != nil {
		return nil, "", toCallError(err)
	}
	return resp.Resources, resp.NextCursor, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (string, error) {
	resp, err := c.session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", toCallError(err)
	}
	if len(resp.Contents) == 0 {
		return "", nil
	}
	return resp.Contents[0].Text, nil
}

func (c *Client) CallToolWithRetry(
	ctx context.Context,
	name string,
	args map[string]any,
	retry RetryOptions,
) (*sdkmcp.CallToolResult, error) {
	var out *sdkmcp.CallToolResult
	err := withRetry(ctx, retry, func() error {
		result, err := c.callTool(ctx, name, args)
		out = result
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func withRetry(ctx context.Context, retry RetryOptions, call func() error) error {
	policy := retry.normalize()
	backoff := policy.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		if attempt >= policy.MaxAttempts || !IsRetryable(err) {
			return err
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff = nextBackoff(backoff, policy.MaxBackoff)
	}
}

func (c *Client) callTool(ctx context.Context, name string, args map[string]any) (*sdkmcp.CallToolResult, error) {
	params := &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	}
	result, err := c.session.CallTool(ctx, params)
	if err != nil {
		return nil, toCallError(err)
	}
	return result, nil
}

func (o RetryOptions) normalize() RetryOptions {
	out := o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultRetryMaxAttempts
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = defaultRetryInitialBackoff
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = defaultRetryMaxBackoff
	}
	if out.MaxBackoff < out.InitialBackoff {
		out.MaxBackoff = out.InitialBackoff
	}
	return out
}

func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Retryable
	}
	var callErr *CallError
	if !errors.As(err, &callErr) {
		return false
	}

	if callErr.Data != nil {
		if retryable, ok := asBool(callErr.Data["retryable"]); ok {
			return retryable
		}
	}
	return callErr.Code == jsonrpc.CodeInternalError
}

func asBool(v any) (bool, bool) {
	switch typed := v.(type) {
	case bool:
		return typed, true
	case string:
		parsed, err := strconv.ParseBool(typed)
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	if current >= max {
		return max
	}
	next := current * 2
	if next < 0 || next > max {
		return max
	}
	return next
}

func toCallError(err error) error {
	var wireErr *jsonrpc.Error
	if errors.As(err, &wireErr) {
		out := &CallError{
			Code:    wireErr.Code,
			Message: wireErr.Message,
			Cause:   err,
		}
		if len(wireErr.Data) > 0 {
			var data map[string]any
			if unmarshalErr := json.Unmarshal(wireErr.Data, &data); unmarshalErr == nil {
				out.Data = data
			}
		}
		return out
	}
	return err
}

func decodeStructured[T any](result *sdkmcp.CallToolResult) (T, error) {
	var out T
	if result == nil {
		return out, errors.New("nil tool result")
	}
	raw, err := json.Marshal(result.StructuredContent)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
