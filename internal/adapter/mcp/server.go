package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roushou/stepwise/internal/domain/fault"
	"github.com/roushou/stepwise/internal/domain/runlog"
	"github.com/roushou/stepwise/internal/domain/workflow"
)

const serverVersion = "0.1.0"

const (
	errorCodeRateLimited int64 = -32029
	errorCodeNotFound    int64 = -32044
)

// StepService is the step protocol as exposed to agents.
type StepService interface {
	Start(ctx context.Context, workflowID string) (workflow.StepResponse, error)
	Continue(ctx context.Context, token string, req workflow.ActionRequest) (workflow.StepResponse, error)
	Delete(ctx context.Context, token string) error
	Cleanup(ctx context.Context) (int, error)
}

type DefinitionService interface {
	List(ctx context.Context) ([]workflow.Definition, error)
	Get(ctx context.Context, id string) (workflow.Definition, error)
	Save(ctx context.Context, def workflow.Definition) error
	Delete(ctx context.Context, id string) (bool, error)
}

type Server struct {
	reader      io.Reader
	writer      io.Writer
	logger      *slog.Logger
	steps       StepService
	definitions DefinitionService
	runlogs     runlog.Store
	guards      *requestGuards
	startedAt   time.Time
	server      *sdkmcp.Server
}

func NewServer(
	name string,
	reader io.Reader,
	writer io.Writer,
	logger *slog.Logger,
	steps StepService,
	definitions DefinitionService,
	runlogs runlog.Store,
	cfg ServerRuntimeConfig,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if runlogs == nil {
		runlogs = runlog.NewInMemoryStore()
	}
	s := &Server{
		reader:      reader,
		writer:      writer,
		logger:      logger,
		steps:       steps,
		definitions: definitions,
		runlogs:     runlogs,
		guards:      newRequestGuards(cfg),
		startedAt:   time.Now().UTC(),
		server: sdkmcp.NewServer(&sdkmcp.Implementation{
			Name:    name,
			Version: serverVersion,
		}, &sdkmcp.ServerOptions{
			Logger: logger,
		}),
	}
	s.registerTools()
	return s
}

func (s *Server) Serve(ctx context.Context) error {
	reader := s.reader
	if reader == nil {
		reader = os.Stdin
	}
	writer := s.writer
	if writer == nil {
		writer = os.Stdout
	}
	transport := &sdkmcp.IOTransport{
		Reader: io.NopCloser(reader),
		Writer: nopWriteCloser{Writer: writer},
	}
	return s.server.Run(ctx, transport)
}

func (s *Server) registerTools() {
	s.registerStepTools()
	s.registerDefinitionTools()
	s.registerResources()
}

func (s *Server) toolResultWithStructured(output any) (*sdkmcp.CallToolResult, error) {
	rawOutput, err := json.Marshal(output)
	if err != nil {
		return nil, wireError(
			jsonrpc.CodeInternalError,
			"failed to encode tool output",
			map[string]any{"details": err.Error()},
		)
	}

	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{
			&sdkmcp.TextContent{Text: string(rawOutput)},
		},
		StructuredContent: output,
	}, nil
}

func (s *Server) toCallToolError(err error) error {
	if f, ok := fault.As(err); ok {
		data := map[string]any{
			"code":           f.Code,
			"category":       f.Category,
			"retryable":      f.Retryable,
			"correlation_id": f.CorrelationID,
			"details":        f.Details,
		}
		return wireError(mapFaultCode(f.Code), f.Message, data)
	}
	return wireError(
		jsonrpc.CodeInternalError,
		"internal error",
		map[string]any{"details": err.Error()},
	)
}

func mapFaultCode(code fault.Code) int64 {
	switch code {
	case fault.CodeValidation, fault.CodeUnsupportedAction:
		return jsonrpc.CodeInvalidParams
	case fault.CodeWorkflowNotFound, fault.CodeInvalidToken:
		return errorCodeNotFound
	default:
		return jsonrpc.CodeInternalError
	}
}

func wireError(code int64, message string, data any) *jsonrpc.Error {
	out := &jsonrpc.Error{
		Code:    code,
		Message: message,
	}
	if data == nil {
		return out
	}
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"details":%q}`, err.Error()))
	}
	out.Data = json.RawMessage(raw)
	return out
}

func decodeToolArguments(req *sdkmcp.CallToolRequest, target any) error {
	if len(req.Params.Arguments) == 0 {
		return json.Unmarshal([]byte(`{}`), target)
	}
	return json.Unmarshal(req.Params.Arguments, target)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error {
	return nil
}
