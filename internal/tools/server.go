package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mattjoyce/crewgate/internal/log"
)

// ServerInfo identifies the server to clients.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Server exposes the provider's tool catalog over MCP.
type Server struct {
	svc    *Service
	mcp    *mcp.Server
	logger *slog.Logger
}

// NewServer registers one handler per visible tool. Calls naming a tool hidden
// for the provider are answered with the self-call message rather than the
// generic unknown-tool error.
func NewServer(svc *Service, info ServerInfo) *Server {
	s := &Server{svc: svc, logger: log.WithComponent("stdio")}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: info.Name, Version: info.Version}, &mcp.ServerOptions{
		Logger: log.WithComponent("mcp"),
	})
	for _, t := range svc.List() {
		s.mcp.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}, s.handler(t.Name))
	}
	s.mcp.AddReceivingMiddleware(s.hiddenTools)
	return s
}

// Serve speaks newline-delimited JSON-RPC on r and w until r reaches EOF or
// ctx ends. Either is a clean shutdown.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.Run(ctx, &mcp.IOTransport{Reader: io.NopCloser(r), Writer: nopWriteCloser{w}})
}

// Run serves a single session over t.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	s.logger.Info("stdio server started", "provider", s.svc.Provider(), "tools", len(s.svc.List()))
	err := s.mcp.Run(ctx, t)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Info("stdio server stopping", "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("stdio server: %w", err)
	}
	s.logger.Info("stdin closed")
	return nil
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := s.svc.Call(ctx, name, req.Params.Arguments)
		if err != nil {
			return s.callError(name, err)
		}
		return toolResult(res), nil
	}
}

// hiddenTools intercepts calls to tools filtered out of the catalog, which
// the SDK would otherwise reject as unknown.
func (s *Server) hiddenTools(next mcp.MethodHandler) mcp.MethodHandler {
	return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
		if call, ok := req.(*mcp.CallToolRequest); ok && call.Params != nil && Hidden(s.svc.Provider(), call.Params.Name) {
			s.logger.Warn("hidden tool called", "tool", call.Params.Name, "provider", s.svc.Provider())
			return errorResult(HiddenMessage(call.Params.Name, s.svc.Provider())), nil
		}
		return next(ctx, method, req)
	}
}

// callError reports tool failures as error results the model can read;
// only cancellation surfaces as a JSON-RPC error.
func (s *Server) callError(tool string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, ErrHiddenTool):
		return errorResult(HiddenMessage(tool, s.svc.Provider())), nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		return errorResult(err.Error()), nil
	}
}

func toolResult(res *Result) *mcp.CallToolResult {
	out := &mcp.CallToolResult{IsError: res.IsError, Content: make([]mcp.Content, 0, len(res.Content))}
	for _, c := range res.Content {
		out.Content = append(out.Content, &mcp.TextContent{Text: c.Text})
	}
	return out
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}, IsError: true}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
