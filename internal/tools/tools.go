// Package tools exposes the ask and job operations as named tools with JSON
// arguments, and serves them over a line-delimited JSON-RPC stdio transport.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/crewgate/internal/agent"
	"github.com/mattjoyce/crewgate/internal/dispatch"
	"github.com/mattjoyce/crewgate/internal/jobs"
	"github.com/mattjoyce/crewgate/internal/log"
)

var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrHiddenTool       = errors.New("tool hidden for provider")
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Asker runs ask requests.
type Asker interface {
	Ask(ctx context.Context, n agent.Name, req agent.Request) (*dispatch.Reply, error)
}

// JobStore is the job registry as the tools see it.
type JobStore interface {
	Get(id string) (jobs.Info, error)
	Wait(ctx context.Context, id string, timeout time.Duration) (*jobs.WaitResult, error)
	Kill(id string) (jobs.Info, error)
	List(filter jobs.Filter, limit int) []jobs.Info
}

// Content is one block of tool output.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is a tool's output. IsError marks a failure the caller should read,
// not a transport error.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the concatenated text blocks.
func (r *Result) Text() string {
	var buf bytes.Buffer
	for i, c := range r.Content {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(c.Text)
	}
	return buf.String()
}

func textResult(text string, isError bool) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}, IsError: isError}
}

// Service dispatches tool calls.
type Service struct {
	asker    Asker
	jobs     JobStore
	provider agent.Name
	logger   *slog.Logger
}

// NewService creates a Service. provider is the calling agent, whose own
// ask tool is hidden; empty hides nothing.
func NewService(asker Asker, store JobStore, provider agent.Name) *Service {
	return &Service{
		asker:    asker,
		jobs:     store,
		provider: provider,
		logger:   log.WithComponent("tools"),
	}
}

// Provider returns the calling agent.
func (s *Service) Provider() agent.Name { return s.provider }

// List returns the visible tools.
func (s *Service) List() []Tool { return Catalog(s.provider) }

type jobArgs struct {
	JobID     string `json:"job_id"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

type listArgs struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Call runs tool with JSON args. Unknown or hidden tools and undecodable
// arguments are errors; everything a tool reports goes into the Result.
func (s *Service) Call(ctx context.Context, tool string, args json.RawMessage) (*Result, error) {
	if Hidden(s.provider, tool) {
		return nil, fmt.Errorf("%w: %s", ErrHiddenTool, tool)
	}
	s.logger.Debug("tool call", "tool", tool)

	if n, ok := askAgent(tool); ok {
		var req agent.Request
		if err := decodeArgs(args, &req); err != nil {
			return nil, err
		}
		reply, err := s.asker.Ask(ctx, n, req)
		if err != nil {
			if errors.Is(err, agent.ErrInvalidInput) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
			}
			return nil, err
		}
		return textResult(reply.Text, reply.IsError), nil
	}

	switch tool {
	case WaitJob:
		var a jobArgs
		if err := decodeJobArgs(args, &a); err != nil {
			return nil, err
		}
		res, err := s.jobs.Wait(ctx, a.JobID, time.Duration(a.TimeoutMS)*time.Millisecond)
		if err != nil {
			return s.jobError(a.JobID, err)
		}
		return jsonResult(res)

	case CheckJob:
		var a jobArgs
		if err := decodeJobArgs(args, &a); err != nil {
			return nil, err
		}
		info, err := s.jobs.Get(a.JobID)
		if err != nil {
			return s.jobError(a.JobID, err)
		}
		return jsonResult(info)

	case KillJob:
		var a jobArgs
		if err := decodeJobArgs(args, &a); err != nil {
			return nil, err
		}
		info, err := s.jobs.Kill(a.JobID)
		if err != nil {
			return s.jobError(a.JobID, err)
		}
		return jsonResult(info)

	case ListJobs:
		var a listArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		filter, err := jobs.ParseFilter(a.Status)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		list := s.jobs.List(filter, a.Limit)
		if len(list) == 0 {
			return textResult("No jobs found.", false), nil
		}
		return jsonResult(list)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
}

func (s *Service) jobError(id string, err error) (*Result, error) {
	if errors.Is(err, jobs.ErrJobNotFound) {
		return textResult(fmt.Sprintf("Job '%s' not found.", id), true), nil
	}
	return nil, err
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(bytes.TrimSpace(args)) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func decodeJobArgs(args json.RawMessage, a *jobArgs) error {
	if err := decodeArgs(args, a); err != nil {
		return err
	}
	if a.JobID == "" {
		return fmt.Errorf("%w: job_id is required", ErrInvalidArguments)
	}
	if a.TimeoutMS < 0 {
		return fmt.Errorf("%w: timeout_ms must not be negative", ErrInvalidArguments)
	}
	if a.TimeoutMS > agent.MaxTimeoutMS {
		return fmt.Errorf("%w: timeout_ms must be at most %d", ErrInvalidArguments, agent.MaxTimeoutMS)
	}
	return nil
}

func jsonResult(v any) (*Result, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return textResult(string(data), false), nil
}
