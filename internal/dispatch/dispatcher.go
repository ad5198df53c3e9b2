package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/crewgate/internal/agent"
	"github.com/mattjoyce/crewgate/internal/buffer"
	"github.com/mattjoyce/crewgate/internal/exchange"
	"github.com/mattjoyce/crewgate/internal/jobs"
	"github.com/mattjoyce/crewgate/internal/log"
	"github.com/mattjoyce/crewgate/internal/prompt"
	"github.com/mattjoyce/crewgate/internal/report"
	"github.com/mattjoyce/crewgate/internal/spawner"
)

// emptyPreview caps the stdout/stderr echoed back for an empty response.
const emptyPreview = 500

// Runner starts agent processes.
type Runner interface {
	RunForeground(ctx context.Context, agent string, args []string, opts spawner.Options) (*spawner.Result, error)
	RunBackground(agent string, args []string, opts spawner.Options) (*spawner.Process, error)
}

// JobCreator takes ownership of background processes.
type JobCreator interface {
	Create(agent string, proc *spawner.Process, meta jobs.Meta) *jobs.Job
}

// Reply is the outcome of an ask.
type Reply struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	SavedTo string `json:"saved_to,omitempty"`
}

// BackgroundStarted is the body of a background reply.
type BackgroundStarted struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// Dispatcher runs ask requests.
type Dispatcher struct {
	runner   Runner
	jobs     JobCreator
	exchange *exchange.Exchanger
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(runner Runner, reg JobCreator, ex *exchange.Exchanger) *Dispatcher {
	return &Dispatcher{
		runner:   runner,
		jobs:     reg,
		exchange: ex,
		logger:   log.WithComponent("dispatch"),
	}
}

// Ask delegates req to agent n. Invalid input and ctx cancellation are
// returned as errors; everything else is reported through the Reply.
func (d *Dispatcher) Ask(ctx context.Context, n agent.Name, req agent.Request) (*Reply, error) {
	if err := req.Validate(n); err != nil {
		return nil, err
	}
	args, err := agent.Args(n, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agent.ErrInvalidInput, err)
	}
	dir, err := req.Dir()
	if err != nil {
		return nil, fmt.Errorf("%w: resolve working directory: %v", agent.ErrInvalidInput, err)
	}

	opts := spawner.Options{
		Dir:   dir,
		Stdin: buildPrompt(n, req),
	}
	if n == agent.Codex && req.TimeoutMS > 0 {
		opts.Timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}

	logger := d.logger.With("agent", string(n), "background", req.Background, "model", req.Model)

	if req.Background {
		return d.background(n, req, args, opts, logger), nil
	}
	return d.foreground(ctx, n, req, args, opts, logger)
}

func buildPrompt(n agent.Name, req agent.Request) string {
	full := prompt.WithFiles(req.Prompt, req.Files)
	if req.OutputFile == "" || n == agent.Claude {
		return full
	}
	// codex always prints; its -o flag saves the last message.
	return prompt.ForFileOutput(full, req.OutputFile, req.AgentWritesOutput(n))
}

func (d *Dispatcher) background(n agent.Name, req agent.Request, args []string, opts spawner.Options, logger *slog.Logger) *Reply {
	proc, err := d.runner.RunBackground(string(n), args, opts)
	if err != nil {
		logger.Warn("background spawn failed", "error", err)
		return spawnFailure(n, opts.Dir, err)
	}
	job := d.jobs.Create(string(n), proc, jobs.Meta{Prompt: req.Prompt, Model: req.Model})

	body, err := json.MarshalIndent(BackgroundStarted{
		Status:  "background_started",
		JobID:   job.ID(),
		Agent:   string(n),
		Message: fmt.Sprintf("%s job started in the background. Use check_job('%s') or wait_job('%s') for the result.", n.Title(), job.ID(), job.ID()),
	}, "", "  ")
	if err != nil {
		return &Reply{Text: fmt.Sprintf("encode background reply: %v", err), IsError: true, JobID: job.ID()}
	}
	return &Reply{Text: string(body), JobID: job.ID()}
}

func (d *Dispatcher) foreground(ctx context.Context, n agent.Name, req agent.Request, args []string, opts spawner.Options, logger *slog.Logger) (*Reply, error) {
	modBefore := exchange.ModTime(req.OutputFile)

	started := time.Now()
	res, err := d.runner.RunForeground(ctx, string(n), args, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Warn("foreground spawn failed", "error", err)
		return spawnFailure(n, opts.Dir, err), nil
	}
	logger.Info("agent finished", "exit_code", res.ExitCode, "timed_out", res.TimedOut(), "duration_ms", time.Since(started).Milliseconds())

	if n != agent.Claude {
		if report.RateLimited(res.Stdout, res.Stderr) {
			return errorReply("%s rate limit detected. Retry later.\n\nstderr: %s", n.Title(), res.Stderr), nil
		}
		if report.ModelError(res.Stdout, res.Stderr) {
			return errorReply("%s model error: %s", n.Title(), firstNonEmpty(res.Stderr, res.Stdout)), nil
		}
	}
	// A timeout has no exit code and falls through with whatever was printed.
	if res.ExitCode != nil && *res.ExitCode != 0 {
		return errorReply("%s CLI error (exit %d):\n%s", n.Title(), *res.ExitCode, firstNonEmpty(res.Stderr, res.Stdout)), nil
	}

	var response string
	if n == agent.Codex {
		response = report.CodexMessages(res.Stdout)
	} else {
		response = strings.TrimSpace(res.Stdout)
	}

	exOpts := exchange.Options{
		OutputFile:       req.OutputFile,
		WorkingDirectory: opts.Dir,
		OutputModBefore:  modBefore,
		Raw:              n == agent.Claude,
	}

	// codex -o may have saved the answer even when stdout held nothing usable.
	if response == "" && !(n == agent.Codex && outputWritten(req.OutputFile, modBefore)) {
		return errorReply("%s returned an empty response.\nstdout: %s\nstderr: %s",
			n.Title(), buffer.Head(res.Stdout, emptyPreview), buffer.Head(res.Stderr, emptyPreview)), nil
	}

	// claude answers inline unless an output file was requested.
	if n == agent.Claude && req.OutputFile == "" {
		return &Reply{Text: response}, nil
	}

	out, err := d.exchange.Process(response, string(n), exOpts)
	if err != nil {
		logger.Error("exchange failed", "error", err)
		return errorReply("%s response could not be saved: %v", n.Title(), err), nil
	}
	return &Reply{Text: out.Text, SavedTo: out.SavedTo}, nil
}

func outputWritten(path string, before time.Time) bool {
	if path == "" {
		return false
	}
	return exchange.ModTime(path).After(before)
}

// spawnFailure distinguishes a missing CLI from a missing working directory.
func spawnFailure(n agent.Name, dir string, err error) *Reply {
	var se *spawner.SpawnError
	if errors.As(err, &se) && se.NotFound() {
		if se.MissingDir() {
			return errorReply("working directory does not exist: %s", dir)
		}
		return &Reply{Text: n.InstallHint(), IsError: true}
	}
	return errorReply("%s CLI failed to start: %v", n.Title(), err)
}

func errorReply(format string, args ...any) *Reply {
	return &Reply{Text: fmt.Sprintf(format, args...), IsError: true}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
