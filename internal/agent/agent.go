// Package agent describes the external command-line agents crewgate can
// delegate to and how a request becomes each agent's argument vector.
package agent

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"
)

// MaxTimeoutMS is the largest millisecond timeout that fits a time.Duration.
const MaxTimeoutMS = math.MaxInt64 / int64(time.Millisecond)

type Name string

const (
	Gemini Name = "gemini"
	Codex  Name = "codex"
	Claude Name = "claude"
)

// All lists the supported agents in tool order.
var All = []Name{Gemini, Codex, Claude}

var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrInvalidInput = errors.New("invalid agent input")
)

// Parse maps a name to a supported agent.
func Parse(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range All {
		if n == a {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgent, s)
}

// Title is the display name used in replies.
func (n Name) Title() string {
	switch n {
	case Gemini:
		return "Gemini"
	case Codex:
		return "Codex"
	case Claude:
		return "Claude"
	default:
		return string(n)
	}
}

// InstallHint tells the user how to install a missing CLI.
func (n Name) InstallHint() string {
	switch n {
	case Gemini:
		return "Gemini CLI is not installed. Install it with `npm install -g @google/gemini-cli`."
	case Codex:
		return "Codex CLI is not installed. Install it with `npm install -g @openai/codex`."
	case Claude:
		return "Claude CLI is not installed. See https://claude.ai/download."
	default:
		return fmt.Sprintf("%s CLI is not installed.", n)
	}
}

// Gemini approval modes.
const (
	ApprovalYolo     = "yolo"
	ApprovalAutoEdit = "auto_edit"
	ApprovalPlan     = "plan"
)

var approvalModes = []string{ApprovalYolo, ApprovalAutoEdit, ApprovalPlan}

// ReasoningEfforts accepted by codex.
var ReasoningEfforts = []string{"minimal", "low", "medium", "high", "xhigh"}

// Request is one delegation. Fields that only apply to one agent are
// ignored by the others.
type Request struct {
	Prompt           string   `json:"prompt"`
	Model            string   `json:"model,omitempty"`
	Files            []string `json:"files,omitempty"`
	OutputFile       string   `json:"output_file,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
	Background       bool     `json:"background,omitempty"`

	// gemini
	Directories  []string `json:"directories,omitempty"`
	ApprovalMode string   `json:"approval_mode,omitempty"`

	// codex
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
	Writable        bool   `json:"writable,omitempty"`
	TimeoutMS       int64  `json:"timeout_ms,omitempty"`

	// claude
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// Validate checks the request against the agent's accepted values.
func (r Request) Validate(n Name) error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	switch n {
	case Gemini:
		if r.ApprovalMode != "" && !contains(approvalModes, r.ApprovalMode) {
			return fmt.Errorf("%w: approval_mode must be one of %s", ErrInvalidInput, strings.Join(approvalModes, ", "))
		}
	case Codex:
		if r.ReasoningEffort != "" && !contains(ReasoningEfforts, r.ReasoningEffort) {
			return fmt.Errorf("%w: reasoning_effort must be one of %s", ErrInvalidInput, strings.Join(ReasoningEfforts, ", "))
		}
		if r.TimeoutMS < 0 {
			return fmt.Errorf("%w: timeout_ms must not be negative", ErrInvalidInput)
		}
		if r.TimeoutMS > MaxTimeoutMS {
			return fmt.Errorf("%w: timeout_ms must be at most %d", ErrInvalidInput, MaxTimeoutMS)
		}
	}
	return nil
}

// Dir resolves the working directory, empty when unset.
func (r Request) Dir() (string, error) {
	if r.WorkingDirectory == "" {
		return "", nil
	}
	return filepath.Abs(r.WorkingDirectory)
}

// AgentWritesOutput reports whether the agent is instructed to create the
// output file itself rather than print its content.
func (r Request) AgentWritesOutput(n Name) bool {
	if n != Gemini {
		return false
	}
	return r.ApprovalMode == "" || r.ApprovalMode == ApprovalYolo || r.ApprovalMode == ApprovalAutoEdit
}

// Args builds the agent's argument vector. The prompt itself always travels
// on stdin.
func Args(n Name, r Request) ([]string, error) {
	switch n {
	case Gemini:
		return geminiArgs(r)
	case Codex:
		return codexArgs(r)
	case Claude:
		return claudeArgs(r), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, n)
	}
}

// geminiArgs uses the long --approval-mode form; admin policy can block --yolo.
// An empty -p triggers headless mode.
func geminiArgs(r Request) ([]string, error) {
	mode := r.ApprovalMode
	if mode == "" {
		mode = ApprovalAutoEdit
	}
	args := []string{"--approval-mode", mode, "-p", ""}
	if r.Model != "" {
		args = append(args, "-m", r.Model)
	}
	for _, dir := range r.Directories {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve directory %q: %w", dir, err)
		}
		args = append(args, "--include-directories", abs)
	}
	return args, nil
}

func codexArgs(r Request) ([]string, error) {
	args := []string{"exec"}
	if r.Model != "" {
		args = append(args, "-m", r.Model)
	}

	workspace, err := r.Dir()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	if workspace != "" {
		args = append(args, "-C", workspace)
	}

	var output string
	if r.OutputFile != "" {
		if output, err = filepath.Abs(r.OutputFile); err != nil {
			return nil, fmt.Errorf("resolve output file: %w", err)
		}
	}

	if r.Writable {
		args = append(args, "--full-auto")
		if output != "" {
			if workspace == "" {
				if workspace, err = filepath.Abs("."); err != nil {
					return nil, fmt.Errorf("resolve working directory: %w", err)
				}
			}
			if outDir := filepath.Dir(output); !within(outDir, workspace) {
				args = append(args, "--add-dir", outDir)
			}
		}
	} else {
		args = append(args, "-s", "read-only")
	}

	// stdout is a JSONL event stream; -o still gets the plain last message.
	args = append(args, "--json")
	if output != "" {
		args = append(args, "-o", output)
	}
	if r.ReasoningEffort != "" {
		args = append(args, "-c", fmt.Sprintf("model_reasoning_effort=%q", r.ReasoningEffort))
	}
	return append(args, "-"), nil
}

func claudeArgs(r Request) []string {
	args := []string{"-p", "--output-format", "text"}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	for _, tool := range r.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}
	return args
}

// within reports whether path is dir or below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
