package tools

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/crewgate/internal/agent"
)

// Tool names.
const (
	AskGemini = "ask_gemini"
	AskCodex  = "ask_codex"
	AskClaude = "ask_claude"
	WaitJob   = "wait_job"
	CheckJob  = "check_job"
	KillJob   = "kill_job"
	ListJobs  = "list_jobs"
)

// Tool describes one callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// AskTool returns the ask tool name for an agent.
func AskTool(n agent.Name) string { return "ask_" + string(n) }

// askAgent maps an ask tool back to its agent.
func askAgent(tool string) (agent.Name, bool) {
	switch tool {
	case AskGemini:
		return agent.Gemini, true
	case AskCodex:
		return agent.Codex, true
	case AskClaude:
		return agent.Claude, true
	}
	return "", false
}

var catalog = []Tool{
	{
		Name: AskGemini,
		Description: "Delegate a task to the Gemini CLI. Large context window; suited to design, writing and research. " +
			"files injects file contents into the prompt; directories lets Gemini scan directories itself.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "description": "Prompt sent to Gemini"},
    "model": {"type": "string", "description": "Model override (default: Gemini CLI default)"},
    "files": {"type": "array", "items": {"type": "string"}, "description": "Context file paths; contents are injected into the prompt"},
    "directories": {"type": "array", "items": {"type": "string"}, "description": "Directories Gemini scans itself (--include-directories)"},
    "output_file": {"type": "string", "description": "File to save the response to"},
    "working_directory": {"type": "string", "description": "Working directory"},
    "background": {"type": "boolean", "description": "Run in the background (default: false)"},
    "approval_mode": {"type": "string", "enum": ["yolo", "auto_edit", "plan"], "description": "Gemini approval mode (default: auto_edit)"}
  },
  "required": ["prompt"]
}`),
	},
	{
		Name:        AskCodex,
		Description: "Delegate a task to the Codex CLI. model and reasoning_effort control its behaviour directly.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "description": "Prompt sent to Codex"},
    "model": {"type": "string", "description": "Model override (default: Codex CLI default)"},
    "reasoning_effort": {"type": "string", "enum": ["minimal", "low", "medium", "high", "xhigh"], "description": "Reasoning effort"},
    "files": {"type": "array", "items": {"type": "string"}, "description": "Context file paths"},
    "output_file": {"type": "string", "description": "File to save the response to"},
    "working_directory": {"type": "string", "description": "Working directory (-C)"},
    "background": {"type": "boolean", "description": "Run in the background (default: false)"},
    "writable": {"type": "boolean", "description": "Allow file modification. true for code changes, false (default) for analysis only"},
    "timeout_ms": {"type": "number", "description": "Foreground timeout in ms; raise it for slow models (default: 300000)"}
  },
  "required": ["prompt"]
}`),
	},
	{
		Name: AskClaude,
		Description: "Delegate a task to the Claude CLI. Strong at code generation, refactoring, debugging and tests. " +
			"allowed_tools restricts which tools it may use.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "description": "Prompt sent to Claude"},
    "model": {"type": "string", "description": "Model override"},
    "files": {"type": "array", "items": {"type": "string"}, "description": "Context file paths; contents are injected into the prompt"},
    "output_file": {"type": "string", "description": "File to save the response to"},
    "working_directory": {"type": "string", "description": "Working directory"},
    "background": {"type": "boolean", "description": "Run in the background (default: false)"},
    "allowed_tools": {"type": "array", "items": {"type": "string"}, "description": "Allowed tools (Read, Write, Edit, Bash, Glob, Grep, ...)"}
  },
  "required": ["prompt"]
}`),
	},
	{
		Name:        WaitJob,
		Description: "Wait for a background job to finish. Returns full stdout and stderr once done.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "job_id": {"type": "string", "description": "Job id"},
    "timeout_ms": {"type": "number", "description": "Wait timeout (default: 300000ms = 5 minutes)"}
  },
  "required": ["job_id"]
}`),
	},
	{
		Name:        CheckJob,
		Description: "Check a background job's status without blocking. Includes a 500-character stdout preview.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "job_id": {"type": "string", "description": "Job id"}
  },
  "required": ["job_id"]
}`),
	},
	{
		Name:        KillJob,
		Description: "Terminate a background job.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "job_id": {"type": "string", "description": "Job id"}
  },
  "required": ["job_id"]
}`),
	},
	{
		Name:        ListJobs,
		Description: "List background jobs.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "status": {"type": "string", "enum": ["active", "completed", "failed", "all"], "description": "Filter (default: all)"},
    "limit": {"type": "number", "description": "Maximum number returned (default: 20)"}
  }
}`),
	},
}

// Catalog lists the tools visible to provider. The provider's own ask tool
// is hidden so an agent cannot delegate to itself.
func Catalog(provider agent.Name) []Tool {
	out := make([]Tool, 0, len(catalog))
	for _, t := range catalog {
		if Hidden(provider, t.Name) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Hidden reports whether tool is withheld from provider.
func Hidden(provider agent.Name, tool string) bool {
	return provider != "" && tool == AskTool(provider)
}

// HiddenMessage is shown when a provider calls its own ask tool.
func HiddenMessage(tool string, provider agent.Name) string {
	return fmt.Sprintf("Tool '%s' is not available for provider '%s' (self-call prevention).", tool, provider)
}
