package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool { return s != StatusRunning }

// Filter selects jobs for List.
type Filter string

const (
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
	// FilterFailed matches both failed and killed jobs.
	FilterFailed Filter = "failed"
	FilterAll    Filter = "all"
)

// ParseFilter accepts the filter names used by the front ends. An empty
// string means all.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterActive, FilterCompleted, FilterFailed, FilterAll:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
}

func (f Filter) match(s Status) bool {
	switch f {
	case FilterActive:
		return s == StatusRunning
	case FilterCompleted:
		return s == StatusCompleted
	case FilterFailed:
		return s == StatusFailed || s == StatusKilled
	default:
		return true
	}
}

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrInvalidFilter = errors.New("invalid status filter")
)

const (
	// PromptLimit is how many characters of the prompt a job keeps.
	PromptLimit = 100
	// PreviewLimit is how many characters of stdout Get includes.
	PreviewLimit = 500

	DefaultListLimit     = 20
	DefaultWaitTimeout   = 5 * time.Minute
	DefaultMaxWait       = 30 * time.Minute
	DefaultRetention     = time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// Meta is caller-supplied job metadata.
type Meta struct {
	Prompt string
	Model  string
}

// Info is a serializable snapshot of a job.
type Info struct {
	ID            string     `json:"id"`
	Agent         string     `json:"agent"`
	Status        Status     `json:"status"`
	PID           *int       `json:"pid,omitempty"`
	Prompt        string     `json:"prompt"`
	PromptDigest  string     `json:"prompt_digest,omitempty"`
	Model         string     `json:"model,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	Error         string     `json:"error,omitempty"`
	StdoutPreview *string    `json:"stdout_preview,omitempty"`
}

// Elapsed is the job's run time, up to now if still running.
func (i Info) Elapsed(now time.Time) time.Duration {
	if i.CompletedAt != nil {
		return i.CompletedAt.Sub(i.StartedAt)
	}
	return now.Sub(i.StartedAt)
}

// WaitResult is returned by Wait: the snapshot plus full captured output.
type WaitResult struct {
	Job    Info   `json:"job"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
	// TimedOut is set when the wait deadline passed with the job still running.
	TimedOut bool `json:"-"`
}
