// Package exchange decides how a foreground agent response reaches the
// caller: inline when short, otherwise saved to a file with a summary.
package exchange

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mattjoyce/crewgate/internal/buffer"
)

const (
	DefaultDirName         = ".aidocs/crewgate"
	DefaultInlineThreshold = 500
	DefaultPreviewChars    = 300
)

var (
	wholeFence = regexp.MustCompile("(?s)^```\\w*\\s*\\n(.*?)\\n```\\s*$")
	innerFence = regexp.MustCompile("(?s)^.*?```\\w*\\s*\\n(.*?)\\n```.*$")
)

// Config controls the exchange.
type Config struct {
	DirName         string
	InlineThreshold int
	PreviewChars    int
}

// Options describe one response.
type Options struct {
	// OutputFile is where the caller asked the response to go.
	OutputFile string
	// WorkingDirectory anchors the exchange dir; the process cwd when empty.
	WorkingDirectory string
	// OutputModBefore is OutputFile's mtime before the agent ran, zero if it
	// did not exist. A later mtime means the agent wrote the file itself.
	OutputModBefore time.Time
	// Raw stores the response as-is instead of stripping code fences.
	Raw bool
}

// Result is what the caller gets back.
type Result struct {
	Text    string
	SavedTo string
}

// Exchanger saves long responses.
type Exchanger struct {
	cfg    Config
	now    func() time.Time
	suffix func() string
}

// New creates an Exchanger. Zero values in cfg fall back to defaults.
func New(cfg Config) *Exchanger {
	if cfg.DirName == "" {
		cfg.DirName = DefaultDirName
	}
	if cfg.InlineThreshold <= 0 {
		cfg.InlineThreshold = DefaultInlineThreshold
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = DefaultPreviewChars
	}
	return &Exchanger{
		cfg: cfg,
		now: time.Now,
		suffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// ModTime returns path's modification time, zero when it does not exist.
func ModTime(path string) time.Time {
	if path == "" {
		return time.Time{}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return time.Time{}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Process routes response according to opts:
//   - an explicit output file is kept if the agent wrote it, else written;
//   - a short response is returned inline;
//   - a long response is saved under the exchange dir.
func (e *Exchanger) Process(response, agent string, opts Options) (*Result, error) {
	if opts.OutputFile != "" {
		return e.toOutputFile(response, agent, opts)
	}

	if utf8.RuneCountInString(response) <= e.cfg.InlineThreshold {
		return &Result{Text: response}, nil
	}

	base := opts.WorkingDirectory
	if base == "" {
		base = "."
	}
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	dir := filepath.Join(base, filepath.FromSlash(e.cfg.DirName))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create exchange dir: %w", err)
	}

	now := e.now()
	name := fmt.Sprintf("%s-%s-%s-%s.md", agent, now.Format("20060102"), now.Format("1504"), e.suffix())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(response), 0o644); err != nil {
		return nil, fmt.Errorf("save response: %w", err)
	}
	return &Result{Text: e.summary(response, agent, path), SavedTo: path}, nil
}

func (e *Exchanger) toOutputFile(response, agent string, opts Options) (*Result, error) {
	path, err := filepath.Abs(opts.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("resolve output file: %w", err)
	}

	if info, err := os.Stat(path); err == nil && info.ModTime().After(opts.OutputModBefore) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read agent output: %w", err)
		}
		return &Result{Text: e.summary(string(data), agent, path), SavedTo: path}, nil
	}

	content := response
	if !opts.Raw {
		content = Sanitize(response)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write output file: %w", err)
	}
	return &Result{Text: e.summary(content, agent, path), SavedTo: path}, nil
}

// Sanitize strips a markdown code fence wrapped around the whole response,
// or around most of it with chatter before and after.
func Sanitize(response string) string {
	text := strings.TrimSpace(response)
	if m := wholeFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := innerFence.FindStringSubmatch(text); m != nil && float64(len(m[1])) > float64(len(text))*0.3 {
		return strings.TrimSpace(m[1])
	}
	return text
}

func (e *Exchanger) summary(response, agent, path string) string {
	preview := strings.TrimSpace(buffer.Head(response, e.cfg.PreviewChars))
	more := ""
	if utf8.RuneCountInString(preview) < utf8.RuneCountInString(response) {
		more = "\n[...]"
	}
	return strings.Join([]string{
		fmt.Sprintf("[%s] response saved: %s", agent, path),
		fmt.Sprintf("(%d chars, %d lines)", utf8.RuneCountInString(response), strings.Count(response, "\n")+1),
		"",
		"--- preview ---",
		preview,
		more,
	}, "\n")
}
