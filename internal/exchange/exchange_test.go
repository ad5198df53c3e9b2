package exchange

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExchanger() *Exchanger {
	e := New(Config{})
	e.now = func() time.Time { return time.Date(2026, 2, 20, 19, 23, 0, 0, time.Local) }
	e.suffix = func() string { return "abc123" }
	return e
}

func TestShortResponseInline(t *testing.T) {
	t.Parallel()
	e := newTestExchanger()

	res, err := e.Process(strings.Repeat("x", 500), "gemini", Options{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("x", 500), res.Text)
	assert.Empty(t, res.SavedTo)
}

func TestLongResponseSaved(t *testing.T) {
	t.Parallel()
	e := newTestExchanger()
	dir := t.TempDir()
	response := strings.Repeat("line of output\n", 40)

	res, err := e.Process(response, "codex", Options{WorkingDirectory: dir})
	require.NoError(t, err)

	want := filepath.Join(dir, ".aidocs", "crewgate", "codex-20260220-1923-abc123.md")
	assert.Equal(t, want, res.SavedTo)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, response, string(data))

	lines := strings.Split(res.Text, "\n")
	assert.Equal(t, "[codex] response saved: "+want, lines[0])
	assert.Equal(t, "(600 chars, 41 lines)", lines[1])
	assert.Contains(t, res.Text, "--- preview ---\nline of output")
	assert.True(t, strings.HasSuffix(res.Text, "\n[...]"))
}

func TestOutputFileWrittenAndSanitized(t *testing.T) {
	t.Parallel()
	e := newTestExchanger()
	out := filepath.Join(t.TempDir(), "nested", "page.html")

	res, err := e.Process("Here you go:\n```html\n<html><body>hello</body></html>\n```\nEnjoy!", "gemini", Options{OutputFile: out})
	require.NoError(t, err)
	assert.Equal(t, out, res.SavedTo)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "<html><body>hello</body></html>", string(data))
	assert.False(t, strings.HasSuffix(res.Text, "[...]"))
}

func TestOutputFileRaw(t *testing.T) {
	t.Parallel()
	e := newTestExchanger()
	out := filepath.Join(t.TempDir(), "notes.md")
	body := "```go\nfmt.Println()\n```"

	_, err := e.Process(body, "claude", Options{OutputFile: out, Raw: true})
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestOutputFileWrittenByAgentIsKept(t *testing.T) {
	t.Parallel()
	e := newTestExchanger()
	out := filepath.Join(t.TempDir(), "report.md")
	before := ModTime(out)
	assert.True(t, before.IsZero())

	require.NoError(t, os.WriteFile(out, []byte("agent wrote this"), 0o644))

	res, err := e.Process("I created the file.", "gemini", Options{OutputFile: out, OutputModBefore: before})
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "agent wrote this", string(data))
	assert.Contains(t, res.Text, "--- preview ---\nagent wrote this")
}

func TestOutputFileUnchangedIsOverwritten(t *testing.T) {
	t.Parallel()
	e := newTestExchanger()
	out := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, os.WriteFile(out, []byte("stale"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(out, old, old))

	_, err := e.Process("fresh", "codex", Options{OutputFile: out, OutputModBefore: ModTime(out)})
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestSanitize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  just text  ", "just text"},
		{"whole fence", "```python\nprint(1)\n```", "print(1)"},
		{"fence with chatter", "Sure!\n```js\nconsole.log('a long enough body')\n```\nBye", "console.log('a long enough body')"},
		{"small inner fence kept", "A long explanation that dominates the whole response text.\n```\nx\n```\n", "A long explanation that dominates the whole response text.\n```\nx\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}
