package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodexMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stdout string
		want   string
	}{
		{
			name:   "empty",
			stdout: "  \n",
			want:   "",
		},
		{
			name: "agent message items",
			stdout: `{"type":"thread.started","thread_id":"t1"}
{"type":"item.completed","item":{"type":"reasoning","text":"thinking"}}
{"type":"item.completed","item":{"type":"agent_message","text":"first"}}
{"type":"item.completed","item":{"type":"agent_message","text":"second"}}
{"type":"turn.completed","usage":{"input_tokens":10}}`,
			want: "first\nsecond",
		},
		{
			name:   "output_text event",
			stdout: `{"type":"output_text","text":"hello"}`,
			want:   "hello",
		},
		{
			name:   "message content parts",
			stdout: `{"type":"message","content":[{"type":"text","text":"a"},{"type":"image","url":"x"},{"type":"text","text":"b"}]}`,
			want:   "a\nb",
		},
		{
			name:   "message string content",
			stdout: `{"type":"message","content":"plain"}`,
			want:   "plain",
		},
		{
			name:   "fallback fields",
			stdout: "{\"response\":\"r\"}\nnot json\n{\"message\":\"m\"}",
			want:   "r\nm",
		},
		{
			name:   "no messages returns raw",
			stdout: "  plain text answer  ",
			want:   "plain text answer",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodexMessages(tt.stdout))
		})
	}
}

func TestRateLimited(t *testing.T) {
	t.Parallel()
	assert.True(t, RateLimited("", "Error 429: slow down"))
	assert.True(t, RateLimited("Rate limit reached", ""))
	assert.True(t, RateLimited("", "quota_exceeded"))
	assert.True(t, RateLimited("", "Too Many Requests"))
	assert.False(t, RateLimited("all good", "warning: deprecated flag"))
}

func TestModelError(t *testing.T) {
	t.Parallel()
	assert.True(t, ModelError("", "Model not found: gpt-9"))
	assert.True(t, ModelError("invalid_model", ""))
	assert.True(t, ModelError("", "unknown model 'x'"))
	assert.False(t, ModelError("the model answered", ""))
}
