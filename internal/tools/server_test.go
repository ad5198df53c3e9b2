package tools

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/crewgate/internal/agent"
)

func connect(t *testing.T, provider agent.Name) *mcp.ClientSession {
	t.Helper()
	svc := NewService(&fakeAsker{}, newFakeJobs(), provider)
	srv := NewServer(svc, ServerInfo{Name: "crewgate", Version: "test"})

	ctx, cancel := context.WithCancel(context.Background())
	serverT, clientT := mcp.NewInMemoryTransports()
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return cs
}

func callText(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	var parts []string
	for _, c := range res.Content {
		tc, ok := c.(*mcp.TextContent)
		require.True(t, ok, "content %T", c)
		parts = append(parts, tc.Text)
	}
	return strings.Join(parts, "\n"), res.IsError
}

func TestServeInitializeAndList(t *testing.T) {
	t.Parallel()
	cs := connect(t, agent.Gemini)

	init := cs.InitializeResult()
	require.NotNil(t, init)
	assert.Equal(t, "crewgate", init.ServerInfo.Name)
	assert.NotNil(t, init.Capabilities.Tools)

	list, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range list.Tools {
		names = append(names, tool.Name)
	}
	assert.NotContains(t, names, AskGemini)
	assert.Contains(t, names, AskClaude)
	assert.Contains(t, names, CheckJob)

	require.NoError(t, cs.Ping(context.Background(), nil))
}

func TestServeToolCalls(t *testing.T) {
	t.Parallel()
	cs := connect(t, agent.Claude)

	text, isErr := callText(t, cs, AskGemini, map[string]any{"prompt": "hi"})
	assert.False(t, isErr)
	assert.Equal(t, "answer from gemini", text)

	text, isErr = callText(t, cs, AskClaude, map[string]any{"prompt": "hi"})
	assert.True(t, isErr)
	assert.Equal(t, "Tool 'ask_claude' is not available for provider 'claude' (self-call prevention).", text)

	text, isErr = callText(t, cs, CheckJob, map[string]any{"job_id": "job_zzzz"})
	assert.True(t, isErr)
	assert.Equal(t, "Job 'job_zzzz' not found.", text)

	text, isErr = callText(t, cs, CheckJob, map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, text, "job_id is required")
}

func TestServeUnknownTool(t *testing.T) {
	t.Parallel()
	cs := connect(t, agent.Claude)

	_, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestServeStopsOnEOF(t *testing.T) {
	t.Parallel()
	svc := NewService(&fakeAsker{}, newFakeJobs(), agent.Gemini)
	srv := NewServer(svc, ServerInfo{Name: "crewgate", Version: "test"})

	var out bytes.Buffer
	in := strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}` + "\n")
	require.NoError(t, srv.Serve(context.Background(), in, &out))
	assert.Contains(t, out.String(), `"serverInfo":{"name":"crewgate"`)
}
