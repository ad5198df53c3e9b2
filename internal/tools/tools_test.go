package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/crewgate/internal/agent"
	"github.com/mattjoyce/crewgate/internal/dispatch"
	"github.com/mattjoyce/crewgate/internal/jobs"
	"github.com/mattjoyce/crewgate/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type fakeAsker struct {
	mu    sync.Mutex
	calls []agent.Name
	last  agent.Request
	reply *dispatch.Reply
	err   error
}

func (f *fakeAsker) Ask(_ context.Context, n agent.Name, req agent.Request) (*dispatch.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.reply != nil {
		return f.reply, nil
	}
	return &dispatch.Reply{Text: "answer from " + string(n)}, nil
}

type fakeJobs struct {
	infos       map[string]jobs.Info
	waitTimeout time.Duration
	lastFilter  jobs.Filter
	lastLimit   int
}

func (f *fakeJobs) Get(id string) (jobs.Info, error) {
	info, ok := f.infos[id]
	if !ok {
		return jobs.Info{}, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, id)
	}
	return info, nil
}

func (f *fakeJobs) Wait(_ context.Context, id string, timeout time.Duration) (*jobs.WaitResult, error) {
	f.waitTimeout = timeout
	info, err := f.Get(id)
	if err != nil {
		return nil, err
	}
	return &jobs.WaitResult{Job: info, Stdout: "out", Stderr: "err"}, nil
}

func (f *fakeJobs) Kill(id string) (jobs.Info, error) {
	info, err := f.Get(id)
	if err != nil {
		return jobs.Info{}, err
	}
	info.Status = jobs.StatusKilled
	return info, nil
}

func (f *fakeJobs) List(filter jobs.Filter, limit int) []jobs.Info {
	f.lastFilter = filter
	f.lastLimit = limit
	var out []jobs.Info
	for _, info := range f.infos {
		out = append(out, info)
	}
	return out
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{infos: map[string]jobs.Info{
		"job_0001": {ID: "job_0001", Agent: "codex", Status: jobs.StatusRunning, Prompt: "refactor"},
	}}
}

func toolNames(list []Tool) []string {
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	return names
}

func TestCatalogHidesOwnAskTool(t *testing.T) {
	t.Parallel()

	all := toolNames(Catalog(""))
	assert.Equal(t, []string{AskGemini, AskCodex, AskClaude, WaitJob, CheckJob, KillJob, ListJobs}, all)

	for _, n := range agent.All {
		names := toolNames(Catalog(n))
		assert.Len(t, names, 6)
		assert.NotContains(t, names, AskTool(n))
	}
}

func TestCatalogSchemasAreValidJSON(t *testing.T) {
	t.Parallel()
	for _, tool := range Catalog("") {
		var schema map[string]any
		require.NoError(t, json.Unmarshal(tool.InputSchema, &schema), tool.Name)
		assert.Equal(t, "object", schema["type"], tool.Name)
	}
}

func TestCallHiddenTool(t *testing.T) {
	t.Parallel()
	asker := &fakeAsker{}
	svc := NewService(asker, newFakeJobs(), agent.Claude)

	_, err := svc.Call(context.Background(), AskClaude, json.RawMessage(`{"prompt":"x"}`))
	assert.ErrorIs(t, err, ErrHiddenTool)
	assert.Empty(t, asker.calls)
}

func TestCallAskDecodesRequest(t *testing.T) {
	t.Parallel()
	asker := &fakeAsker{}
	svc := NewService(asker, newFakeJobs(), agent.Claude)

	res, err := svc.Call(context.Background(), AskCodex, json.RawMessage(`{"prompt":"review","writable":true,"timeout_ms":60000,"files":["a.go"]}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "answer from codex", res.Text())
	assert.Equal(t, []agent.Name{agent.Codex}, asker.calls)
	assert.Equal(t, agent.Request{Prompt: "review", Writable: true, TimeoutMS: 60000, Files: []string{"a.go"}}, asker.last)
}

func TestCallAskErrorReply(t *testing.T) {
	t.Parallel()
	asker := &fakeAsker{reply: &dispatch.Reply{Text: "Gemini CLI error (exit 1):\nbad", IsError: true}}
	svc := NewService(asker, newFakeJobs(), "")

	res, err := svc.Call(context.Background(), AskGemini, json.RawMessage(`{"prompt":"x"}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Text(), "exit 1")
}

func TestCallAskInvalidInput(t *testing.T) {
	t.Parallel()
	asker := &fakeAsker{err: fmt.Errorf("%w: prompt is required", agent.ErrInvalidInput)}
	svc := NewService(asker, newFakeJobs(), "")

	_, err := svc.Call(context.Background(), AskGemini, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = svc.Call(context.Background(), AskGemini, json.RawMessage(`{"prompt":42}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestCallJobTools(t *testing.T) {
	t.Parallel()
	store := newFakeJobs()
	svc := NewService(&fakeAsker{}, store, "")
	ctx := context.Background()

	res, err := svc.Call(ctx, CheckJob, json.RawMessage(`{"job_id":"job_0001"}`))
	require.NoError(t, err)
	var info jobs.Info
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &info))
	assert.Equal(t, jobs.StatusRunning, info.Status)

	res, err = svc.Call(ctx, WaitJob, json.RawMessage(`{"job_id":"job_0001","timeout_ms":1500}`))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, store.waitTimeout)
	var wait jobs.WaitResult
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &wait))
	assert.Equal(t, "out", wait.Stdout)
	assert.Equal(t, "err", wait.Stderr)

	res, err = svc.Call(ctx, KillJob, json.RawMessage(`{"job_id":"job_0001"}`))
	require.NoError(t, err)
	assert.Contains(t, res.Text(), `"status": "killed"`)

	for _, tool := range []string{CheckJob, WaitJob, KillJob} {
		res, err := svc.Call(ctx, tool, json.RawMessage(`{"job_id":"job_9999"}`))
		require.NoError(t, err, tool)
		assert.True(t, res.IsError, tool)
		assert.Equal(t, "Job 'job_9999' not found.", res.Text(), tool)
	}

	_, err = svc.Call(ctx, CheckJob, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestCallWaitJobTimeoutBounds(t *testing.T) {
	t.Parallel()
	store := newFakeJobs()
	svc := NewService(&fakeAsker{}, store, "")
	ctx := context.Background()

	// Long waits pass through; the registry applies its cap.
	_, err := svc.Call(ctx, WaitJob, json.RawMessage(`{"job_id":"job_0001","timeout_ms":7200000}`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, store.waitTimeout)

	_, err = svc.Call(ctx, WaitJob, json.RawMessage(`{"job_id":"job_0001","timeout_ms":9223372036854775807}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)

	_, err = svc.Call(ctx, WaitJob, json.RawMessage(`{"job_id":"job_0001","timeout_ms":-1}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestCallListJobs(t *testing.T) {
	t.Parallel()
	store := newFakeJobs()
	svc := NewService(&fakeAsker{}, store, "")

	res, err := svc.Call(context.Background(), ListJobs, nil)
	require.NoError(t, err)
	assert.Equal(t, jobs.FilterAll, store.lastFilter)
	var list []jobs.Info
	require.NoError(t, json.Unmarshal([]byte(res.Text()), &list))
	assert.Len(t, list, 1)

	_, err = svc.Call(context.Background(), ListJobs, json.RawMessage(`{"status":"active","limit":5}`))
	require.NoError(t, err)
	assert.Equal(t, jobs.FilterActive, store.lastFilter)
	assert.Equal(t, 5, store.lastLimit)

	store.infos = nil
	res, err = svc.Call(context.Background(), ListJobs, json.RawMessage(`{"status":"failed"}`))
	require.NoError(t, err)
	assert.Equal(t, "No jobs found.", res.Text())

	_, err = svc.Call(context.Background(), ListJobs, json.RawMessage(`{"status":"bogus"}`))
	assert.ErrorIs(t, err, ErrInvalidArguments)
}

func TestCallUnknownTool(t *testing.T) {
	t.Parallel()
	svc := NewService(&fakeAsker{}, newFakeJobs(), "")
	_, err := svc.Call(context.Background(), "ask_llama", nil)
	assert.True(t, errors.Is(err, ErrUnknownTool))
}
