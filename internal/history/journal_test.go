package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/crewgate/internal/jobs"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func intPtr(v int) *int { return &v }

func TestOpenRejectsEmptyPath(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), "")
	assert.Error(t, err)
}

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	done := started.Add(42 * time.Second)

	require.NoError(t, j.Record(ctx, jobs.Info{
		ID:           "job_0001",
		Agent:        "codex",
		Status:       jobs.StatusCompleted,
		PID:          intPtr(4242),
		Prompt:       "refactor the parser",
		PromptDigest: jobs.Digest("refactor the parser"),
		Model:        "gpt-5",
		StartedAt:    started,
		CompletedAt:  &done,
		ExitCode:     intPtr(0),
	}, 1200, 34))
	require.NoError(t, j.Record(ctx, jobs.Info{
		ID:           "job_0002",
		Agent:        "gemini",
		Status:       jobs.StatusKilled,
		Prompt:       "summarise",
		PromptDigest: jobs.Digest("summarise"),
		StartedAt:    started.Add(time.Minute),
		CompletedAt:  &done,
	}, 0, 0))

	all, err := j.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "job_0002", all[0].JobID)
	assert.Nil(t, all[0].ExitCode)
	assert.Nil(t, all[0].PID)
	assert.Empty(t, all[0].Model)

	first := all[1]
	assert.Equal(t, "codex", first.Agent)
	assert.Equal(t, "completed", first.Status)
	assert.Equal(t, "gpt-5", first.Model)
	require.NotNil(t, first.ExitCode)
	assert.Equal(t, 0, *first.ExitCode)
	require.NotNil(t, first.PID)
	assert.Equal(t, 4242, *first.PID)
	assert.Equal(t, 1200, first.StdoutBytes)
	assert.True(t, first.StartedAt.Equal(started))
	require.NotNil(t, first.CompletedAt)
	assert.True(t, first.CompletedAt.Equal(done))

	byAgent, err := j.Recent(ctx, Query{Agent: "gemini"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "job_0002", byAgent[0].JobID)

	byStatus, err := j.Recent(ctx, Query{Status: "completed", Limit: 5})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "job_0001", byStatus[0].JobID)

	limited, err := j.Recent(ctx, Query{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSameJobIDAcrossRuns(t *testing.T) {
	t.Parallel()
	j := openTestJournal(t)
	ctx := context.Background()

	info := jobs.Info{ID: "job_0001", Agent: "claude", Status: jobs.StatusFailed, Prompt: "p", PromptDigest: jobs.Digest("p"), StartedAt: time.Now()}
	require.NoError(t, j.Record(ctx, info, 0, 0))
	require.NoError(t, j.Record(ctx, info, 0, 0))

	entries, err := j.Recent(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
