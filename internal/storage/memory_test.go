package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/queueengine/internal/job"
)

func TestMemoryAdapterEnqueueDequeueOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	a := job.New("q1", "t", nil, job.Options{Priority: 1}, job.Options{})
	b := job.New("q1", "t", nil, job.Options{Priority: 10}, job.Options{})
	c := job.New("q1", "t", nil, job.Options{Priority: 5}, job.Options{})

	require.NoError(t, m.Enqueue(ctx, "q1", a))
	require.NoError(t, m.Enqueue(ctx, "q1", b))
	require.NoError(t, m.Enqueue(ctx, "q1", c))

	for _, want := range []job.Job{b, c, a} {
		got, err := m.Dequeue(ctx, "q1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.ID, got.ID)
	}

	got, err := m.Dequeue(ctx, "q1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryAdapterStatsIdentity(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()

	j := job.New("q1", "t", nil, job.Options{}, job.Options{})
	require.NoError(t, m.Enqueue(ctx, "q1", j))

	dq, err := m.Dequeue(ctx, "q1")
	require.NoError(t, err)
	require.NotNil(t, dq)

	now := dq.QueuedAt
	require.NoError(t, m.UpdateJob(ctx, dq.ID, Update{Status: job.StatusRunning, StartedAt: &now}))

	stats, err := m.GetQueueStats(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, stats.Total, stats.Queued+stats.Running+stats.Completed+stats.Failed+stats.Cancelled)

	require.NoError(t, m.UpdateJob(ctx, dq.ID, Update{Status: job.StatusCompleted, CompletedAt: &now, Result: "ok", ResultSet: true}))
	stats, err = m.GetQueueStats(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Running)
}

func TestMemoryAdapterUpdateUnknownIDIsNoop(t *testing.T) {
	m := NewMemoryAdapter()
	err := m.UpdateJob(context.Background(), "does-not-exist", Update{Status: job.StatusRunning})
	assert.NoError(t, err)
}

func TestMemoryAdapterGetJobScopedToQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	j := job.New("q1", "t", nil, job.Options{}, job.Options{})
	require.NoError(t, m.Enqueue(ctx, "q1", j))

	got, err := m.GetJob(ctx, j.ID, "other-queue")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = m.GetJob(ctx, j.ID, "q1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, j.ID, got.ID)
}

func TestMemoryAdapterRemoveJob(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	j := job.New("q1", "t", nil, job.Options{}, job.Options{})
	require.NoError(t, m.Enqueue(ctx, "q1", j))

	removed, err := m.RemoveJob(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.RemoveJob(ctx, j.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	stats, _ := m.GetQueueStats(ctx, "q1")
	assert.Equal(t, 0, stats.Total)
}

func TestMemoryAdapterListJobsFilterAndSort(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	for i, p := range []int{1, 10, 5} {
		j := job.New("q1", "send", i, job.Options{Priority: p}, job.Options{})
		require.NoError(t, m.Enqueue(ctx, "q1", j))
	}

	jobs, err := m.ListJobs(ctx, "q1", ListFilters{SortBy: SortByPriority, SortOrder: SortDesc})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, 10, jobs[0].Priority)
	assert.Equal(t, 5, jobs[1].Priority)
	assert.Equal(t, 1, jobs[2].Priority)
}
