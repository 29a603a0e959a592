package dashboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/queueengine/internal/job"
	"github.com/flyingrobots/queueengine/internal/storage"
)

type fakeService struct {
	queues  []string
	stats   map[string]storage.Stats
	jobs    map[string][]job.Job
	failing string
}

func (f *fakeService) ListQueues() []string { return f.queues }

func (f *fakeService) GetQueueStats(ctx context.Context, queueName string) (storage.Stats, error) {
	if queueName == f.failing {
		return storage.Stats{}, assertErr
	}
	return f.stats[queueName], nil
}

func (f *fakeService) ListJobs(ctx context.Context, queueName string, filters storage.ListFilters) ([]job.Job, error) {
	return f.jobs[queueName], nil
}

var assertErr = &storage.Error{Operation: "getQueueStats", QueueName: "boom"}

func TestGatherCollectsPerQueueStatsAndRecentJobs(t *testing.T) {
	svc := &fakeService{
		queues: []string{"emails", "thumbnails"},
		stats: map[string]storage.Stats{
			"emails":     {Total: 5, Queued: 2, Completed: 3},
			"thumbnails": {Total: 1, Queued: 1},
		},
		jobs: map[string][]job.Job{
			"emails": {{ID: "a"}, {ID: "b"}},
		},
	}

	snap, err := Gather(context.Background(), svc, 10)
	require.NoError(t, err)
	require.Len(t, snap.Queues, 2)
	assert.Equal(t, "emails", snap.Queues[0].Name)
	assert.Equal(t, 5, snap.Queues[0].Stats.Total)
	assert.Len(t, snap.Queues[0].RecentJobs, 2)
	assert.Empty(t, snap.Queues[1].RecentJobs)
}

func TestGatherSkipsRecentJobsWhenLimitZero(t *testing.T) {
	svc := &fakeService{
		queues: []string{"emails"},
		stats:  map[string]storage.Stats{"emails": {Total: 1}},
		jobs:   map[string][]job.Job{"emails": {{ID: "a"}}},
	}

	snap, err := Gather(context.Background(), svc, 0)
	require.NoError(t, err)
	assert.Nil(t, snap.Queues[0].RecentJobs)
}

func TestGatherPropagatesStatsError(t *testing.T) {
	svc := &fakeService{queues: []string{"emails"}, failing: "emails"}
	_, err := Gather(context.Background(), svc, 5)
	assert.Error(t, err)
}

func TestSortQueuesByBacklogOrdersDescending(t *testing.T) {
	snap := Snapshot{Queues: []QueueSnapshot{
		{Name: "a", Stats: storage.Stats{Queued: 1}},
		{Name: "b", Stats: storage.Stats{Queued: 9}},
		{Name: "c", Stats: storage.Stats{Queued: 4}},
	}}
	SortQueuesByBacklog(snap)
	assert.Equal(t, []string{"b", "c", "a"}, []string{snap.Queues[0].Name, snap.Queues[1].Name, snap.Queues[2].Name})
}
