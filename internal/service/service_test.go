package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flyingrobots/queueengine/internal/job"
	"github.com/flyingrobots/queueengine/internal/registry"
	"github.com/flyingrobots/queueengine/internal/scheduler"
	"github.com/flyingrobots/queueengine/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("emails", "send", registry.Entry{Handler: func(ctx registry.Context) (any, error) {
		return "sent", nil
	}}))

	cfg := Config{
		Queues:             []QueueConfig{{Name: "emails", Concurrency: 2}},
		DefaultConcurrency: 5,
		DefaultTimeout:     5000,
		DefaultMaxRetries:  3,
		ServerID:           "test",
	}
	return New(cfg, storage.NewMemoryAdapter(), reg, zap.NewNop())
}

func TestAddUnknownQueueFailsSynchronously(t *testing.T) {
	s := newTestService(t)
	_, err := s.Add(context.Background(), "does-not-exist", "send", nil, job.Options{})
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestAddUnknownHandlerFails(t *testing.T) {
	s := newTestService(t)
	_, err := s.Add(context.Background(), "emails", "unregistered", nil, job.Options{})
	var handlerNotFound *scheduler.HandlerNotFoundError
	assert.ErrorAs(t, err, &handlerNotFound)
}

func TestListQueuesInsertionOrder(t *testing.T) {
	reg := registry.New()
	cfg := Config{Queues: []QueueConfig{{Name: "c"}, {Name: "a"}, {Name: "b"}}}
	s := New(cfg, storage.NewMemoryAdapter(), reg, zap.NewNop())
	queues := s.ListQueues()
	assert.Equal(t, []string{"c", "a", "b"}, queues)
}

func TestEndToEndAddAndComplete(t *testing.T) {
	s := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.StartAll(ctx))
	defer s.StopAll(context.Background(), scheduler.StopOptions{Graceful: true, Timeout: time.Second})

	id, err := s.Add(ctx, "emails", "send", map[string]string{"to": "a@b.com"}, job.Options{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := s.GetJob(ctx, id)
		return j != nil && j.Status == job.StatusCompleted
	}, time.Second, 5*time.Millisecond)

	stats, err := s.GetQueueStats(ctx, "emails")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, stats.Total, stats.Queued+stats.Running+stats.Completed+stats.Failed+stats.Cancelled)
}

func TestSingletonLifecycle(t *testing.T) {
	_, err := Current()
	assert.ErrorIs(t, err, ErrNotInitialized)

	s := newTestService(t)
	Initialize(s)
	defer Terminate()

	got, err := Current()
	require.NoError(t, err)
	assert.Same(t, s, got)

	Terminate()
	_, err = Current()
	assert.ErrorIs(t, err, ErrNotInitialized)
}
