// Package storage defines the swappable persistence contract (C2) plus an
// in-memory reference implementation (C3) and a Redis-backed one, modeled
// on the teacher's storage-backends.QueueBackend interface but narrowed to
// the exact operations the core scheduler needs.
package storage

import (
	"context"
	"time"

	"github.com/flyingrobots/queueengine/internal/job"
)

// SortField and SortOrder name the fields listJobs can order by.
type SortField string

const (
	SortByQueuedAt SortField = "queuedAt"
	SortByPriority SortField = "priority"
	SortByStatus   SortField = "status"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListFilters narrows listJobs results.
type ListFilters struct {
	Status    job.Status
	JobType   string
	Limit     int
	Offset    int
	SortBy    SortField
	SortOrder SortOrder
}

// Update is a partial mutation applied by updateJob. Nil fields are left
// untouched; Status is the zero value "" when not changing.
type Update struct {
	Status          job.Status
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Progress        *int
	ProgressMessage *string
	Retries         *int
	Result          any
	ResultSet       bool
	Error           *job.Error
}

// Stats is a point-in-time copy of per-status counts for one queue.
// Invariant: Total == Queued+Running+Completed+Failed+Cancelled.
type Stats struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// Adapter is the storage contract (C2). Implementations must serialise
// per-queue Dequeue against Enqueue, and per-job UpdateJob against itself,
// and must not block indefinitely — a bounded latency or a storage.Error
// is required.
type Adapter interface {
	Enqueue(ctx context.Context, queueName string, j job.Job) error
	Dequeue(ctx context.Context, queueName string) (*job.Job, error)
	Peek(ctx context.Context, queueName string) (*job.Job, error)
	GetJob(ctx context.Context, id string, queueName string) (*job.Job, error)
	ListJobs(ctx context.Context, queueName string, filters ListFilters) ([]job.Job, error)
	UpdateJob(ctx context.Context, id string, update Update) error
	RemoveJob(ctx context.Context, id string) (bool, error)
	GetQueueStats(ctx context.Context, queueName string) (Stats, error)

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) bool
}
