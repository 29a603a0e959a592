package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/flyingrobots/queueengine/internal/job"
)

type queueState struct {
	mu    sync.Mutex
	ready *job.PriorityQueue
	ids   map[string]struct{}
	stats Stats
}

// MemoryAdapter is the reference storage adapter (C3): one map of job
// records, one priority index and stats block per named queue. Job records
// are guarded by the adapter-wide lock and each queue's index and stats by
// that queue's own lock; every returned Job is a copy so callers cannot
// mutate stored state.
type MemoryAdapter struct {
	mu     sync.RWMutex
	jobs   map[string]job.Job
	queues map[string]*queueState
}

// NewMemoryAdapter returns an empty, ready-to-use adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		jobs:   make(map[string]job.Job),
		queues: make(map[string]*queueState),
	}
}

func (m *MemoryAdapter) queueFor(name string) *queueState {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = &queueState{ready: job.NewPriorityQueue(), ids: make(map[string]struct{})}
		m.queues[name] = q
	}
	return q
}

func (m *MemoryAdapter) Connect(ctx context.Context) error    { return nil }
func (m *MemoryAdapter) Disconnect(ctx context.Context) error { return nil }
func (m *MemoryAdapter) HealthCheck(ctx context.Context) bool { return true }

// Enqueue persists j and adds its id to the queue's ready index.
func (m *MemoryAdapter) Enqueue(ctx context.Context, queueName string, j job.Job) error {
	q := m.queueFor(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	q.ready.Enqueue(j.ID, j.Priority)
	q.ids[j.ID] = struct{}{}
	q.stats.Total++
	q.stats.Queued++
	return nil
}

// Dequeue removes and returns the highest-priority queued job for
// queueName, or (nil, nil) if none is ready.
func (m *MemoryAdapter) Dequeue(ctx context.Context, queueName string) (*job.Job, error) {
	q := m.queueFor(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()

	id, ok := q.ready.Dequeue()
	if !ok {
		return nil, nil
	}
	delete(q.ids, id)

	m.mu.RLock()
	j, exists := m.jobs[id]
	m.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	cp := j.Clone()
	return &cp, nil
}

// Peek returns the highest-priority queued job without removing it.
func (m *MemoryAdapter) Peek(ctx context.Context, queueName string) (*job.Job, error) {
	q := m.queueFor(queueName)
	q.mu.Lock()
	id, ok := q.ready.Peek()
	q.mu.Unlock()
	if !ok {
		return nil, nil
	}
	m.mu.RLock()
	j, exists := m.jobs[id]
	m.mu.RUnlock()
	if !exists {
		return nil, nil
	}
	cp := j.Clone()
	return &cp, nil
}

// GetJob looks up id, optionally scoped to queueName. If the job exists
// but belongs to a different queue, it returns (nil, nil) per the
// adapter's scoping rule.
func (m *MemoryAdapter) GetJob(ctx context.Context, id string, queueName string) (*job.Job, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if queueName != "" && j.Queue != queueName {
		return nil, nil
	}
	cp := j.Clone()
	return &cp, nil
}

// ListJobs returns queueName's jobs matching filters, sorted and paged.
func (m *MemoryAdapter) ListJobs(ctx context.Context, queueName string, filters ListFilters) ([]job.Job, error) {
	m.mu.RLock()
	out := make([]job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Queue == queueName {
			out = append(out, j)
		}
	}
	m.mu.RUnlock()

	filtered := make([]job.Job, 0, len(out))
	for _, j := range out {
		if filters.Status != "" && j.Status != filters.Status {
			continue
		}
		if filters.JobType != "" && j.Type != filters.JobType {
			continue
		}
		filtered = append(filtered, j.Clone())
	}

	sortJobs(filtered, filters.SortBy, filters.SortOrder)

	if filters.Offset > 0 {
		if filters.Offset >= len(filtered) {
			return []job.Job{}, nil
		}
		filtered = filtered[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(filtered) {
		filtered = filtered[:filters.Limit]
	}
	return filtered, nil
}

func sortJobs(jobs []job.Job, by SortField, order SortOrder) {
	if by == "" {
		by = SortByQueuedAt
	}
	less := func(i, j int) bool {
		switch by {
		case SortByPriority:
			return jobs[i].Priority < jobs[j].Priority
		case SortByStatus:
			return jobs[i].Status < jobs[j].Status
		default:
			return jobs[i].QueuedAt.Before(jobs[j].QueuedAt)
		}
	}
	if order == SortDesc {
		base := less
		less = func(i, j int) bool { return base(j, i) }
	}
	sort.SliceStable(jobs, less)
}

// UpdateJob applies a partial mutation to id. Unknown ids are silently
// ignored (idempotent). Status transitions keep the queue's stats block
// consistent: stats[old]-- stats[new]++, unless old == new.
func (m *MemoryAdapter) UpdateJob(ctx context.Context, id string, update Update) error {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	old := j.Status
	if update.Status != "" {
		j.Status = update.Status
	}
	if update.StartedAt != nil {
		j.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		j.CompletedAt = update.CompletedAt
	}
	if update.Progress != nil {
		j.Progress = *update.Progress
	}
	if update.ProgressMessage != nil {
		j.ProgressMessage = *update.ProgressMessage
	}
	if update.Retries != nil {
		j.Retries = *update.Retries
	}
	if update.ResultSet {
		j.Result = update.Result
	}
	if update.Error != nil {
		j.Error = update.Error
	}
	m.jobs[id] = j
	m.mu.Unlock()

	if update.Status != "" && update.Status != old {
		q := m.queueFor(j.Queue)
		q.mu.Lock()
		adjustStats(&q.stats, old, update.Status)
		if update.Status == job.StatusQueued {
			q.ready.Enqueue(id, j.Priority)
			q.ids[id] = struct{}{}
		} else {
			q.ready.Remove(id)
			delete(q.ids, id)
		}
		q.mu.Unlock()
	}
	return nil
}

func adjustStats(s *Stats, from, to job.Status) {
	decr := func(status job.Status) {
		switch status {
		case job.StatusQueued:
			if s.Queued > 0 {
				s.Queued--
			}
		case job.StatusRunning:
			if s.Running > 0 {
				s.Running--
			}
		case job.StatusCompleted:
			if s.Completed > 0 {
				s.Completed--
			}
		case job.StatusFailed:
			if s.Failed > 0 {
				s.Failed--
			}
		case job.StatusCancelled:
			if s.Cancelled > 0 {
				s.Cancelled--
			}
		}
	}
	incr := func(status job.Status) {
		switch status {
		case job.StatusQueued:
			s.Queued++
		case job.StatusRunning:
			s.Running++
		case job.StatusCompleted:
			s.Completed++
		case job.StatusFailed:
			s.Failed++
		case job.StatusCancelled:
			s.Cancelled++
		}
	}
	decr(from)
	incr(to)
}

// RemoveJob deletes id's record, reporting whether one existed.
func (m *MemoryAdapter) RemoveJob(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	j, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.jobs, id)
	m.mu.Unlock()

	q := m.queueFor(j.Queue)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready.Remove(id)
	delete(q.ids, id)
	if q.stats.Total > 0 {
		q.stats.Total--
	}
	adjustStats(&q.stats, j.Status, "")
	return true, nil
}

// GetQueueStats returns a copy of queueName's counters; unknown queues
// report all zeros.
func (m *MemoryAdapter) GetQueueStats(ctx context.Context, queueName string) (Stats, error) {
	q := m.queueFor(queueName)
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats, nil
}

var _ Adapter = (*MemoryAdapter)(nil)
