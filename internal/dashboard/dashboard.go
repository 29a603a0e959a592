// Copyright 2025 James Ross
// Package dashboard implements the data gatherer (C9): a pure function
// over a Queue Service snapshot, with no rendering, grounded on the
// teacher's admin.Stats/PeekWithTracing pattern of scanning live state
// into a plain result struct for an external presenter to draw.
package dashboard

import (
	"context"
	"sort"

	"github.com/flyingrobots/queueengine/internal/job"
	"github.com/flyingrobots/queueengine/internal/storage"
)

// queueServicer is the subset of service.Service the gatherer depends on,
// kept narrow so it can be grounded on a fake in tests without importing
// the service package (keeping dashboard decoupled from service mirrors
// the teacher's admin package depending only on redis.Client, not on
// worker/producer).
type queueServicer interface {
	ListQueues() []string
	GetQueueStats(ctx context.Context, queueName string) (storage.Stats, error)
	ListJobs(ctx context.Context, queueName string, filters storage.ListFilters) ([]job.Job, error)
}

// QueueSnapshot is one queue's stats plus its most recently queued jobs.
type QueueSnapshot struct {
	Name       string
	Stats      storage.Stats
	RecentJobs []job.Job
}

// Snapshot is the full gatherer result: one entry per configured queue, in
// QueueService.ListQueues order.
type Snapshot struct {
	Queues []QueueSnapshot
}

// Gather builds a Snapshot across every configured queue, taking up to
// recentLimit of the most recently queued jobs per queue (0 disables the
// per-queue recent-jobs listing).
func Gather(ctx context.Context, svc queueServicer, recentLimit int) (Snapshot, error) {
	var snap Snapshot
	for _, name := range svc.ListQueues() {
		stats, err := svc.GetQueueStats(ctx, name)
		if err != nil {
			return snap, err
		}

		qs := QueueSnapshot{Name: name, Stats: stats}
		if recentLimit > 0 {
			jobs, err := svc.ListJobs(ctx, name, storage.ListFilters{
				SortBy:    storage.SortByQueuedAt,
				SortOrder: storage.SortDesc,
				Limit:     recentLimit,
			})
			if err != nil {
				return snap, err
			}
			qs.RecentJobs = jobs
		}
		snap.Queues = append(snap.Queues, qs)
	}
	return snap, nil
}

// SortQueuesByBacklog orders a Snapshot's queues by descending Queued
// count, a common dashboard "what needs attention" view.
func SortQueuesByBacklog(snap Snapshot) {
	sort.SliceStable(snap.Queues, func(i, j int) bool {
		return snap.Queues[i].Stats.Queued > snap.Queues[j].Stats.Queued
	})
}
