// Copyright 2025 James Ross
// Package service implements the Queue Service façade (C8): the
// multi-queue entry point owning one Queue Instance per configured queue
// name and the shared storage.Adapter, plus a process-wide singleton
// accessor for call sites without request-scoped injection.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/queueengine/internal/eventbus"
	"github.com/flyingrobots/queueengine/internal/job"
	"github.com/flyingrobots/queueengine/internal/registry"
	"github.com/flyingrobots/queueengine/internal/scheduler"
	"github.com/flyingrobots/queueengine/internal/storage"
)

// NotFoundError is raised when a caller references a queue name that was
// never configured.
type NotFoundError struct {
	Queue string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("service: queue %q not found", e.Queue)
}

// QueueConfig is one entry of the `queues` configuration list. MaxRetries
// is a *int: nil inherits Config.DefaultMaxRetries, a pointed-to 0 means
// this queue explicitly runs with no retries (spec §8).
type QueueConfig struct {
	Name             string
	Concurrency      int
	Timeout          int64 // ms; 0 uses the plugin-wide default
	MaxRetries       *int
	ReconcileOnStart bool
}

// Config is the plugin-wide configuration consumed by New. Queues is
// a list, not a name-keyed map, so ListQueues can return names in the order
// they were configured (spec §4.5) rather than Go's unspecified map order.
// DefaultMaxRetries is already fully resolved by the config layer's
// defaults/file/env precedence chain, so it stays a plain int here.
type Config struct {
	Queues             []QueueConfig
	DefaultConcurrency int
	DefaultTimeout     int64 // ms
	DefaultMaxRetries  int
	ServerID           string
}

// Service is the multi-queue façade (C8). All external callers — HTTP
// adapters, tests, background handlers reached through the process-wide
// accessor — interact only through this type.
type Service struct {
	mu        sync.RWMutex
	adapter   storage.Adapter
	registry  *registry.Registry
	bus       *eventbus.Bus
	instances map[string]*scheduler.Instance
	order     []string
	cfg       Config
	log       *zap.Logger
	cancel    context.CancelFunc
}

// New builds a Service over adapter with one Instance per cfg.Queues
// entry. It does not start any scheduling loops — call StartAll for that.
func New(cfg Config, adapter storage.Adapter, reg *registry.Registry, log *zap.Logger) *Service {
	bus := eventbus.New(cfg.ServerID)
	s := &Service{
		adapter:   adapter,
		registry:  reg,
		bus:       bus,
		instances: make(map[string]*scheduler.Instance),
		cfg:       cfg,
		log:       log,
	}
	for _, qc := range cfg.Queues {
		s.order = append(s.order, qc.Name)
		s.instances[qc.Name] = scheduler.New(qc.Name, adapter, reg, bus, instanceConfig(cfg, qc), log)
	}
	return s
}

func instanceConfig(cfg Config, qc QueueConfig) scheduler.Config {
	concurrency := qc.Concurrency
	if concurrency == 0 {
		concurrency = cfg.DefaultConcurrency
	}
	timeoutMs := qc.Timeout
	if timeoutMs == 0 {
		timeoutMs = cfg.DefaultTimeout
	}
	maxRetries := cfg.DefaultMaxRetries
	if qc.MaxRetries != nil {
		maxRetries = *qc.MaxRetries
	}
	return scheduler.Config{
		Concurrency:       concurrency,
		DefaultTimeout:    time.Duration(timeoutMs) * time.Millisecond,
		DefaultMaxRetries: &maxRetries,
		ReconcileOnStart:  qc.ReconcileOnStart,
	}
}

// EventBus exposes the shared in-process bus so handlers/adapters can
// subscribe without a per-job scope.
func (s *Service) EventBus() *eventbus.Bus { return s.bus }

// Registry exposes the shared handler registry. Handlers are registered
// only through it: Config.Queues carries no per-queue job or handler table.
// A second registration for the same (queue, job type) is rejected.
func (s *Service) Registry() *registry.Registry { return s.registry }

func (s *Service) instance(queueName string) (*scheduler.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[queueName]
	if !ok {
		return nil, &NotFoundError{Queue: queueName}
	}
	return inst, nil
}

// Add submits a job of jobType to queueName. Fails synchronously with
// *NotFoundError, *scheduler.HandlerNotFoundError or
// *scheduler.ValidationError.
func (s *Service) Add(ctx context.Context, queueName, jobType string, data any, opts job.Options) (string, error) {
	inst, err := s.instance(queueName)
	if err != nil {
		return "", err
	}
	return inst.Add(ctx, jobType, data, opts)
}

// GetJob looks a job up by id across all configured queues.
func (s *Service) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return s.adapter.GetJob(ctx, jobID, "")
}

// ListJobs returns queueName's jobs matching filters.
func (s *Service) ListJobs(ctx context.Context, queueName string, filters storage.ListFilters) ([]job.Job, error) {
	if _, err := s.instance(queueName); err != nil {
		return nil, err
	}
	return s.adapter.ListJobs(ctx, queueName, filters)
}

// CancelJob cancels jobID wherever it lives, returning whether a
// transition actually happened.
func (s *Service) CancelJob(ctx context.Context, jobID string, reason string) (bool, error) {
	j, err := s.adapter.GetJob(ctx, jobID, "")
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, &scheduler.JobNotFoundError{JobID: jobID}
	}
	inst, err := s.instance(j.Queue)
	if err != nil {
		return false, err
	}
	return inst.Cancel(ctx, jobID, reason)
}

// GetQueueStats returns queueName's stats snapshot.
func (s *Service) GetQueueStats(ctx context.Context, queueName string) (storage.Stats, error) {
	if _, err := s.instance(queueName); err != nil {
		return storage.Stats{}, err
	}
	return s.adapter.GetQueueStats(ctx, queueName)
}

// ListQueues returns configured queue names in insertion order.
func (s *Service) ListQueues() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// StartAll connects the storage adapter and starts every Queue Instance's
// scheduling loop.
func (s *Service) StartAll(ctx context.Context) error {
	if err := s.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("service: connect storage: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	instances := make([]*scheduler.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	s.mu.Unlock()

	for _, inst := range instances {
		inst.Start(runCtx)
	}
	return nil
}

// StopAll stops every Queue Instance and disconnects storage.
func (s *Service) StopAll(ctx context.Context, opts scheduler.StopOptions) error {
	s.mu.Lock()
	instances := make([]*scheduler.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		instances = append(instances, inst)
	}
	cancel := s.cancel
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, inst := range instances {
		wg.Add(1)
		go func(i *scheduler.Instance) {
			defer wg.Done()
			i.Stop(opts)
		}(inst)
	}
	wg.Wait()

	if cancel != nil {
		cancel()
	}
	return s.adapter.Disconnect(ctx)
}
