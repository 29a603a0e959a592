// Package job defines the Job record and its lifecycle, and the priority
// index used to order ready jobs within a queue.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Status is one of the lifecycle states a Job can occupy. Transitions form
// a DAG: queued -> running -> {completed, failed, cancelled}, plus
// queued -> cancelled and running -> queued (retry).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CanTransition reports whether moving from s to next is a legal edge in
// the lifecycle DAG.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled || next == StatusQueued
	default:
		return false
	}
}

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5

	DefaultMaxRetries = 3
	MaxMaxRetries     = 10

	DefaultTimeout = 30 * time.Second
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 3600 * time.Second
)

// Error is the {message, code?, stack?} terminal-failure record attached
// to a job once it reaches StatusFailed.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Job is an immutable snapshot of one unit of work. Every mutation
// produces a new record via the storage adapter; nothing in this package
// mutates a Job in place once it has been handed to a caller.
type Job struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Queue    string `json:"queueName"`
	Data     any    `json:"data"`
	Status   Status `json:"status"`
	Priority int    `json:"priority"`

	Progress        int    `json:"progress"`
	ProgressMessage string `json:"progressMessage,omitempty"`

	QueuedAt    time.Time  `json:"queuedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`

	Retries    int `json:"retries"`
	MaxRetries int `json:"maxRetries"`

	Timeout  time.Duration  `json:"timeout"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Options carries the submission-time overrides accepted by
// QueueService.Add. Priority/Timeout zero values mean "use the configured
// default" since 0 is never a legal value for either field. MaxRetries is
// a *int because 0 is the spec-mandated valid value for "no retries" (§8:
// maxRetries = 0 -> first failure is terminal) and must stay distinguishable
// from "not specified" -> nil means "use the configured default".
type Options struct {
	Priority   int
	MaxRetries *int
	Timeout    time.Duration
	Metadata   map[string]any
}

// New builds a queued Job, applying defaults for any unset option. The id
// is assigned here so callers observe it before the adapter persists the
// record.
func New(queueName, jobType string, data any, opts Options, defaults Options) Job {
	priority := opts.Priority
	if priority == 0 {
		priority = defaults.Priority
	}
	if priority == 0 {
		priority = DefaultPriority
	}

	var maxRetries int
	switch {
	case opts.MaxRetries != nil:
		maxRetries = *opts.MaxRetries
	case defaults.MaxRetries != nil:
		maxRetries = *defaults.MaxRetries
	default:
		maxRetries = DefaultMaxRetries
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	metadata := opts.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Queue:      queueName,
		Data:       data,
		Status:     StatusQueued,
		Priority:   priority,
		QueuedAt:   time.Now().UTC(),
		Retries:    0,
		MaxRetries: maxRetries,
		Timeout:    timeout,
		Metadata:   metadata,
	}
}

// Clone returns a deep-enough copy safe to hand to a caller without
// exposing the adapter's internal record to mutation. Data/Result/Metadata
// are shared by reference, matching the "opaque payload" contract.
func (j Job) Clone() Job {
	cp := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		cp.Error = &e
	}
	if j.Metadata != nil {
		m := make(map[string]any, len(j.Metadata))
		for k, v := range j.Metadata {
			m[k] = v
		}
		cp.Metadata = m
	}
	return cp
}
