// Copyright 2025 James Ross
package scheduler

import "fmt"

// ValidationError carries the path/message issues surfaced by a rejected
// Validator call (spec §4.3, §7 JobValidationError).
type ValidationError struct {
	Queue, Type string
	Issues      []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scheduler: validation failed for queue=%s type=%s: %v", e.Queue, e.Type, e.Issues)
}

// HandlerNotFoundError is raised inside the scheduling loop when a
// dequeued job has no registered handler; the job is failed without
// retry.
type HandlerNotFoundError struct {
	Queue, Type string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("scheduler: no handler registered for queue=%s type=%s", e.Queue, e.Type)
}

// JobNotFoundError is raised by Cancel and direct lookups.
type JobNotFoundError struct {
	JobID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("scheduler: job %s not found", e.JobID)
}

// TimeoutError tags a terminal failure caused by the per-job deadline
// firing rather than a handler error.
type TimeoutError struct {
	JobID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("scheduler: job %s timed out", e.JobID)
}

const (
	ErrCodeHandlerNotFound = "HandlerNotFound"
	ErrCodeJobTimeout      = "JobTimeout"
	ErrCodeJobCancelled    = "JobCancelled"
)
