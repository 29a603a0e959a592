// Package registry implements the handler registry (C5): a mapping from
// (queueName, jobType) to the handler and validators that process it.
// Exactly one handler may be registered per key.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/flyingrobots/queueengine/internal/eventbus"
	"github.com/flyingrobots/queueengine/internal/job"
	"github.com/flyingrobots/queueengine/internal/validate"
)

// Context is passed to a Handler for one job attempt.
type Context struct {
	JobID    string
	Data     any
	Logger   *zap.Logger
	EventBus *eventbus.Bus
	Done     <-chan struct{} // closed when the attempt is cancelled or times out
	Progress func(pct int, msg string)
}

// Handler processes one job attempt and returns a result or an error.
// If Done is closed when the handler returns, its result and error are
// ignored: the attempt is recorded as cancelled, or as a JobTimeout failure
// when the per-job deadline closed Done.
type Handler func(ctx Context) (any, error)

// Entry is a full handler registration.
type Entry struct {
	Handler         Handler
	InputValidator  validate.Validator
	OutputValidator validate.Validator
	Defaults        job.Options
}

// AlreadyRegisteredError is returned by Register when the (queue, type)
// key already has a handler.
type AlreadyRegisteredError struct {
	Queue, Type string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("registry: handler already registered for queue=%s type=%s", e.Queue, e.Type)
}

type key struct{ queue, jobType string }

// Registry holds handler entries keyed by (queueName, jobType).
type Registry struct {
	mu      sync.RWMutex
	entries map[key]Entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[key]Entry)}
}

// Register adds entry under (queueName, jobType). Fails with
// AlreadyRegisteredError if the key is taken (spec invariant: at most one
// handler per (queueName, jobType)).
func (r *Registry) Register(queueName, jobType string, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{queueName, jobType}
	if _, exists := r.entries[k]; exists {
		return &AlreadyRegisteredError{Queue: queueName, Type: jobType}
	}
	if entry.InputValidator == nil {
		entry.InputValidator = validate.Accept
	}
	r.entries[k] = entry
	return nil
}

// Lookup returns the entry for (queueName, jobType), or ok=false if none
// is registered.
func (r *Registry) Lookup(queueName, jobType string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key{queueName, jobType}]
	return e, ok
}
