// Copyright 2025 James Ross
// Package eventbus implements the event bus bridge (C7): an in-process
// emitter with filtered subscriptions, plus optional cross-process
// publishers (NATS, webhooks) that observe the same stream.
package eventbus

import (
	"sync"
	"time"
)

// Kind names one of the lifecycle events a Queue Instance publishes.
type Kind string

const (
	JobQueued    Kind = "job.queued"
	JobStarted   Kind = "job.started"
	JobProgress  Kind = "job.progress"
	JobCompleted Kind = "job.completed"
	JobFailed    Kind = "job.failed"
	JobCancelled Kind = "job.cancelled"
	JobRetry     Kind = "job.retry"
)

// Event is the payload carried by every emission. Kind-specific fields are
// optional and zero-valued when not applicable.
type Event struct {
	Kind      Kind
	JobID     string
	QueueName string
	JobType   string
	Timestamp time.Time

	Priority int
	Progress int
	Message  string
	Result   any
	Error    error
	WillRetry bool
	Reason   string
	DurationMs int64

	ServerID string // set by Bus.Emit on every event from the bus's serverID
}

// Filter narrows which events a subscriber receives. A zero-valued field
// matches anything.
type Filter struct {
	JobID     string
	QueueName string
	Kinds     []Kind
}

func (f Filter) matches(e Event) bool {
	if f.JobID != "" && f.JobID != e.JobID {
		return false
	}
	if f.QueueName != "" && f.QueueName != e.QueueName {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == e.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Listener receives matching events. Implementations must not block —
// slow consumers should buffer internally.
type Listener func(Event)

// Publisher is the optional cross-process fan-out attached to a Bus
// (eventbus.NATSPublisher or a webhook subscriber).
type Publisher interface {
	Publish(e Event) error
	Close() error
}

// FanOut combines several Publishers behind one Publisher, so Bus.Attach
// only ever needs to hold one slot. Publish calls every member even if an
// earlier one errors, returning the first error seen.
type FanOut []Publisher

func (f FanOut) Publish(e Event) error {
	var firstErr error
	for _, p := range f {
		if err := p.Publish(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (f FanOut) Close() error {
	var firstErr error
	for _, p := range f {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type subscription struct {
	id     uint64
	filter Filter
	fn     Listener
}

// Bus is the in-process emitter (the required half of C7). Subscriptions
// may be added and removed concurrently with Emit; Emit invokes matching
// listeners synchronously in the caller's goroutine, so a listener must
// return quickly.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]subscription
	nextID    uint64
	serverID  string
	publisher Publisher
}

// New returns an empty bus. serverID tags every emitted event, both for
// in-process listeners and on the optional cross-process publisher.
func New(serverID string) *Bus {
	return &Bus{subs: make(map[uint64]subscription), serverID: serverID}
}

// Attach wires an optional cross-process publisher. The bus never relies
// on it for correctness — publish failures are swallowed, matching the
// spec's "cross-process events are observational only".
func (b *Bus) Attach(p Publisher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publisher = p
}

// Subscribe filters events by id, registers fn, and returns a disposer
// that removes every listener registered by this call.
func (b *Bus) Subscribe(filter Filter, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{id: id, filter: filter, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Emit delivers e to every matching subscriber and, if attached, to the
// cross-process publisher. Listeners run one after another in the calling
// goroutine, so each sees a job's events in emission order; a panicking
// listener is recovered. The publisher runs in its own goroutine.
func (b *Bus) Emit(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.ServerID = b.serverID

	b.mu.RLock()
	matched := make([]Listener, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.matches(e) {
			matched = append(matched, s.fn)
		}
	}
	pub := b.publisher
	b.mu.RUnlock()

	for _, fn := range matched {
		safeInvoke(fn, e)
	}
	if pub != nil {
		go func() { _ = pub.Publish(e) }()
	}
}

func safeInvoke(fn Listener, e Event) {
	defer func() { recover() }()
	fn(e)
}
