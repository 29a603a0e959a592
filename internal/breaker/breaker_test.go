// Copyright 2025 James Ross
package breaker

import (
    "sync"
    "testing"
    "time"
)

func TestBreakerTransitions(t *testing.T) {
    cb := New(2*time.Second, 200*time.Millisecond, 0.5, 2)
    if cb.State() != Closed { t.Fatal("expected closed") }
    cb.Record(false)
    cb.Record(false)
    time.Sleep(10 * time.Millisecond)
    if cb.State() != Open { t.Fatal("expected open") }
    if cb.Allow() != false { t.Fatal("should not allow until cooldown") }
    time.Sleep(250 * time.Millisecond)
    if cb.Allow() != true { t.Fatal("should allow probe in half-open") }
    cb.Record(true)
    if cb.State() != Closed { t.Fatal("expected closed after probe success") }
}

func TestOnTransitionNotifiesEachStateChange(t *testing.T) {
    cb := New(2*time.Second, 50*time.Millisecond, 0.5, 2)

    var mu sync.Mutex
    var seen []State
    cb.OnTransition(func(from, to State) {
        mu.Lock()
        seen = append(seen, to)
        mu.Unlock()
    })

    cb.Record(false)
    cb.Record(false)
    time.Sleep(10 * time.Millisecond)

    mu.Lock()
    got := append([]State{}, seen...)
    mu.Unlock()
    if len(got) != 1 || got[0] != Open {
        t.Fatalf("expected a single transition to Open, got %v", got)
    }
}

func TestStateStringsAreHumanReadable(t *testing.T) {
    cases := map[State]string{Closed: "closed", HalfOpen: "half_open", Open: "open"}
    for state, want := range cases {
        if got := state.String(); got != want {
            t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
        }
    }
}
