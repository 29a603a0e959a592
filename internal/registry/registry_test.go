package registry

import (
	"errors"
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	h := func(ctx Context) (any, error) { return "ok", nil }

	if err := r.Register("emails", "send", Entry{Handler: h}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entry, ok := r.Lookup("emails", "send")
	if !ok {
		t.Fatal("expected handler to be found")
	}
	if entry.InputValidator == nil {
		t.Fatal("expected default input validator to be filled in")
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := New()
	h := func(ctx Context) (any, error) { return nil, nil }
	if err := r.Register("emails", "send", Entry{Handler: h}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := r.Register("emails", "send", Entry{Handler: h})
	var already *AlreadyRegisteredError
	if !errors.As(err, &already) {
		t.Fatalf("expected AlreadyRegisteredError, got %v", err)
	}
}

func TestLookupMiss(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("emails", "send"); ok {
		t.Fatal("expected no handler registered")
	}
}
