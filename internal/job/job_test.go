package job

import "testing"

func TestStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCancelled, true},
		{StatusRunning, StatusQueued, true},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusQueued, false},
		{StatusQueued, StatusCompleted, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("%s -> %s: want %v, got %v", c.from, c.to, c.want, got)
		}
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	j := New("emails", "send", map[string]any{"to": "a@b.com"}, Options{}, Options{})

	if j.Priority != DefaultPriority {
		t.Errorf("priority: want %d, got %d", DefaultPriority, j.Priority)
	}
	if j.MaxRetries != DefaultMaxRetries {
		t.Errorf("maxRetries: want %d, got %d", DefaultMaxRetries, j.MaxRetries)
	}
	if j.Timeout != DefaultTimeout {
		t.Errorf("timeout: want %v, got %v", DefaultTimeout, j.Timeout)
	}
	if j.Status != StatusQueued {
		t.Errorf("status: want queued, got %s", j.Status)
	}
	if j.ID == "" {
		t.Error("expected an id to be assigned")
	}
	if j.Metadata == nil {
		t.Error("expected non-nil metadata map")
	}
}

func TestNewAppliesQueueDefaultsOverPluginDefaults(t *testing.T) {
	two := 2
	defaults := Options{Priority: 7, MaxRetries: &two, Timeout: 0}
	j := New("emails", "send", nil, Options{}, defaults)

	if j.Priority != 7 {
		t.Errorf("want queue default priority 7, got %d", j.Priority)
	}
	if j.MaxRetries != 2 {
		t.Errorf("want queue default maxRetries 2, got %d", j.MaxRetries)
	}
}

func TestNewOptionsOverrideDefaults(t *testing.T) {
	five := 5
	opts := Options{Priority: 10, Timeout: 0}
	j := New("emails", "send", nil, opts, Options{Priority: 3, MaxRetries: &five})

	if j.Priority != 10 {
		t.Errorf("want explicit priority 10, got %d", j.Priority)
	}
	if j.MaxRetries != 5 {
		t.Errorf("want inherited queue default maxRetries 5, got %d", j.MaxRetries)
	}
}

func TestNewExplicitZeroMaxRetriesIsNotTerminalDefault(t *testing.T) {
	zero := 0
	five := 5
	opts := Options{MaxRetries: &zero}
	j := New("emails", "send", nil, opts, Options{MaxRetries: &five})

	if j.MaxRetries != 0 {
		t.Errorf("explicit MaxRetries=0 must not be replaced by the queue default: got %d", j.MaxRetries)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	j := New("q", "t", nil, Options{}, Options{})
	now := j.QueuedAt
	j.StartedAt = &now

	cp := j.Clone()
	later := now.Add(1)
	*cp.StartedAt = later

	if j.StartedAt.Equal(later) {
		t.Fatal("mutating clone's StartedAt leaked into original")
	}
}
