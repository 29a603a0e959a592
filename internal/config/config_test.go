// Copyright 2025 James Ross
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("QUEUEENGINE_DEFAULT_CONCURRENCY")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DefaultConcurrency != 5 {
		t.Fatalf("expected default concurrency 5, got %d", cfg.DefaultConcurrency)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected default storage backend memory, got %q", cfg.Storage.Backend)
	}
}

func TestLoadPreservesQueueOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "queues:\n  - name: sms\n  - name: emails\n  - name: push\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"sms", "emails", "push"}
	if len(cfg.Queues) != len(want) {
		t.Fatalf("expected %d queues, got %d", len(want), len(cfg.Queues))
	}
	for i, name := range want {
		if cfg.Queues[i].Name != name {
			t.Fatalf("expected queues[%d].name = %q, got %q", i, name, cfg.Queues[i].Name)
		}
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.DefaultConcurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for default_concurrency < 1")
	}

	cfg = defaultConfig()
	cfg.Storage.Backend = "redis"
	cfg.Storage.Redis.URL = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for redis backend without url")
	}

	cfg = defaultConfig()
	cfg.Queues = []Queue{{Name: "emails", Concurrency: -1}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for negative queue concurrency")
	}

	cfg = defaultConfig()
	cfg.Queues = []Queue{{Name: "emails"}, {Name: "emails"}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for duplicate queue name")
	}

	cfg = defaultConfig()
	cfg.Queues = []Queue{{Name: ""}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing queue name")
	}

	cfg = defaultConfig()
	cfg.Events.Webhooks = []Webhook{{Secret: "x"}}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for webhook missing url")
	}
}
