package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxConcurrent != 2 || cfg.LogLevel != "info" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Queue.MaxConcurrent != 3 || cfg.Queue.RetryDelay != 2*time.Second {
		t.Errorf("queue defaults not applied: %+v", cfg.Queue)
	}
	if cfg.Checkpoints.Backend != "sqlite" || cfg.Checkpoints.Retention != 7*24*time.Hour {
		t.Errorf("checkpoint defaults not applied: %+v", cfg.Checkpoints)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
max_concurrent: 4
subtask_timeout: 90s
log_level: debug
queue:
  max_concurrent: 5
  retry_delay: 500ms
agent:
  model: claude-opus-4
  token_budget: 50000
  compaction_threshold: 30000
checkpoints:
  backend: file
  retention: 48h
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.MaxConcurrent)
	}
	if cfg.SubtaskTimeout != 90*time.Second {
		t.Errorf("SubtaskTimeout = %v, want 90s", cfg.SubtaskTimeout)
	}
	if cfg.Queue.MaxConcurrent != 5 || cfg.Queue.RetryDelay != 500*time.Millisecond {
		t.Errorf("queue = %+v", cfg.Queue)
	}
	// Fields absent from the file keep defaults.
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("Queue.MaxRetries = %d, want default 3", cfg.Queue.MaxRetries)
	}
	if cfg.Agent.Model != "claude-opus-4" || cfg.Agent.TokenBudget != 50000 {
		t.Errorf("agent = %+v", cfg.Agent)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("Agent.MaxIterations = %d, want default 10", cfg.Agent.MaxIterations)
	}
	if cfg.Checkpoints.Backend != "file" || cfg.Checkpoints.Retention != 48*time.Hour {
		t.Errorf("checkpoints = %+v", cfg.Checkpoints)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := writeConfig(t, "max_concurrent: [not a number\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeConfig(t, "subtask_timeout: eleven\n")
	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "subtask_timeout") {
		t.Fatalf("err = %v, want subtask_timeout parse error", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative concurrency", func(c *Config) { c.MaxConcurrent = -1 }, "max_concurrent"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"zero queue slots", func(c *Config) { c.Queue.MaxConcurrent = 0 }, "queue.max_concurrent"},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }, "queue.max_retries"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "agent.max_iterations"},
		{"bad backend", func(c *Config) { c.Checkpoints.Backend = "redis" }, "checkpoints.backend"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestConfig_MergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	mc := 8
	level := "debug"
	dry := true
	cfg.MergeWithFlags(&mc, &level, nil, &dry)

	if cfg.MaxConcurrent != 8 || cfg.LogLevel != "debug" || !cfg.DryRun {
		t.Errorf("flags not merged: %+v", cfg)
	}
	if cfg.DataDir != ".overseer" {
		t.Errorf("nil flag must not override DataDir, got %q", cfg.DataDir)
	}
}

func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, ".overseer")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sub, "config.yaml"), []byte("max_concurrent: 7\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadConfigFromDir(dir)
	if err != nil {
		t.Fatalf("LoadConfigFromDir: %v", err)
	}
	if cfg.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7", cfg.MaxConcurrent)
	}
}
