package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/overseer/internal/checkpoint"
)

// QueueConfig configures the shared model request queue.
type QueueConfig struct {
	// MaxConcurrent is the number of simultaneous in-flight model calls
	MaxConcurrent int `yaml:"max_concurrent"`

	// MaxRetries is the retry ceiling for rate-limited calls
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base backoff delay; retry n waits n*RetryDelay
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// AgentConfig configures every agent loop spawned during a run.
type AgentConfig struct {
	// Command is the model CLI binary invoked for completions
	Command string `yaml:"command"`

	// Model is the model identifier passed on every call
	Model string `yaml:"model"`

	// MaxIterations bounds one task's think/act cycles
	MaxIterations int `yaml:"max_iterations"`

	// MaxOutputTokens caps each call's completion size
	MaxOutputTokens int `yaml:"max_output_tokens"`

	// TokenBudget is the per-task token ceiling (0 = unlimited)
	TokenBudget int `yaml:"token_budget"`

	// CompactionThreshold triggers history compression when the estimated
	// prompt size exceeds it (0 = compaction disabled)
	CompactionThreshold int `yaml:"compaction_threshold"`

	// KeepRecent is the number of trailing messages preserved verbatim
	// during compaction
	KeepRecent int `yaml:"keep_recent"`
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	// Backend selects the store: sqlite, file, or memory
	Backend string `yaml:"backend"`

	// Retention is the garbage-collection age for old checkpoints
	Retention time.Duration `yaml:"retention"`
}

// Config represents overseer configuration options
type Config struct {
	// MaxConcurrent is the scheduler's running-task ceiling
	MaxConcurrent int `yaml:"max_concurrent"`

	// SubtaskTimeout is the per-sub-task wall-clock budget
	SubtaskTimeout time.Duration `yaml:"subtask_timeout"`

	// LogLevel sets the logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// DataDir is the directory for the task database and checkpoints
	DataDir string `yaml:"data_dir"`

	// DryRun enables plan validation without execution
	DryRun bool `yaml:"dry_run"`

	// Queue contains request queue configuration
	Queue QueueConfig `yaml:"queue"`

	// Agent contains agent loop configuration
	Agent AgentConfig `yaml:"agent"`

	// Checkpoints contains checkpoint persistence configuration
	Checkpoints CheckpointConfig `yaml:"checkpoints"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrent:  2,
		SubtaskTimeout: 5 * time.Minute,
		LogLevel:       "info",
		DataDir:        ".overseer",
		Queue: QueueConfig{
			MaxConcurrent: 3,
			MaxRetries:    3,
			RetryDelay:    2 * time.Second,
		},
		Agent: AgentConfig{
			Command:         "claude",
			Model:           "claude-sonnet-4",
			MaxIterations:   10,
			MaxOutputTokens: 4096,
			KeepRecent:      4,
		},
		Checkpoints: CheckpointConfig{
			Backend:   "sqlite",
			Retention: checkpoint.DefaultRetention,
		},
	}
}

// yamlConfig mirrors Config with durations as strings so "2s" and "5m"
// parse from YAML.
type yamlConfig struct {
	MaxConcurrent  int    `yaml:"max_concurrent"`
	SubtaskTimeout string `yaml:"subtask_timeout"`
	LogLevel       string `yaml:"log_level"`
	DataDir        string `yaml:"data_dir"`
	DryRun         bool   `yaml:"dry_run"`
	Queue          struct {
		MaxConcurrent int    `yaml:"max_concurrent"`
		MaxRetries    int    `yaml:"max_retries"`
		RetryDelay    string `yaml:"retry_delay"`
	} `yaml:"queue"`
	Agent struct {
		Command             string `yaml:"command"`
		Model               string `yaml:"model"`
		MaxIterations       int    `yaml:"max_iterations"`
		MaxOutputTokens     int    `yaml:"max_output_tokens"`
		TokenBudget         int    `yaml:"token_budget"`
		CompactionThreshold int    `yaml:"compaction_threshold"`
		KeepRecent          int    `yaml:"keep_recent"`
	} `yaml:"agent"`
	Checkpoints struct {
		Backend   string `yaml:"backend"`
		Retention string `yaml:"retention"`
	} `yaml:"checkpoints"`
}

// LoadConfig loads configuration from the specified file path.
// If the file doesn't exist, returns default configuration without error.
// If the file exists but is malformed, returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Non-zero values from the file override defaults.
	if raw.MaxConcurrent != 0 {
		cfg.MaxConcurrent = raw.MaxConcurrent
	}
	if raw.SubtaskTimeout != "" {
		d, err := time.ParseDuration(raw.SubtaskTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid subtask_timeout %q: %w", raw.SubtaskTimeout, err)
		}
		cfg.SubtaskTimeout = d
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	if raw.DataDir != "" {
		cfg.DataDir = raw.DataDir
	}
	if raw.DryRun {
		cfg.DryRun = true
	}

	if raw.Queue.MaxConcurrent != 0 {
		cfg.Queue.MaxConcurrent = raw.Queue.MaxConcurrent
	}
	if raw.Queue.MaxRetries != 0 {
		cfg.Queue.MaxRetries = raw.Queue.MaxRetries
	}
	if raw.Queue.RetryDelay != "" {
		d, err := time.ParseDuration(raw.Queue.RetryDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid queue.retry_delay %q: %w", raw.Queue.RetryDelay, err)
		}
		cfg.Queue.RetryDelay = d
	}

	if raw.Agent.Command != "" {
		cfg.Agent.Command = raw.Agent.Command
	}
	if raw.Agent.Model != "" {
		cfg.Agent.Model = raw.Agent.Model
	}
	if raw.Agent.MaxIterations != 0 {
		cfg.Agent.MaxIterations = raw.Agent.MaxIterations
	}
	if raw.Agent.MaxOutputTokens != 0 {
		cfg.Agent.MaxOutputTokens = raw.Agent.MaxOutputTokens
	}
	if raw.Agent.TokenBudget != 0 {
		cfg.Agent.TokenBudget = raw.Agent.TokenBudget
	}
	if raw.Agent.CompactionThreshold != 0 {
		cfg.Agent.CompactionThreshold = raw.Agent.CompactionThreshold
	}
	if raw.Agent.KeepRecent != 0 {
		cfg.Agent.KeepRecent = raw.Agent.KeepRecent
	}

	if raw.Checkpoints.Backend != "" {
		cfg.Checkpoints.Backend = raw.Checkpoints.Backend
	}
	if raw.Checkpoints.Retention != "" {
		d, err := time.ParseDuration(raw.Checkpoints.Retention)
		if err != nil {
			return nil, fmt.Errorf("invalid checkpoints.retention %q: %w", raw.Checkpoints.Retention, err)
		}
		cfg.Checkpoints.Retention = d
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .overseer/config.yaml in the
// specified directory. A missing directory or file yields defaults.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".overseer", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration. Non-nil flag
// values override config file settings.
func (c *Config) MergeWithFlags(maxConcurrent *int, logLevel *string, dataDir *string, dryRun *bool) {
	if maxConcurrent != nil {
		c.MaxConcurrent = *maxConcurrent
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if dataDir != nil {
		c.DataDir = *dataDir
	}
	if dryRun != nil {
		c.DryRun = *dryRun
	}
}

// Validate returns an error if any configuration values are invalid.
func (c *Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be > 0, got %d", c.MaxConcurrent)
	}
	if c.SubtaskTimeout < 0 {
		return fmt.Errorf("subtask_timeout must be >= 0, got %v", c.SubtaskTimeout)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q, must be one of: debug, info, warn, error", c.LogLevel)
	}

	if c.Queue.MaxConcurrent <= 0 {
		return fmt.Errorf("queue.max_concurrent must be > 0, got %d", c.Queue.MaxConcurrent)
	}
	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("queue.max_retries must be >= 0, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.RetryDelay <= 0 {
		return fmt.Errorf("queue.retry_delay must be > 0, got %v", c.Queue.RetryDelay)
	}

	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be > 0, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.TokenBudget < 0 {
		return fmt.Errorf("agent.token_budget must be >= 0, got %d", c.Agent.TokenBudget)
	}

	switch c.Checkpoints.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("invalid checkpoints.backend %q, must be one of: sqlite, file, memory", c.Checkpoints.Backend)
	}
	if c.Checkpoints.Retention < 0 {
		return fmt.Errorf("checkpoints.retention must be >= 0, got %v", c.Checkpoints.Retention)
	}

	return nil
}
