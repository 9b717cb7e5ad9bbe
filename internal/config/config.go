// Package config loads and validates the pipeline's runtime configuration:
// the run target, file/LLM/queue/triangulation/graph knobs enumerated in
// spec.md §6. Configuration is read from a YAML file, overlaid with
// environment variables, and merged against built-in defaults with
// dario.cat/mergo — the same three-step shape the teacher repo uses for
// tarsy.yaml.
package config

import "time"

// Config is the fully merged, validated runtime configuration for one
// pipeline process.
type Config struct {
	Run          RunConfig          `yaml:"run"`
	File         FileConfig         `yaml:"file"`
	LLM          LLMConfig          `yaml:"llm"`
	Queue        QueueConfig        `yaml:"queue"`
	Outbox       OutboxConfig       `yaml:"outbox"`
	Triangulation TriangulationConfig `yaml:"triangulation"`
	Graph        GraphConfig        `yaml:"graph"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
}

// RunConfig describes the target tree for one run.
type RunConfig struct {
	TargetRoot      string   `yaml:"target_root"`
	IncludePatterns []string `yaml:"include_patterns"`
	ExcludePatterns []string `yaml:"exclude_patterns"`
}

// FileConfig bounds what the file-analysis worker will read.
type FileConfig struct {
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

// LLMConfig configures the bounded, self-correcting LLM client.
type LLMConfig struct {
	Concurrency         int           `yaml:"concurrency"`
	ContextBudgetTokens int           `yaml:"context_budget_tokens"`
	MaxAttempts         int           `yaml:"max_attempts"`
	BackoffInitial      time.Duration `yaml:"backoff_initial"`
	BackoffFactor       float64       `yaml:"backoff_factor"`
	BackoffCap          time.Duration `yaml:"backoff_cap"`
	CallTimeout         time.Duration `yaml:"call_timeout"`
	APIKeyEnv           string        `yaml:"api_key_env"`
	Model               string        `yaml:"model"`
}

// QueueConfig configures the queue manager's default job options and
// worker/stall policy.
type QueueConfig struct {
	DefaultAttempts  int           `yaml:"default_attempts"`
	StalledInterval  time.Duration `yaml:"stalled_interval"`
	LockDuration      time.Duration `yaml:"lock_duration"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	RemoveOnComplete  int           `yaml:"remove_on_complete"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
}

// OutboxConfig configures the transactional outbox publisher.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

// TriangulationConfig configures the confidence-aggregation algorithm.
type TriangulationConfig struct {
	AgreementBoost      float64            `yaml:"agreement_boost"`
	DisagreementPenalty float64            `yaml:"disagreement_penalty"`
	Threshold           float64            `yaml:"threshold"`
	PassWeights         map[string]float64 `yaml:"pass_weights"`
	GraceTimeout        time.Duration      `yaml:"grace_timeout"`
}

// GraphConfig configures the graph builder.
type GraphConfig struct {
	BatchSize int    `yaml:"batch_size"`
	Endpoint  string `yaml:"endpoint"`
}

// StoreConfig configures the embedded operational SQL store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig configures the queue/cache backend connection.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	ConnectInitial  time.Duration `yaml:"connect_backoff_initial"`
	ConnectFactor   float64       `yaml:"connect_backoff_factor"`
	ConnectCap      time.Duration `yaml:"connect_backoff_cap"`
}

// Default returns the built-in configuration defaults, matching the
// numbers enumerated in spec.md §6.
func Default() *Config {
	return &Config{
		File: FileConfig{
			MaxSizeBytes: 10 * 1024 * 1024,
		},
		LLM: LLMConfig{
			Concurrency:         4,
			ContextBudgetTokens: 90_000,
			MaxAttempts:         3,
			BackoffInitial:      time.Second,
			BackoffFactor:       2,
			BackoffCap:          30 * time.Second,
			CallTimeout:         5 * time.Minute,
			APIKeyEnv:           "ANTHROPIC_API_KEY",
			Model:               "claude-sonnet-4-5",
		},
		Queue: QueueConfig{
			DefaultAttempts: 3,
			StalledInterval: 30 * time.Second,
			LockDuration:    30 * time.Minute,
			BackoffInitial:  time.Second,
			RemoveOnComplete: 1000,
			ShutdownGrace:    30 * time.Second,
		},
		Outbox: OutboxConfig{
			PollInterval: 500 * time.Millisecond,
			BatchSize:    500,
		},
		Triangulation: TriangulationConfig{
			AgreementBoost:      0.2,
			DisagreementPenalty: 0.5,
			Threshold:           0.6,
			PassWeights: map[string]float64{
				"deterministic": 1.0,
				"global":        0.7,
				"intra-dir":     0.6,
				"intra-file":    0.5,
			},
			GraceTimeout: 2 * time.Minute,
		},
		Graph: GraphConfig{
			BatchSize: 500,
			Endpoint:  "http://localhost:7474/query",
		},
		Store: StoreConfig{
			Path: "pipeline.sqlite",
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			ConnectInitial: time.Second,
			ConnectFactor:  2,
			ConnectCap:     30 * time.Second,
		},
	}
}
