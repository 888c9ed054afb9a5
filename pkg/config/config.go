// Package config loads chatstream configuration from YAML files, a .env file
// and CHATSTREAM_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/events"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/transcript"
	"gopkg.in/yaml.v3"
)

// Config holds the complete chatstream configuration
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Threads    ThreadsConfig    `yaml:"threads"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Transcript TranscriptConfig `yaml:"transcript"`
	Events     EventsConfig     `yaml:"events"`
	Stop       StopConfig       `yaml:"stop"`
}

// BackendConfig holds the chat backend connection settings
type BackendConfig struct {
	BaseURL      string          `yaml:"base_url"`
	APIKey       string          `yaml:"api_key"`
	DefaultModel string          `yaml:"default_model"`
	Models       []string        `yaml:"models"`
	Timeout      time.Duration   `yaml:"timeout"`
	Roles        map[string]Role `yaml:"roles"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig guards the backend after repeated server failures
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// Role is a named preset: a system prompt appended to the first round and the
// model to use.
type Role struct {
	Prompt      string `yaml:"prompt"`
	Model       string `yaml:"model"`
	Description string `yaml:"description"`
}

// ThreadsConfig holds streaming thread settings
type ThreadsConfig struct {
	MaxAutoContinueRounds int `yaml:"max_auto_continue_rounds"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TranscriptConfig selects where transcripts are kept
type TranscriptConfig struct {
	Driver string                 `yaml:"driver"` // memory, redis
	Redis  transcript.RedisConfig `yaml:"redis"`
}

// EventsConfig holds lifecycle event publishing settings
type EventsConfig struct {
	Enabled bool               `yaml:"enabled"`
	Kafka   events.KafkaConfig `yaml:"kafka"`
}

// StopConfig holds the retry settings for stop notifications
type StopConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:      "http://localhost:8000/v1",
			DefaultModel: "gpt-4.1",
			Models:       []string{"gpt-4.1", "gpt-3.5-turbo"},
			Roles: map[string]Role{
				"assistant": {
					Prompt:      "You are a helpful assistant.",
					Model:       "gpt-3.5-turbo",
					Description: "General purpose assistant",
				},
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
		Threads: ThreadsConfig{
			MaxAutoContinueRounds: continuation.DefaultMaxRounds,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Transcript: TranscriptConfig{
			Driver: "memory",
			Redis:  transcript.DefaultRedisConfig(),
		},
		Events: EventsConfig{
			Kafka: events.DefaultKafkaConfig(),
		},
		Stop: StopConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
		},
	}
}

// Model resolves the model for an explicit choice, a role preset, then the
// default.
func (c *BackendConfig) Model(explicit, role string) string {
	if explicit != "" {
		return explicit
	}
	if r, ok := c.Roles[role]; ok && r.Model != "" {
		return r.Model
	}
	return c.DefaultModel
}

// Validate checks the values the client cannot run without
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Threads.MaxAutoContinueRounds < 0 {
		return fmt.Errorf("threads.max_auto_continue_rounds must not be negative")
	}
	switch c.Transcript.Driver {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown transcript driver %q", c.Transcript.Driver)
	}
	if c.Backend.CircuitBreaker.Enabled && c.Backend.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("backend.circuit_breaker.failure_threshold must be at least 1")
	}
	if c.Events.Enabled && len(c.Events.Kafka.Brokers) == 0 {
		return fmt.Errorf("events.kafka.brokers is required when events are enabled")
	}
	return nil
}

// Paths holds the files Load reads, in override order.
type Paths struct {
	Global  string
	Project string
	Env     string
}

// ConfigPaths returns the global and project config directories
func ConfigPaths() (globalDir, projectDir string) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	globalDir = filepath.Join(home, ".chatstream")
	projectDir = ".chatstream"
	return
}

// DefaultPaths returns ~/.chatstream/config.yaml, .chatstream/config.yaml and .env
func DefaultPaths() Paths {
	globalDir, projectDir := ConfigPaths()
	return Paths{
		Global:  filepath.Join(globalDir, "config.yaml"),
		Project: filepath.Join(projectDir, "config.yaml"),
		Env:     ".env",
	}
}

// Load loads configuration from the default paths
func Load() (*Config, error) {
	return LoadFrom(DefaultPaths())
}

// LoadFrom merges defaults, the global file, the project file, the .env file
// and the environment. Missing files are skipped.
func LoadFrom(paths Paths) (*Config, error) {
	cfg := Default()

	for _, path := range []string{paths.Global, paths.Project} {
		if path == "" {
			continue
		}
		if err := loadYAMLConfig(path, &cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if paths.Env != "" {
		if err := godotenv.Load(paths.Env); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", paths.Env, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadYAMLConfig loads a YAML config file into cfg
func loadYAMLConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides to cfg
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CHATSTREAM_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CHATSTREAM_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("CHATSTREAM_MODEL"); v != "" {
		cfg.Backend.DefaultModel = v
	}
	if v := os.Getenv("CHATSTREAM_MAX_ROUNDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CHATSTREAM_MAX_ROUNDS %q: %w", v, err)
		}
		cfg.Threads.MaxAutoContinueRounds = n
	}
	if v := os.Getenv("CHATSTREAM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATSTREAM_REDIS_ADDR"); v != "" {
		cfg.Transcript.Driver = "redis"
		cfg.Transcript.Redis.Addr = v
	}
	if v := os.Getenv("CHATSTREAM_KAFKA_BROKERS"); v != "" {
		cfg.Events.Enabled = true
		cfg.Events.Kafka.Brokers = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes cfg to the global config file
func Save(cfg *Config) error {
	return SaveTo(DefaultPaths().Global, cfg)
}

// SaveTo writes cfg to path, creating its directory
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}
