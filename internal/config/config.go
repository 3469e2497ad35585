// Package config provides configuration management for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"gopkg.in/yaml.v3"

	"taskagent/internal/logger"
)

// DefaultConfigFile is the YAML file checked when no path is given.
const DefaultConfigFile = "taskagent.yaml"

// Agent backends.
const (
	BackendFoundry = "foundry"
	BackendClaude  = "claude"
)

// Config contains all configuration for the application
type Config struct {
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
	Backend string  `yaml:"backend"`
	Foundry Foundry `yaml:"foundry"`
	Claude  Claude  `yaml:"claude"`
	Tasks   Tasks   `yaml:"tasks"`
}

// Server holds HTTP listener settings
type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Log holds logger settings
type Log struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Foundry holds the hosted agent settings. Empty ProjectEndpoint or AgentName
// is not an error: the agent simply reports itself as unconfigured.
type Foundry struct {
	ProjectEndpoint    string        `yaml:"project_endpoint"`
	AgentName          string        `yaml:"agent_name"`
	APIVersion         string        `yaml:"api_version"`
	Scope              string        `yaml:"scope"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	BreakerMaxFailures int           `yaml:"breaker_max_failures"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
}

// Claude holds Anthropic settings for the claude backend
type Claude struct {
	APIKey        string `yaml:"-"`
	Model         string `yaml:"model"`
	MaxTokens     int64  `yaml:"max_tokens"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`
}

// Tasks holds task store settings
type Tasks struct {
	DBPath string `yaml:"db_path"`
}

// Defaults returns a Config with every optional field filled in
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8000",
			ShutdownTimeout: 10 * time.Second,
		},
		Log:     Log{Level: "info"},
		Backend: BackendFoundry,
		Foundry: Foundry{
			APIVersion:         "2025-11-15-preview",
			Scope:              "https://ai.azure.com/.default",
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Claude: Claude{
			Model:         anthropic.ModelClaude3_5HaikuLatest,
			MaxTokens:     1024,
			MaxToolRounds: 8,
		},
		Tasks: Tasks{DBPath: "tasks.db"},
	}
}

// Load returns a Config using the hierarchy defaults < YAML < environment.
// A missing YAML file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigFile
	}
	if err := loadYAML(&cfg, path); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	return cfg.WithDefaults(), nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() (*Config, error) {
	cfg := Defaults()
	if err := loadEnv(&cfg); err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Get().Debug().Str("path", path).Msg("No config file, using defaults and environment")
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg. Empty values are ignored.
func loadEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "TASKAGENT_ADDR")
	setString(&cfg.Log.Level, "TASKAGENT_LOG_LEVEL")
	setString(&cfg.Backend, "AGENT_BACKEND")
	setString(&cfg.Tasks.DBPath, "TASKAGENT_DB_PATH")

	setString(&cfg.Foundry.ProjectEndpoint, "AZURE_AI_FOUNDRY_PROJECT_ENDPOINT")
	setString(&cfg.Foundry.AgentName, "AZURE_AI_FOUNDRY_AGENT_NAME")
	setString(&cfg.Foundry.APIVersion, "AZURE_AI_FOUNDRY_API_VERSION")
	setString(&cfg.Foundry.Scope, "AZURE_AI_FOUNDRY_SCOPE")

	setString(&cfg.Claude.APIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.Claude.Model, "CLAUDE_MODEL")

	if v := os.Getenv("DEBUG"); v != "" {
		cfg.Log.Pretty = v == "true"
		if cfg.Log.Pretty {
			cfg.Log.Level = "debug"
		}
	}

	if err := setInt64(&cfg.Claude.MaxTokens, "MAX_TOKENS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Claude.MaxToolRounds, "MAX_TOOL_ROUNDS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Foundry.BreakerMaxFailures, "TASKAGENT_BREAKER_MAX_FAILURES"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Foundry.BreakerTimeout, "TASKAGENT_BREAKER_TIMEOUT"); err != nil {
		return err
	}
	return setDuration(&cfg.Foundry.RequestTimeout, "AZURE_AI_FOUNDRY_REQUEST_TIMEOUT")
}

// WithDefaults sets default values for configuration fields that aren't set
func (c *Config) WithDefaults() *Config {
	d := Defaults()
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.Foundry.ProjectEndpoint = strings.TrimSpace(c.Foundry.ProjectEndpoint)
	c.Foundry.AgentName = strings.TrimSpace(c.Foundry.AgentName)

	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.Foundry.APIVersion == "" {
		c.Foundry.APIVersion = d.Foundry.APIVersion
	}
	if c.Foundry.Scope == "" {
		c.Foundry.Scope = d.Foundry.Scope
	}
	// zero means no client-side limit on remote calls
	if c.Foundry.RequestTimeout < 0 {
		c.Foundry.RequestTimeout = 0
	}
	if c.Foundry.BreakerTimeout <= 0 {
		c.Foundry.BreakerTimeout = d.Foundry.BreakerTimeout
	}
	if c.Claude.Model == "" {
		c.Claude.Model = d.Claude.Model
	}
	if c.Claude.MaxTokens <= 0 {
		c.Claude.MaxTokens = d.Claude.MaxTokens
	}
	if c.Claude.MaxToolRounds <= 0 {
		c.Claude.MaxToolRounds = d.Claude.MaxToolRounds
	}
	if c.Tasks.DBPath == "" {
		c.Tasks.DBPath = d.Tasks.DBPath
	}
	return c
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	log := logger.Get()
	log.Debug().Msg("Validating configuration")

	switch c.Backend {
	case BackendFoundry:
		if !c.Foundry.Configured() {
			log.Warn().Msg("Foundry Agent Service configuration missing. Set AZURE_AI_FOUNDRY_PROJECT_ENDPOINT and AZURE_AI_FOUNDRY_AGENT_NAME")
		}
	case BackendClaude:
		if c.Claude.APIKey == "" {
			log.Warn().Msg("ANTHROPIC_API_KEY environment variable is not set")
		}
	default:
		return fmt.Errorf("unknown agent backend %q (want %q or %q)", c.Backend, BackendFoundry, BackendClaude)
	}

	if c.Foundry.BreakerMaxFailures < 0 {
		return fmt.Errorf("breaker max failures must not be negative, got %d", c.Foundry.BreakerMaxFailures)
	}
	return nil
}

// Configured reports whether both required Foundry values are present
func (f Foundry) Configured() bool {
	return f.ProjectEndpoint != "" && f.AgentName != ""
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = d
	return nil
}
