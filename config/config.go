// ABOUTME: Layered configuration for buddy: defaults, an optional YAML file, then environment variables.
// ABOUTME: Also maps the loaded values onto the retry policy and validates them before startup.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/2389-research/buddy/conversation"
	"github.com/2389-research/buddy/logging"
	"github.com/2389-research/buddy/workflow"
)

// EnvPrefix prefixes every environment override, e.g. BUDDY_RETRY_MAX_ATTEMPTS.
const EnvPrefix = "BUDDY"

// Config holds every setting buddy reads at startup.
type Config struct {
	DataDir      string             `mapstructure:"data_dir"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Retry        RetryConfig        `mapstructure:"retry"`
	Timeouts     TimeoutConfig      `mapstructure:"timeouts"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Store        StoreConfig        `mapstructure:"store"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          logging.Config     `mapstructure:"log"`
}

// LLMConfig selects and configures the generation backend.
type LLMConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RetryConfig mirrors workflow.Policy.
type RetryConfig struct {
	InitialInterval   time.Duration `mapstructure:"initial_interval"`
	MaxInterval       time.Duration `mapstructure:"max_interval"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
}

// TimeoutConfig bounds stage attempts and whole runs.
type TimeoutConfig struct {
	Attempt time.Duration `mapstructure:"attempt"`
	Run     time.Duration `mapstructure:"run"`
}

// ConversationConfig controls per-session history.
type ConversationConfig struct {
	Window      int           `mapstructure:"window"`
	Persist     bool          `mapstructure:"persist"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"` // 0 keeps sessions until forgotten
}

// PipelineConfig tunes generation and the supervisor.
type PipelineConfig struct {
	MaxToolRounds    int `mapstructure:"max_tool_rounds"`
	MaxResponseChars int `mapstructure:"max_response_chars"`
	Workers          int `mapstructure:"workers"`
	QueueSize        int `mapstructure:"queue_size"`
}

// StoreConfig selects where run records are kept.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	policy := workflow.DefaultPolicy()

	v.SetDefault("data_dir", "")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.system_prompt", workflow.DefaultSystemPrompt)
	v.SetDefault("llm.request_timeout", 60*time.Second)

	v.SetDefault("retry.initial_interval", policy.InitialInterval)
	v.SetDefault("retry.max_interval", policy.MaxInterval)
	v.SetDefault("retry.backoff_multiplier", policy.BackoffMultiplier)
	v.SetDefault("retry.max_attempts", policy.MaxAttempts)

	v.SetDefault("timeouts.attempt", workflow.DefaultAttemptTimeout)
	v.SetDefault("timeouts.run", workflow.DefaultRunTimeout)

	v.SetDefault("conversation.window", 20)
	v.SetDefault("conversation.persist", false)
	v.SetDefault("conversation.idle_timeout", conversation.DefaultIdleTimeout)

	v.SetDefault("pipeline.max_tool_rounds", workflow.DefaultMaxToolRounds)
	v.SetDefault("pipeline.max_response_chars", workflow.DefaultMaxResponseChars)
	v.SetDefault("pipeline.workers", workflow.DefaultWorkers)
	v.SetDefault("pipeline.queue_size", workflow.DefaultQueueSize)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("server.addr", "127.0.0.1:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration. path names a YAML file; when empty, BUDDY_CONFIG
// is consulted, and with neither only defaults and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The conventional OpenAI variables keep working alongside the prefixed ones.
	bindings := map[string][]string{
		"llm.api_key":  {"BUDDY_LLM_API_KEY", "OPENAI_API_KEY"},
		"llm.base_url": {"BUDDY_LLM_BASE_URL", "OPENAI_BASE_URL"},
		"llm.model":    {"BUDDY_LLM_MODEL", "MODEL_ID"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LLM.APIKey = strings.TrimSpace(cfg.LLM.APIKey)
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.InitialInterval < 0 {
		errs = append(errs, fmt.Errorf("retry.initial_interval must not be negative, got %s", c.Retry.InitialInterval))
	}
	if c.Retry.BackoffMultiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_multiplier must be at least 1, got %g", c.Retry.BackoffMultiplier))
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, fmt.Errorf("retry.max_interval %s is below retry.initial_interval %s",
			c.Retry.MaxInterval, c.Retry.InitialInterval))
	}
	if c.Timeouts.Attempt <= 0 {
		errs = append(errs, errors.New("timeouts.attempt must be positive"))
	}
	if c.Timeouts.Run <= 0 {
		errs = append(errs, errors.New("timeouts.run must be positive"))
	}
	if c.Conversation.Window < 1 {
		errs = append(errs, fmt.Errorf("conversation.window must be at least 1, got %d", c.Conversation.Window))
	}
	if c.Conversation.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("conversation.idle_timeout must not be negative, got %s", c.Conversation.IdleTimeout))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size must be at least 1, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.MaxToolRounds < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_tool_rounds must be at least 1, got %d", c.Pipeline.MaxToolRounds))
	}
	if c.Pipeline.MaxResponseChars < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_response_chars must be at least 1, got %d", c.Pipeline.MaxResponseChars))
	}
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory, sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Offline reports whether no API credential is configured.
func (c *Config) Offline() bool {
	return c.LLM.APIKey == ""
}

// Policy returns the retry policy for pipeline stages.
func (c *Config) Policy() workflow.Policy {
	return workflow.Policy{
		InitialInterval:   c.Retry.InitialInterval,
		MaxInterval:       c.Retry.MaxInterval,
		BackoffMultiplier: c.Retry.BackoffMultiplier,
		MaxAttempts:       c.Retry.MaxAttempts,
	}
}
