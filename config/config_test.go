// ABOUTME: Tests for configuration layering and validation.
// ABOUTME: Uses t.Setenv and YAML fixtures written to t.TempDir.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/buddy/workflow"
)

// clearEnv unsets variables that would leak in from the developer's shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "MODEL_ID", "BUDDY_CONFIG", "BUDDY_LLM_API_KEY", "BUDDY_LLM_MODEL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buddy.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Offline() {
		t.Error("no credential configured, want offline")
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if got := cfg.Policy(); got != workflow.DefaultPolicy() {
		t.Errorf("policy = %+v, want %+v", got, workflow.DefaultPolicy())
	}
	if cfg.Timeouts.Attempt != 2*time.Minute || cfg.Timeouts.Run != 5*time.Minute {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Conversation.Window != 20 || cfg.Pipeline.MaxResponseChars != 2000 || cfg.Pipeline.Workers != 8 {
		t.Errorf("limits = %+v / %+v", cfg.Conversation, cfg.Pipeline)
	}
	if cfg.Conversation.IdleTimeout != 30*time.Minute {
		t.Errorf("idle timeout = %s", cfg.Conversation.IdleTimeout)
	}
	if cfg.Store.Driver != "memory" || cfg.Log.Level != "info" {
		t.Errorf("store/log = %+v / %+v", cfg.Store, cfg.Log)
	}
	if cfg.LLM.SystemPrompt != workflow.DefaultSystemPrompt {
		t.Errorf("system prompt = %q", cfg.LLM.SystemPrompt)
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
llm:
  model: gpt-4.1
retry:
  initial_interval: 250ms
  max_interval: 2s
  backoff_multiplier: 1.5
  max_attempts: 5
timeouts:
  attempt: 30s
conversation:
  window: 8
  persist: true
store:
  driver: SQLite
  dsn: /tmp/runs.db
log:
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := workflow.Policy{InitialInterval: 250 * time.Millisecond, MaxInterval: 2 * time.Second, BackoffMultiplier: 1.5, MaxAttempts: 5}
	if got := cfg.Policy(); got != want {
		t.Errorf("policy = %+v, want %+v", got, want)
	}
	if cfg.LLM.Model != "gpt-4.1" || cfg.Timeouts.Attempt != 30*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Timeouts.Run != 5*time.Minute {
		t.Errorf("unset keys keep defaults, run = %s", cfg.Timeouts.Run)
	}
	if !cfg.Conversation.Persist || cfg.Conversation.Window != 8 {
		t.Errorf("conversation = %+v", cfg.Conversation)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("driver = %q, want normalised sqlite", cfg.Store.Driver)
	}
}

func TestLoadFileFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "server:\n  addr: 0.0.0.0:9999\n")
	t.Setenv("BUDDY_CONFIG", path)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9999" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "retry:\n  max_attempts: 5\nllm:\n  model: from-file\n")
	t.Setenv("BUDDY_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("MODEL_ID", "from-env")
	t.Setenv("OPENAI_API_KEY", "  sk-test  ")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:1234/v1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Retry.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d, want 7", cfg.Retry.MaxAttempts)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-test" || cfg.Offline() {
		t.Errorf("api key = %q", cfg.LLM.APIKey)
	}
	if cfg.LLM.BaseURL != "http://localhost:1234/v1" {
		t.Errorf("base url = %q", cfg.LLM.BaseURL)
	}
}

func TestPrefixedKeyWinsOverCompatibilityVariable(t *testing.T) {
	clearEnv(t)
	t.Setenv("BUDDY_LLM_API_KEY", "prefixed")
	t.Setenv("OPENAI_API_KEY", "plain")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "prefixed" {
		t.Errorf("api key = %q, want prefixed", cfg.LLM.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"shrinking multiplier", func(c *Config) { c.Retry.BackoffMultiplier = 0.5 }, "backoff_multiplier"},
		{"max below initial", func(c *Config) { c.Retry.MaxInterval = time.Millisecond }, "max_interval"},
		{"zero window", func(c *Config) { c.Conversation.Window = 0 }, "conversation.window"},
		{"negative idle timeout", func(c *Config) { c.Conversation.IdleTimeout = -time.Second }, "conversation.idle_timeout"},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }, "pipeline.workers"},
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"no run timeout", func(c *Config) { c.Timeouts.Run = 0 }, "timeouts.run"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if err := base.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatal("zero config should not validate")
	}
	for _, want := range []string{"retry.max_attempts", "conversation.window", "store.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestInvalidFileValuesRejected(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "retry:\n  max_attempts: 0\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "max_attempts") {
		t.Errorf("Load = %v, want validation error", err)
	}
}
