package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration
type Config struct {
	// DataDir is the root for per-project state and sandboxes
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the control-plane HTTP bind address
	ListenAddr string `yaml:"listen_addr"`

	Log    LogConfig    `yaml:"log"`
	Agent  AgentConfig  `yaml:"agent"`
	Linear LinearConfig `yaml:"linear"`
	Worker WorkerConfig `yaml:"worker"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AgentConfig configures the sub-agent runtime
type AgentConfig struct {
	// APIKey is the Anthropic API key for the API-backed runtime
	APIKey string `yaml:"api_key"`
	// Model is the model identifier passed to the runtime
	Model string `yaml:"model"`
	// CLIPath is the agent binary for the CLI runtime (looked up on PATH
	// when empty)
	CLIPath string `yaml:"cli_path"`
	// MaxTokens bounds a single model response
	MaxTokens int `yaml:"max_tokens"`
}

// LinearConfig configures the ticket-system client and webhook
type LinearConfig struct {
	APIKey        string `yaml:"api_key"`
	APIURL        string `yaml:"api_url"`
	TeamID        string `yaml:"team_id"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// WorkerConfig configures the execution engine
type WorkerConfig struct {
	// MaxConcurrentLeads bounds simultaneously running Team Leads
	MaxConcurrentLeads int `yaml:"max_concurrent_leads"`
	// MaxTurns is the per-stage turn budget
	MaxTurns int `yaml:"max_turns"`
	// RetryCount is extra full-pipeline attempts after a failed task
	RetryCount int `yaml:"retry_count"`
}

// Default returns the configuration used when nothing is specified
func Default() *Config {
	return &Config{
		DataDir:    "./data",
		ListenAddr: ":8765",
		Log:        LogConfig{Level: "info"},
		Agent: AgentConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 8192,
		},
		Linear: LinearConfig{
			APIURL: "https://api.linear.app/graphql",
		},
		Worker: WorkerConfig{
			MaxConcurrentLeads: 3,
			MaxTurns:           25,
			RetryCount:         1,
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// FOREMAN_* environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from FOREMAN_* environment variables
func (c *Config) applyEnv() {
	setStr := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setStr("FOREMAN_DATA_DIR", &c.DataDir)
	setStr("FOREMAN_LISTEN_ADDR", &c.ListenAddr)
	setStr("FOREMAN_LOG_LEVEL", &c.Log.Level)
	setBool("FOREMAN_LOG_JSON", &c.Log.JSON)
	setStr("FOREMAN_ANTHROPIC_API_KEY", &c.Agent.APIKey)
	setStr("FOREMAN_AGENT_MODEL", &c.Agent.Model)
	setStr("FOREMAN_AGENT_CLI_PATH", &c.Agent.CLIPath)
	setInt("FOREMAN_AGENT_MAX_TOKENS", &c.Agent.MaxTokens)
	setStr("FOREMAN_LINEAR_API_KEY", &c.Linear.APIKey)
	setStr("FOREMAN_LINEAR_API_URL", &c.Linear.APIURL)
	setStr("FOREMAN_LINEAR_TEAM_ID", &c.Linear.TeamID)
	setStr("FOREMAN_LINEAR_WEBHOOK_SECRET", &c.Linear.WebhookSecret)
	setInt("FOREMAN_WORKER_MAX_CONCURRENT_LEADS", &c.Worker.MaxConcurrentLeads)
	setInt("FOREMAN_WORKER_MAX_TURNS", &c.Worker.MaxTurns)
	setInt("FOREMAN_WORKER_RETRY_COUNT", &c.Worker.RetryCount)
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Worker.MaxConcurrentLeads < 1 {
		return fmt.Errorf("worker.max_concurrent_leads must be at least 1, got %d", c.Worker.MaxConcurrentLeads)
	}
	if c.Worker.MaxTurns < 1 {
		return fmt.Errorf("worker.max_turns must be at least 1, got %d", c.Worker.MaxTurns)
	}
	if c.Worker.RetryCount < 0 {
		return fmt.Errorf("worker.retry_count must not be negative, got %d", c.Worker.RetryCount)
	}
	return nil
}

// ProjectsDir is where per-project checkpoint files live
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.DataDir, "projects")
}

// SandboxDir is the per-service working directory for stage workers
func (c *Config) SandboxDir(projectID, service string) string {
	return filepath.Join(c.DataDir, "sandboxes", projectID, service)
}
