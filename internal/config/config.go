// Package config loads runtime configuration from a JSON5 file with
// environment expansion for secrets, and watches it for live changes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/titanous/json5"
)

// Config is the full runtime configuration.
type Config struct {
	Listen       string `json:"listen"`
	DefaultAgent string `json:"defaultAgent"`
	SystemPrompt string `json:"systemPrompt"`

	// ToolCallTimeoutSec bounds each wait on a peer tool result.
	// Zero waits until the session closes.
	ToolCallTimeoutSec int `json:"toolCallTimeoutSec"`

	// MaxTurns bounds model round trips per conversational run.
	MaxTurns int `json:"maxTurns"`

	RateLimit RateLimitConfig `json:"rateLimit"`

	Agents        []AgentConfig        `json:"agents"`
	Workflows     []WorkflowConfig     `json:"workflows"`
	ToolProviders []ToolProviderConfig `json:"toolProviders"`

	Telemetry TelemetryConfig `json:"telemetry"`
}

// RateLimitConfig bounds run/trigger requests per client.
type RateLimitConfig struct {
	RPM   int `json:"rpm"`
	Burst int `json:"burst"`
}

// AgentConfig binds one named agent to a model endpoint.
type AgentConfig struct {
	Name    string `json:"name"`
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl"`
	Model   string `json:"model"`
}

// WorkflowConfig binds one named runner to a workflow platform.
type WorkflowConfig struct {
	Name       string `json:"name"`
	BaseURL    string `json:"baseUrl"`
	APIKey     string `json:"apiKey"`
	User       string `json:"user"`
	TimeoutSec int    `json:"timeoutSec"`
}

// ToolProviderConfig binds one remote tool provider to an MCP endpoint.
type ToolProviderConfig struct {
	Name       string            `json:"name"`
	Endpoint   string            `json:"endpoint"`
	Headers    map[string]string `json:"headers"`
	TimeoutSec int               `json:"timeoutSec"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled"`
	Endpoint    string            `json:"endpoint"`
	Protocol    string            `json:"protocol"`
	Insecure    bool              `json:"insecure"`
	ServiceName string            `json:"serviceName"`
	Headers     map[string]string `json:"headers"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Listen:       "127.0.0.1:8787",
		DefaultAgent: DefaultAgentName,
		MaxTurns:     10,
		RateLimit:    RateLimitConfig{RPM: 60, Burst: 10},
	}
}

// Load reads a JSON5 config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.expandSecrets()
	cfg.normalize()
	return cfg, nil
}

// expandSecrets resolves ${ENV_VAR} references in credential fields so
// keys stay out of config files.
func (c *Config) expandSecrets() {
	for i := range c.Agents {
		c.Agents[i].APIKey = os.ExpandEnv(c.Agents[i].APIKey)
	}
	for i := range c.Workflows {
		c.Workflows[i].APIKey = os.ExpandEnv(c.Workflows[i].APIKey)
	}
	for i := range c.ToolProviders {
		for k, v := range c.ToolProviders[i].Headers {
			c.ToolProviders[i].Headers[k] = os.ExpandEnv(v)
		}
	}
}

func (c *Config) normalize() {
	if c.Listen == "" {
		c.Listen = Default().Listen
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = Default().MaxTurns
	}
	for i := range c.Agents {
		c.Agents[i].Name = NormalizeAgentName(c.Agents[i].Name)
	}
	c.DefaultAgent = NormalizeAgentName(c.DefaultAgent)
}

// ToolCallTimeout returns the configured wait bound as a duration.
func (c *Config) ToolCallTimeout() time.Duration {
	return time.Duration(c.ToolCallTimeoutSec) * time.Second
}
