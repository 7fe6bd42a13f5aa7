// ABOUTME: Configuration loading and parsing for the huddle server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultInstructions is the coordinator persona used when none is configured.
const DefaultInstructions = "You are a Dungeon Master for a D&D game. Your goal is to guide the players through a scenario. " +
	"Engage the participants, describe the scene, and use your tools to make it interactive. " +
	"You can send private messages, polls, popups, and generate images using tool calls. " +
	"Please respond with only plain text paragraph without markdown formatting. " +
	"Respond with maximum of 5 sentences."

// Config represents the complete huddle configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale"`
	Auth        AuthConfig        `yaml:"auth"`
	Room        RoomConfig        `yaml:"room"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Poll        PollConfig        `yaml:"poll"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	LLM         LLMConfig         `yaml:"llm"`
	RPC         RPCConfig         `yaml:"rpc"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	// PublicURL is the WebSocket URL handed to clients by the token endpoint.
	PublicURL string `yaml:"public_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// AuthConfig holds participant token configuration
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`
}

// RoomConfig names the hosted room
type RoomConfig struct {
	Name string `yaml:"name"`
}

// CoordinatorConfig holds turn-taking configuration
type CoordinatorConfig struct {
	Instructions  string `yaml:"instructions"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`

	TickInterval     time.Duration `yaml:"-"`
	SilenceThreshold time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TickIntervalRaw     string `yaml:"tick_interval"`
	SilenceThresholdRaw string `yaml:"silence_threshold"`
}

// PollConfig holds poll timing configuration
type PollConfig struct {
	DefaultTimeout    time.Duration `yaml:"-"`
	MaxTimeout        time.Duration `yaml:"-"`
	DefaultTimeoutRaw string        `yaml:"default_timeout"`
	MaxTimeoutRaw     string        `yaml:"max_timeout"`
}

// SessionsConfig holds session teardown timing
type SessionsConfig struct {
	DrainTimeout       time.Duration `yaml:"-"`
	ShutdownTimeout    time.Duration `yaml:"-"`
	DrainTimeoutRaw    string        `yaml:"drain_timeout"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout"`
}

// LLMConfig holds language model configuration
type LLMConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"`
}

// RPCConfig holds participant RPC limits
type RPCConfig struct {
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	ReplayTTL     time.Duration `yaml:"-"`
	ReplayTTLRaw  string        `yaml:"replay_ttl"`
}

// LedgerConfig holds audit ledger configuration. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML content.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"coordinator.tick_interval", cfg.Coordinator.TickIntervalRaw, &cfg.Coordinator.TickInterval},
		{"coordinator.silence_threshold", cfg.Coordinator.SilenceThresholdRaw, &cfg.Coordinator.SilenceThreshold},
		{"poll.default_timeout", cfg.Poll.DefaultTimeoutRaw, &cfg.Poll.DefaultTimeout},
		{"poll.max_timeout", cfg.Poll.MaxTimeoutRaw, &cfg.Poll.MaxTimeout},
		{"sessions.drain_timeout", cfg.Sessions.DrainTimeoutRaw, &cfg.Sessions.DrainTimeout},
		{"sessions.shutdown_timeout", cfg.Sessions.ShutdownTimeoutRaw, &cfg.Sessions.ShutdownTimeout},
		{"rpc.replay_ttl", cfg.RPC.ReplayTTLRaw, &cfg.RPC.ReplayTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Room.Name, "huddle")
	setDefault(&c.Coordinator.Instructions, DefaultInstructions)
	setDefault(&c.LLM.Model, "gpt-4o")
	setDefault(&c.LLM.SummaryModel, "gpt-4o-mini")
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
	setDefault(&c.Metrics.Path, "/metrics")

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 6 * time.Hour
	}
	if c.Coordinator.TickInterval == 0 {
		c.Coordinator.TickInterval = 500 * time.Millisecond
	}
	if c.Coordinator.SilenceThreshold == 0 {
		c.Coordinator.SilenceThreshold = 5 * time.Second
	}
	if c.Coordinator.MaxToolRounds == 0 {
		c.Coordinator.MaxToolRounds = 4
	}
	if c.Poll.DefaultTimeout == 0 {
		c.Poll.DefaultTimeout = 30 * time.Second
	}
	if c.Poll.MaxTimeout == 0 {
		c.Poll.MaxTimeout = 10 * time.Minute
	}
	if c.Sessions.DrainTimeout == 0 {
		c.Sessions.DrainTimeout = 5 * time.Second
	}
	if c.Sessions.ShutdownTimeout == 0 {
		c.Sessions.ShutdownTimeout = 10 * time.Second
	}
	if c.RPC.RatePerSecond == 0 {
		c.RPC.RatePerSecond = 5
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = 10
	}
	if c.RPC.ReplayTTL == 0 {
		c.RPC.ReplayTTL = 5 * time.Minute
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}

	if c.Coordinator.TickInterval < 0 || c.Coordinator.SilenceThreshold < 0 {
		return fmt.Errorf("coordinator durations must be positive")
	}
	if c.Coordinator.MaxToolRounds < 0 {
		return fmt.Errorf("coordinator.max_tool_rounds must not be negative")
	}

	if c.Poll.DefaultTimeout < 0 || c.Poll.MaxTimeout < 0 {
		return fmt.Errorf("poll durations must be positive")
	}
	if c.Poll.DefaultTimeout > c.Poll.MaxTimeout {
		return fmt.Errorf("poll.default_timeout %s exceeds poll.max_timeout %s", c.Poll.DefaultTimeout, c.Poll.MaxTimeout)
	}

	if c.RPC.RatePerSecond < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc.rate_per_second and rpc.burst must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}
