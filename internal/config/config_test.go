// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, durations and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func minimalYAML(extra string) string {
	return `
server:
  http_addr: "127.0.0.1:8080"
auth:
  jwt_secret: "` + testSecret + `"
llm:
  api_key: "sk-test"
` + extra
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "huddle.yaml")
	content := `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  public_url: "wss://huddle.example/ws"

auth:
  jwt_secret: "` + testSecret + `"
  token_ttl: "2h"

room:
  name: "dnd"

coordinator:
  instructions: "You narrate."
  tick_interval: "250ms"
  silence_threshold: "3s"
  max_tool_rounds: 2

poll:
  default_timeout: "45s"
  max_timeout: "5m"

sessions:
  drain_timeout: "2s"
  shutdown_timeout: "20s"

llm:
  api_key: "sk-test"
  base_url: "http://localhost:11434/v1"
  model: "gpt-4.1"
  summary_model: "gpt-4.1-mini"

rpc:
  rate_per_second: 2.5
  burst: 4
  replay_ttl: "1m"

ledger:
  path: "./ledger.db"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/prom"
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "0.0.0.0:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "wss://huddle.example/ws", cfg.Server.PublicURL)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "dnd", cfg.Room.Name)
	assert.Equal(t, "You narrate.", cfg.Coordinator.Instructions)
	assert.Equal(t, 250*time.Millisecond, cfg.Coordinator.TickInterval)
	assert.Equal(t, 3*time.Second, cfg.Coordinator.SilenceThreshold)
	assert.Equal(t, 2, cfg.Coordinator.MaxToolRounds)
	assert.Equal(t, 45*time.Second, cfg.Poll.DefaultTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Poll.MaxTimeout)
	assert.Equal(t, 2*time.Second, cfg.Sessions.DrainTimeout)
	assert.Equal(t, 20*time.Second, cfg.Sessions.ShutdownTimeout)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, "gpt-4.1-mini", cfg.LLM.SummaryModel)
	assert.InDelta(t, 2.5, cfg.RPC.RatePerSecond, 0)
	assert.Equal(t, 4, cfg.RPC.Burst)
	assert.Equal(t, time.Minute, cfg.RPC.ReplayTTL)
	assert.Equal(t, "./ledger.db", cfg.Ledger.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/prom", cfg.Metrics.Path)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML("")))
	require.NoError(t, err)

	assert.Equal(t, "huddle", cfg.Room.Name)
	assert.Equal(t, DefaultInstructions, cfg.Coordinator.Instructions)
	assert.Equal(t, 500*time.Millisecond, cfg.Coordinator.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.SilenceThreshold)
	assert.Equal(t, 4, cfg.Coordinator.MaxToolRounds)
	assert.Equal(t, 30*time.Second, cfg.Poll.DefaultTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Poll.MaxTimeout)
	assert.Equal(t, 5*time.Second, cfg.Sessions.DrainTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sessions.ShutdownTimeout)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.SummaryModel)
	assert.Equal(t, 6*time.Hour, cfg.Auth.TokenTTL)
	assert.InDelta(t, 5.0, cfg.RPC.RatePerSecond, 0)
	assert.Equal(t, 10, cfg.RPC.Burst)
	assert.Equal(t, 5*time.Minute, cfg.RPC.ReplayTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Ledger.Path)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("HUDDLE_TEST_SECRET", testSecret)
	t.Setenv("HUDDLE_TEST_KEY", "sk-from-env")

	cfg, err := Parse([]byte(`
server:
  http_addr: "127.0.0.1:8080"
auth:
  jwt_secret: "${HUDDLE_TEST_SECRET}"
llm:
  api_key: "${HUDDLE_TEST_KEY}"
  base_url: "${HUDDLE_TEST_UNSET}"
`))
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	assert.Empty(t, cfg.LLM.BaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(minimalYAML("coordinator:\n  silence_threshold: \"soon\"\n")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordinator.silence_threshold")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http addr",
			yaml:    "auth:\n  jwt_secret: \"" + testSecret + "\"\nllm:\n  api_key: k\n",
			wantErr: "server.http_addr is required",
		},
		{
			name:    "tailscale without hostname",
			yaml:    "tailscale:\n  enabled: true\nauth:\n  jwt_secret: \"" + testSecret + "\"\nllm:\n  api_key: k\n",
			wantErr: "tailscale.hostname is required",
		},
		{
			name:    "short secret",
			yaml:    "server:\n  http_addr: \":8080\"\nauth:\n  jwt_secret: short\nllm:\n  api_key: k\n",
			wantErr: "at least 32 bytes",
		},
		{
			name:    "missing api key",
			yaml:    "server:\n  http_addr: \":8080\"\nauth:\n  jwt_secret: \"" + testSecret + "\"\n",
			wantErr: "llm.api_key is required",
		},
		{
			name:    "default timeout above max",
			yaml:    minimalYAML("poll:\n  default_timeout: \"20m\"\n"),
			wantErr: "exceeds poll.max_timeout",
		},
		{
			name:    "negative tool rounds",
			yaml:    minimalYAML("coordinator:\n  max_tool_rounds: -1\n"),
			wantErr: "max_tool_rounds",
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML("logging:\n  level: loud\n"),
			wantErr: "logging.level",
		},
		{
			name:    "bad log format",
			yaml:    minimalYAML("logging:\n  format: xml\n"),
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "got %v", err)
		})
	}
}

func TestValidate_TailscaleWithoutHTTPAddr(t *testing.T) {
	cfg, err := Parse([]byte("tailscale:\n  enabled: true\n  hostname: huddle\nauth:\n  jwt_secret: \"" + testSecret + "\"\nllm:\n  api_key: k\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Tailscale.Enabled)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HUDDLE_A", "alpha")
	assert.Equal(t, "x-alpha-", expandEnvVars("x-${HUDDLE_A}-${HUDDLE_NOT_SET_ANYWHERE}"))
	assert.Equal(t, "$HUDDLE_A", expandEnvVars("$HUDDLE_A"))
}
