// Package config handles configuration loading for the huddle server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Defaults are applied before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HUDDLE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/huddle/huddle.yaml
//  3. ~/.config/huddle/huddle.yaml
//
// A .env file in the working directory is loaded first, so secrets can live
// there and be referenced from YAML.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${HUDDLE_JWT_SECRET}"
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	coordinator:
//	  tick_interval: "500ms"
//	  silence_threshold: "5s"
//	poll:
//	  default_timeout: "30s"
//	  max_timeout: "10m"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"        # WebSocket, token endpoint, health
//	  grpc_addr: "0.0.0.0:50051"       # gRPC health (optional)
//	  public_url: "wss://huddle.example/ws"
//	tailscale:
//	  enabled: false
//	  hostname: "huddle"
//	room:
//	  name: "dnd"
//	coordinator:
//	  instructions: "..."              # defaults to the Dungeon Master persona
//	  max_tool_rounds: 4
//	sessions:
//	  drain_timeout: "5s"
//	  shutdown_timeout: "10s"
//	llm:
//	  model: "gpt-4o"
//	  summary_model: "gpt-4o-mini"
//	rpc:
//	  rate_per_second: 5
//	  burst: 10
//	  replay_ttl: "5m"
//	ledger:
//	  path: "/var/lib/huddle/ledger.db"   # empty disables the ledger
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - server.http_addr unless tailscale is enabled
//   - JWT secret minimum length (32 bytes)
//   - llm.api_key presence
//   - poll.default_timeout not above poll.max_timeout
//   - logging level and format values
package config
