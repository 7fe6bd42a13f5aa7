// ABOUTME: huddle subcommands: serve, init, token and health
// ABOUTME: serve prints the startup banner and runs the gateway until interrupted

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/coven-huddle/internal/auth"
	"github.com/2389/coven-huddle/internal/config"
	"github.com/2389/coven-huddle/internal/gateway"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the room server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath())
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Room:      %s\n", cfg.Room.Name)
	green.Print("    ▶ ")
	fmt.Printf("Model:     %s (summary %s)\n", cfg.LLM.Model, cfg.LLM.SummaryModel)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Silence:   %s\n", cfg.Coordinator.SilenceThreshold)
	green.Print("    ▶ ")
	if cfg.Ledger.Path != "" {
		fmt.Printf("Ledger:    %s\n", cfg.Ledger.Path)
	} else {
		fmt.Print("Ledger:    ")
		yellow.Println("disabled")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting huddle",
		"config", configPath,
		"room", cfg.Room.Name,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func newInitCmd(configPath func() string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config with a random token secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout(), configPath(), getDataPath(), force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

const configTemplate = `# huddle configuration
# Generated by huddle init

server:
  http_addr: "localhost:8080"
  grpc_addr: "localhost:50051"

auth:
  jwt_secret: "%s"
  token_ttl: "6h"

room:
  name: "huddle"

coordinator:
  tick_interval: "500ms"
  silence_threshold: "5s"

llm:
  api_key: "${OPENAI_API_KEY}"
  model: "gpt-4o"
  summary_model: "gpt-4o-mini"

ledger:
  path: "%s"

logging:
  level: "info"
  format: "text"
`

func runInit(out io.Writer, configPath, dataPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	ledgerPath := filepath.Join(dataPath, "ledger.db")
	content := fmt.Sprintf(configTemplate, secret, ledgerPath)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(out, "  ✓ Created config: %s\n", configPath)
	fmt.Fprintln(out, "    Set OPENAI_API_KEY (or edit llm.api_key), then run: huddle serve")
	return nil
}

func newTokenCmd(configPath func() string) *cobra.Command {
	var identity, room string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a participant token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runToken(cmd.OutOrStdout(), cfg, identity, room, ttl)
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "participant identity (required)")
	cmd.Flags().StringVar(&room, "room", "", "room name (default: the configured room)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func runToken(out io.Writer, cfg *config.Config, identity, room string, ttl time.Duration) error {
	if room == "" {
		room = cfg.Room.Name
	}
	if ttl <= 0 {
		ttl = cfg.Auth.TokenTTL
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(identity, room, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}

func newHealthCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server liveness, room readiness and gRPC health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

// httpBase is the address the health command probes.
func httpBase(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

func probe(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

func runHealth(ctx context.Context, out io.Writer, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	base := httpBase(cfg)
	status, _, err := probe(ctx, base+"/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}
	fmt.Fprintln(out, "healthy")

	status, body, err := probe(ctx, base+"/ready")
	if err != nil {
		return fmt.Errorf("readiness check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("not ready: %s", body)
	}
	fmt.Fprintln(out, body)

	if cfg.Server.GRPCAddr == "" || cfg.Tailscale.Enabled {
		return nil
	}
	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to gRPC: %w", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: gateway.HealthService})
	if err != nil {
		return fmt.Errorf("gRPC health check failed: %w", err)
	}
	fmt.Fprintf(out, "grpc %s: %s\n", gateway.HealthService, resp.GetStatus())
	return nil
}
