// ABOUTME: Entry point for the huddle room server
// ABOUTME: Wires the cobra command tree, config path resolution and .env loading

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  _               _     _ _
 | |__  _   _  __| | __| | | ___
 | '_ \| | | |/ _' |/ _' | |/ _ \
 | | | | |_| | (_| | (_| | |  __/
 |_| |_|\__,_|\__,_|\__,_|_|\___|
`

// getConfigPath returns the path to the huddle config file.
// Priority: HUDDLE_CONFIG env var > XDG_CONFIG_HOME/huddle/huddle.yaml > ~/.config/huddle/huddle.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HUDDLE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "huddle.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "huddle", "huddle.yaml")
}

// getDataPath returns the path to the huddle data directory.
// Priority: XDG_DATA_HOME/huddle > ~/.local/share/huddle
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "huddle")
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "huddle",
		Short:         "Host a voice and text room with an AI coordinator",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $HUDDLE_CONFIG or ~/.config/huddle/huddle.yaml)")

	resolve := func() string {
		if configPath != "" {
			return configPath
		}
		return getConfigPath()
	}

	root.AddCommand(
		newServeCmd(resolve),
		newInitCmd(resolve),
		newTokenCmd(resolve),
		newHealthCmd(resolve),
	)
	return root
}

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
