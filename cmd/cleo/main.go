package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/cleo/internal/config"
	"github.com/ent0n29/cleo/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:           "cleo",
	Short:         "Cleo realtime voice assistant",
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `Cleo streams microphone audio to a realtime speech model and plays the
spoken reply.

"cleo serve" runs the collaborator API and the provider relay.
"cleo talk" runs a voice session against that server.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cleo: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger error: %w", err)
	}
	return cfg, logger, nil
}
