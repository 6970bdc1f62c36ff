// Discode - chat platform to coding agent bridge daemon.
//
// The daemon joins a chat platform, routes channel messages into coding
// agent terminals, receives agent hook events over localhost HTTP and
// streams live terminal frames over a unix socket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/discode-sh/discode/internal/bridge"
	"github.com/discode-sh/discode/internal/config"
	"github.com/discode-sh/discode/internal/state"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// A local .env is a development convenience; absence is not an error.
	godotenv.Load()

	logLevel := slog.LevelInfo
	if os.Getenv("DISCODE_LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:     "discode",
		Short:   "Bridge between chat platforms and coding agents",
		Version: Version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.Default()
	logger.Info("Starting discode", "version", Version)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.HookToken == "" {
		logger.Warn("No hook token configured, hook requests will be rejected")
	}

	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("failed to resolve config directory: %w", err)
	}
	store, err := state.LoadProjects(filepath.Join(configDir, "projects.json"))
	if err != nil {
		return fmt.Errorf("failed to load project state: %w", err)
	}
	logger.Info("Project state loaded", "projects", len(store.ListProjects()))

	client := newConsoleClient(logger)

	b := bridge.New(cfg, store, client, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	<-ctx.Done()

	logger.Info("Shutting down...")
	b.Stop()
	return nil
}
