package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kiarashplusplus/fiml/internal/arbiter"
	"github.com/kiarashplusplus/fiml/internal/config"
	httpserver "github.com/kiarashplusplus/fiml/internal/interfaces/http"
	"github.com/kiarashplusplus/fiml/internal/provider/adapters"
	"github.com/kiarashplusplus/fiml/internal/stream"
	"github.com/kiarashplusplus/fiml/internal/telemetry"
)

const (
	appName = "fiml"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Financial market data federation engine",
		Version: version,
		Long: `fiml federates heterogeneous market data providers behind one
arbitrated surface: it scores providers per request, executes fetches
with fallback, merges agreeing answers, and streams updates to
websocket subscribers.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the federation engine and websocket fan-out",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "config/providers.yaml", "Path to configuration file")
	serveCmd.Flags().String("addr", "", "Listen address (overrides config)")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addrOverride, _ := cmd.Flags().GetString("addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	addr := cfg.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := adapters.BuildRegistry(cfg.Providers)
	if err != nil {
		return err
	}
	if err := registry.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		registry.Shutdown(shutdownCtx)
	}()

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	engine := arbiter.NewEngine(registry, metrics)
	manager := stream.NewManager(engine, metrics)
	server := httpserver.NewServer(addr, engine, registry, manager,
		cfg.Engine.UserRegion, cfg.Engine.MaxStalenessSeconds)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	log.Info().Str("addr", addr).Int("providers", len(registry.All())).
		Msg("Federation engine up")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
