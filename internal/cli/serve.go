package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kisan-ai/kisan-relay/internal/config"
	"github.com/kisan-ai/kisan-relay/internal/logger"
	"github.com/kisan-ai/kisan-relay/internal/metrics"
	"github.com/kisan-ai/kisan-relay/pkg/gateway"
	"github.com/kisan-ai/kisan-relay/pkg/session"
	"github.com/kisan-ai/kisan-relay/pkg/upstream"
	"github.com/kisan-ai/kisan-relay/pkg/vision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server in the foreground",
	Long: `Run the relay server in the foreground. The server accepts client
WebSocket connections on /ws and exposes /health, /metrics and /sessions.
It shuts down cleanly on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	log := lg.GetZerolog()

	log.Info().Str("version", version).Msg("Starting Kisan Relay")

	m := metrics.New()

	registry := session.NewRegistry(cfg.Session.Timeout(), cfg.Session.ContextLimit, log, m)
	sweeper := session.NewSweeper(registry, cfg.Session.SweepInterval(), log)
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("failed to start session sweeper: %w", err)
	}

	connector := upstream.NewConnector(upstream.Config{
		APIKey:       cfg.Gemini.APIKey,
		Endpoint:     cfg.Gemini.Endpoint,
		Models:       cfg.Gemini.Models,
		SystemPrompt: cfg.Gemini.SystemPrompt,
		Temperature:  cfg.Gemini.Temperature,
	}, log, m)

	analyzer, err := buildAnalyzer(cfg, log)
	if err != nil {
		return err
	}

	server, err := gateway.NewServer(gateway.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		PingInterval:  time.Duration(cfg.Server.PingIntervalSeconds) * time.Second,
		PongTimeout:   time.Duration(cfg.Server.PongTimeoutSeconds) * time.Second,
		MaxConcurrent: cfg.Session.MaxConcurrent,
	}, registry, connector, analyzer, m, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	if err := server.Stop(); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	sweeper.Stop()
	registry.RemoveAll()

	log.Info().Msg("Kisan Relay stopped")
	return nil
}

// buildAnalyzer picks the vision backend. The gemini provider reuses the
// upstream API key; anthropic needs its own.
func buildAnalyzer(cfg *config.Config, log zerolog.Logger) (*vision.Analyzer, error) {
	apiKey := cfg.Vision.APIKey
	if cfg.Vision.Provider != "anthropic" {
		apiKey = cfg.Gemini.APIKey
	}

	provider, err := vision.NewProvider(vision.Config{
		Provider: cfg.Vision.Provider,
		Model:    cfg.Vision.Model,
		APIKey:   apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create vision provider: %w", err)
	}

	return vision.NewAnalyzer(provider, log), nil
}
