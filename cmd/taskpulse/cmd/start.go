package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/taskpulse/internal/app"
	"github.com/brianly1003/taskpulse/internal/config"
)

var (
	host        string
	port        int
	brokerURL   string
	noHotReload bool
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the taskpulse server",
	Long: `Start the HTTP API and WebSocket gateway.

Without a Redis URL the server runs with an in-process broker and only
reaches clients connected to this instance.

Example:
  taskpulse start
  taskpulse start --port 9000
  taskpulse start --redis redis://localhost:6379/0`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&host, "host", "", "listen host (default: 127.0.0.1)")
	startCmd.Flags().IntVar(&port, "port", 0, "listen port (default: 8000)")
	startCmd.Flags().StringVar(&brokerURL, "redis", "", "redis URL; selects the redis broker")
	startCmd.Flags().BoolVar(&noHotReload, "no-hot-reload", false, "do not watch the config file for log level changes")
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyStartFlags(cfg)

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	if !noHotReload {
		loader.Watch(func(next *config.Config) {
			setupLogging(next)
			log.Info().Str("level", next.Logging.Level).Msg("logging reconfigured")
		})
	}

	log.Info().
		Str("version", version).
		Str("broker", cfg.Broker.Driver).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("config", loader.ConfigFileUsed()).
		Msg("starting taskpulse")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info().Msg("received shutdown signal")
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("taskpulse stopped")
	return nil
}

func applyStartFlags(cfg *config.Config) {
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if brokerURL != "" {
		cfg.Broker.Driver = config.BrokerRedis
		cfg.Broker.RedisURL = brokerURL
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
