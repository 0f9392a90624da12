package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/north-brook/brokerd/internal/audit"
	"github.com/north-brook/brokerd/internal/config"
	"github.com/north-brook/brokerd/internal/daemon"
	"github.com/north-brook/brokerd/internal/provider"
	"github.com/north-brook/brokerd/internal/provider/ib"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Str("provider", cfg.Provider).Msg("broker daemon starting")

	// The provider is built without an audit logger (nil): its connection
	// events are logged and published as events, but not written to the
	// audit store daemon.New opens.
	gatewayProvider := newProvider(cfg, nil)

	server, err := daemon.New(cfg, gatewayProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct daemon server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start daemon")
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutdown signal received")
		server.Stop()
	}()

	server.Serve()
	log.Info().Msg("broker daemon stopped")
}

// newProvider constructs the broker gateway adapter for cfg.Provider. Only
// "ib" is supported today (config.Load already rejects any other value);
// the switch exists so adding a second adapter is a one-line addition here.
func newProvider(cfg *config.Config, auditLogger *audit.Logger) provider.Provider {
	switch cfg.Provider {
	case "ib":
		return ib.New(cfg.Gateway, auditLogger, ib.UnimplementedClientFactory)
	default:
		log.Fatal().Str("provider", cfg.Provider).Msg("unsupported provider")
		return nil
	}
}
