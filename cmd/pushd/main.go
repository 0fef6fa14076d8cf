// Command pushd is the push server: it delivers broker events to SSE and
// WebSocket clients and serves the fallback polling endpoints.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/77mdias/barbershop-hub/auth"
	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/config"
	"github.com/77mdias/barbershop-hub/hub"
	"github.com/77mdias/barbershop-hub/logging"
	"github.com/77mdias/barbershop-hub/server"
	"github.com/77mdias/barbershop-hub/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "pushd",
		Short:         "Realtime push server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default ./barberhub.yaml)")
	flags.String("addr", ":8080", "listen address")
	flags.String("redis-addr", "localhost:6379", "redis address")
	flags.Bool("dev-tokens", false, "mount POST /token")
	flags.String("log-level", "info", "log level")

	for key, flag := range map[string]string{
		config.KeyAddr:      "addr",
		config.KeyRedisAddr: "redis-addr",
		config.KeyDevTokens: "dev-tokens",
		config.KeyLogLevel:  "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := logging.New(cfg.Logging())

	secret, err := cfg.Secret()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	messageBroker, err := broker.NewRedisBroker(cfg.RedisAddr, logger)
	if err != nil {
		logger.Error().Err(err).Str("redis_addr", cfg.RedisAddr).Msg("Failed to create Redis broker")
		return err
	}

	sessions := hub.New(logger)
	handler := server.NewHandler(server.Options{
		Hub:       sessions,
		Broker:    messageBroker,
		Issuer:    auth.NewIssuer(secret, cfg.TokenTTL),
		Summaries: store.NewStore(messageBroker.Client()),
		KeepAlive: cfg.KeepAlive,
		DevTokens: cfg.DevTokens,
		Logger:    logger,
	})
	limiter := server.NewRateLimiter(cfg.RateLimit, cfg.RateBurst, 0)
	defer limiter.Close()

	srv := server.NewServer(cfg.Addr, handler.Routes(limiter), logger)

	go func() {
		if err := handler.ListenForEvents(ctx); err != nil {
			logger.Error().Err(err).Msg("Event listener stopped")
			cancel()
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			srv.Shutdown(context.Background(), sessions, messageBroker)
			return err
		}
	}

	srv.Shutdown(context.Background(), sessions, messageBroker)
	return nil
}
