// Command backend projects presence and unread counters from the broker into
// Redis, where pushd serves them to polling clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/77mdias/barbershop-hub/broker"
	"github.com/77mdias/barbershop-hub/config"
	"github.com/77mdias/barbershop-hub/logging"
	"github.com/77mdias/barbershop-hub/store"
)

func main() {
	v := config.New()
	var configFile string

	cmd := &cobra.Command{
		Use:           "backend",
		Short:         "Presence and unread counter projection",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file (default ./barberhub.yaml)")
	cmd.Flags().String("redis-addr", "localhost:6379", "redis address")
	_ = v.BindPFlag(config.KeyRedisAddr, cmd.Flags().Lookup("redis-addr"))

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := logging.New(cfg.Logging())
	logger.Info().Msg("Starting backend projection service")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	messageBroker, err := broker.NewRedisBroker(cfg.RedisAddr, logger)
	if err != nil {
		return fmt.Errorf("create redis broker: %w", err)
	}
	defer messageBroker.Close()
	logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("Connected to Redis broker")

	projection := store.NewStore(messageBroker.Client())

	listeners := []func(context.Context) error{
		func(ctx context.Context) error {
			return store.ListenForPresenceEvents(ctx, messageBroker, projection, logger)
		},
		func(ctx context.Context) error {
			return store.ListenForEvents(ctx, messageBroker, projection, logger)
		},
	}

	var (
		wg       sync.WaitGroup
		firstErr error
		once     sync.Once
	)
	for _, listen := range listeners {
		wg.Add(1)
		go func(listen func(context.Context) error) {
			defer wg.Done()
			if err := listen(ctx); err != nil {
				once.Do(func() { firstErr = err })
				cancel()
			}
		}(listen)
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	wg.Wait()
	return firstErr
}
