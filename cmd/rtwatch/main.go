// Command rtwatch is a terminal client for the realtime service: it watches
// events the way a browser tab does, publishes test events and issues
// development tokens.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/77mdias/barbershop-hub/config"
	"github.com/77mdias/barbershop-hub/logging"
)

type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     zerolog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "rtwatch",
		Short:         "Realtime event client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Logging())
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default ./barberhub.yaml)")
	flags.String("redis-addr", "localhost:6379", "redis address")
	flags.String("log-level", "info", "log level")
	_ = a.v.BindPFlag(config.KeyRedisAddr, flags.Lookup("redis-addr"))
	_ = a.v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))

	root.AddCommand(newWatchCmd(a), newPublishCmd(a), newTokenCmd(a))
	return root
}
