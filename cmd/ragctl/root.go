package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"grantrag/internal/config"
	"grantrag/internal/platform/logger"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "ragctl",
		Short:         "Build and query the grant document index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "path to config.toml (overrides CONFIG_FILE)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	cmd.AddCommand(newIndexCmd(opts), newAskCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	if o.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", o.configFile); err != nil {
			return nil, nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if !o.verbose {
		return cfg, zap.NewNop(), nil
	}
	log, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
