// Package cli implements the parley command tree.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parley/internal/config"
	"github.com/teslashibe/go-parley/internal/log"
	"github.com/teslashibe/go-parley/pkg/app"
)

// Dependencies are resolved once the root flags are parsed.
type Dependencies struct {
	Config config.Config

	// NewApp builds the application. Tests replace it.
	NewApp func(ctx context.Context, cfg config.Config) (*app.App, error)

	configPath string
	logLevel   string
}

func defaultNewApp(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.New(ctx, cfg, app.WithLogger(log.Component("parley")))
}

// NewRootCmd returns the root command. deps may be nil.
func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps == nil {
		deps = &Dependencies{}
	}
	if deps.NewApp == nil {
		deps.NewApp = defaultNewApp
	}

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Realtime voice conversations with an AI character",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := deps.configPath
			if path == "" {
				path = config.FilePath()
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if deps.logLevel != "" {
				cfg.LogLevel = deps.logLevel
			}
			log.Setup(log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
			deps.Config = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&deps.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/parley/config.toml)")
	root.PersistentFlags().StringVar(&deps.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		NewTalkCmd(deps),
		NewServeCmd(deps),
		NewQuotaCmd(deps),
		NewSessionsCmd(deps),
	)
	return root
}

// withApp builds the app, runs fn and closes the app.
func withApp(ctx context.Context, deps *Dependencies, fn func(*app.App) error) (err error) {
	a, err := deps.NewApp(ctx, deps.Config)
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
