// Package cmd defines the CLI commands for the profile-extractor executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	internalconfig "github.com/JakeFAU/profile-extractor/internal/config"
	"github.com/JakeFAU/profile-extractor/internal/logging"
	"github.com/JakeFAU/profile-extractor/pkg/config"
)

// envKeyType is the context key for the per-command environment.
type envKeyType struct{}

// env is what every subcommand needs: validated config and a logger.
type env struct {
	cfg    internalconfig.Config
	logger *zap.Logger
}

// configLoads counts config initializations; cobra runs them once per
// command execution.
var configLoads atomic.Int64

func init() {
	cobra.OnInitialize(func() {
		configLoads.Add(1)
		config.InitConfig()
	})
}

// newRootCmd creates the root command and registers subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile-extractor",
		Short: "Extracts public profile data through a rotating browser session pool.",
		Long: `profile-extractor loads profile pages in a headless browser, waits for the
page to stabilize, classifies login walls and soft blocks, and extracts
profile fields with selector fallback chains. Blocked attempts are retried
on fresh sessions and every request ends in exactly one record or failure.`,
		SilenceUsage: true,

		// Runs after OnInitialize has loaded Viper.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internalconfig.FromViper(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logging.SetLogger(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKeyType{}, &env{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, ok := cmd.Context().Value(envKeyType{}).(*env); ok {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&config.File, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().Bool("development", false, "human-readable development logging")
	_ = viper.BindPFlag("logging.development", cmd.PersistentFlags().Lookup("development"))

	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newParseCmd())
	return cmd
}

func envFrom(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKeyType{}).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
