// Package cmd defines the CLI commands of the sitecheck executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecheck/internal/app"
	"github.com/JakeFAU/sitecheck/internal/clock/system"
	"github.com/JakeFAU/sitecheck/internal/config"
	"github.com/JakeFAU/sitecheck/internal/id/uuid"
	"github.com/JakeFAU/sitecheck/internal/linkcrawl"
	"github.com/JakeFAU/sitecheck/internal/logging"
	"github.com/JakeFAU/sitecheck/internal/scenario"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the service container.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Registry() *prometheus.Registry
	Runner() *scenario.Runner
	Crawler() *linkcrawl.Controller
	IDs() *uuid.Generator
	Clock() *system.Clock
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "sitecheck",
		Short: "Validates published articles against editorial and technical rules.",
		Long: `sitecheck loads every article of a blog in browser sessions, runs a set of
named checks against each page across a pool of workers, and reports every
violation grouped by check.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newVATCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// applyFlagOverrides copies explicitly set command flags over cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		n, err := flags.GetInt("workers")
		if err != nil {
			return fmt.Errorf("read workers flag: %w", err)
		}
		cfg.Runner.Concurrency = n
	}
	if flags.Changed("sequential") {
		v, err := flags.GetBool("sequential")
		if err != nil {
			return fmt.Errorf("read sequential flag: %w", err)
		}
		cfg.Runner.Sequential = v
	}
	if flags.Changed("format") {
		v, err := flags.GetString("format")
		if err != nil {
			return fmt.Errorf("read format flag: %w", err)
		}
		cfg.Report.Format = v
	}
	if flags.Changed("output") {
		v, err := flags.GetString("output")
		if err != nil {
			return fmt.Errorf("read output flag: %w", err)
		}
		cfg.Report.Output = v
	}
	return cfg.Validate()
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command until completion or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
