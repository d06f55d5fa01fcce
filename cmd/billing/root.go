package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/infrastructure/config"
	"github.com/davidleathers/division-billing/internal/infrastructure/telemetry"
)

var version = "1.0.0"

const shutdownTimeout = 5 * time.Second

// cli carries what every subcommand shares once the root pre-run has executed
type cli struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
	// shutdown flushes telemetry; set once setup succeeds
	shutdown func(ctx context.Context) error
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "billing",
		Short: "Periodic invoice generation for divisions and financers",
		Long: `billing generates the monthly invoices Hexeko issues to divisions and
divisions issue to their financers, drives the invoice lifecycle and keeps
each division's running balance.

Configuration is read from configs/billing.yaml (or --config), then from
BILLING_* environment variables. A .env file in the working directory is
loaded first when present.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newGenerateCmd(c),
		newInvoiceCmd(c),
		newBalanceCmd(c),
		newMigrateCmd(c),
		newStatusCmd(c),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	provider, err := telemetry.Initialize(cmd.Context(), cfg.Telemetry, cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	c.cfg, c.logger, c.shutdown = cfg, logger, provider.Shutdown
	logger.Debug("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("command", cmd.CommandPath()))
	return nil
}

// execute runs the command tree and always tears down afterwards; cobra skips
// post-run hooks when a command fails
func execute(ctx context.Context, root *cobra.Command, c *cli) error {
	defer c.teardown(ctx)
	return root.ExecuteContext(ctx)
}

func (c *cli) teardown(ctx context.Context) {
	if c.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := c.shutdown(ctx); err != nil && c.logger != nil {
			c.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
		c.shutdown = nil
	}
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
