package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/metrics"
	"github.com/davidleathers/division-billing/internal/service/generation"
)

func newGenerateCmd(c *cli) *cobra.Command {
	var (
		month      string
		divisionID string
		financerID string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the invoices of one billing month",
		Long: `Generate issues one invoice per active division and per active financer
with beneficiaries for the given month. The whole run is one transaction:
if any payer fails, nothing is written.`,
		Example: `  # Bill every active payer for May 2025
  billing generate --month 2025-05

  # Preview one division and its financers without writing
  billing generate --month 2025-05 --division 0b5c... --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := generation.GenerateRequest{MonthYear: month, DryRun: dryRun}
			var err error
			if req.DivisionID, err = optionalUUID("division", divisionID); err != nil {
				return err
			}
			if req.FinancerID, err = optionalUUID("financer", financerID); err != nil {
				return err
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				start := time.Now()
				result, err := a.generation.Generate(cmd.Context(), req)
				c.pushOutcome(cmd.Context(), req, result, err, time.Since(start))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}

	cmd.Flags().StringVarP(&month, "month", "m", "", "billing month as YYYY-MM")
	cmd.Flags().StringVar(&divisionID, "division", "", "restrict the run to one division and its financers")
	cmd.Flags().StringVar(&financerID, "financer", "", "restrict the run to one financer")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute the batch without writing anything")
	_ = cmd.MarkFlagRequired("month")
	cmd.MarkFlagsMutuallyExclusive("division", "financer")
	return cmd
}

// pushOutcome reports the run to the Pushgateway when one is configured
func (c *cli) pushOutcome(ctx context.Context, req generation.GenerateRequest, result *generation.GenerateResult, runErr error, d time.Duration) {
	if c.cfg.Telemetry.PushgatewayURL == "" {
		return
	}
	outcome := metrics.BatchOutcome{
		MonthYear: req.MonthYear,
		DryRun:    req.DryRun,
		Success:   runErr == nil,
		Duration:  d,
	}
	if result != nil {
		outcome.Invoices = len(result.Generated)
		outcome.Skipped = len(result.Skipped)
	}
	if err := metrics.NewBatchPusher(c.cfg.Telemetry.PushgatewayURL).Push(ctx, outcome); err != nil {
		c.logger.Warn("failed to push batch metrics", zap.Error(err))
	}
}

func optionalUUID(name, value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s id %q: %w", name, value, err)
	}
	return &id, nil
}
