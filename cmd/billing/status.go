package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check database health and ledger projection consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app) error {
				report, err := database.NewMonitor(a.pool, c.logger, nil).RunHealthCheck(cmd.Context())
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Healthy {
					return fmt.Errorf("database is unhealthy")
				}
				return nil
			})
		},
	}
}
