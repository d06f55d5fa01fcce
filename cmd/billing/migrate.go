package main

import (
	"github.com/spf13/cobra"

	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

func newMigrateCmd(c *cli) *cobra.Command {
	var upSteps, downSteps int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or revert database migrations",
	}

	run := func(fn func(m *database.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, err := database.NewMigrator(c.cfg.Database.URL, c.logger)
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE:  run(func(m *database.Migrator) error { return m.Up(upSteps) }),
	}
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations, one by default",
		Args:  cobra.NoArgs,
		RunE:  run(func(m *database.Migrator) error { return m.Down(downSteps) }),
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
	}
	versionCmd.RunE = run(func(m *database.Migrator) error {
		v, dirty, err := m.Version()
		if err != nil {
			return err
		}
		return printJSON(versionCmd.OutOrStdout(), map[string]any{"version": v, "dirty": dirty})
	})

	up.Flags().IntVarP(&upSteps, "steps", "n", 0, "number of migrations to apply (0 = all)")
	down.Flags().IntVarP(&downSteps, "steps", "n", 1, "number of migrations to revert (0 = all)")
	cmd.AddCommand(up, down, versionCmd)
	return cmd
}
