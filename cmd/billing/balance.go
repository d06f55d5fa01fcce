package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBalanceCmd(c *cli) *cobra.Command {
	var replay bool
	cmd := &cobra.Command{
		Use:   "balance <division-id>",
		Short: "Show a division's running balance",
		Long: `balance prints the projected balance of a division. With --replay the
balance is rebuilt from the event log instead of read from the projection.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid division id %q: %w", args[0], err)
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				if replay {
					b, err := a.balances.Retrieve(cmd.Context(), id)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{"balance": b.State, "version": b.Version()})
				}
				state, version, err := a.balanceView.Balance(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"balance": state, "version": version})
			})
		},
	}
	cmd.Flags().BoolVar(&replay, "replay", false, "rebuild the balance from events")
	return cmd
}
