package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/service/invoicing"
)

func newInvoiceCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Inspect invoices and move them through their lifecycle",
	}

	cmd.AddCommand(
		invoiceActionCmd(c, "show", "Print an invoice with its items", func(s invoicing.Service, cmd *cobra.Command, id uuid.UUID) (*billing.Invoice, error) {
			return s.Get(cmd.Context(), id)
		}),
		invoiceActionCmd(c, "confirm", "Confirm a draft invoice", func(s invoicing.Service, cmd *cobra.Command, id uuid.UUID) (*billing.Invoice, error) {
			return s.Confirm(cmd.Context(), id)
		}),
		invoiceActionCmd(c, "send", "Mark a confirmed invoice as sent", func(s invoicing.Service, cmd *cobra.Command, id uuid.UUID) (*billing.Invoice, error) {
			return s.Send(cmd.Context(), id)
		}),
		invoiceActionCmd(c, "cancel", "Cancel an unpaid invoice", func(s invoicing.Service, cmd *cobra.Command, id uuid.UUID) (*billing.Invoice, error) {
			return s.Cancel(cmd.Context(), id)
		}),
		newListCmd(c),
		newCreateCmd(c),
		newPayCmd(c),
		newBulkStatusCmd(c),
		newMetadataCmd(c),
		newPdfCmd(c),
	)
	return cmd
}

type invoiceAction func(s invoicing.Service, cmd *cobra.Command, id uuid.UUID) (*billing.Invoice, error)

func invoiceActionCmd(c *cli, use, short string, action invoiceAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <invoice-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid invoice id %q: %w", args[0], err)
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				inv, err := action(a.invoicing, cmd, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), inv)
			})
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	var (
		status, recipient, start, end string
		page, perPage                 int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invoices, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := invoicing.ListRequest{Status: strings.ToLower(status), Page: page, PerPage: perPage}
			var err error
			if req.RecipientID, err = optionalUUID("recipient", recipient); err != nil {
				return err
			}
			if req.PeriodStart, err = optionalDate("period-start", start); err != nil {
				return err
			}
			if req.PeriodEnd, err = optionalDate("period-end", end); err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				result, err := a.invoicing.List(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only invoices in this status")
	cmd.Flags().StringVar(&recipient, "recipient", "", "only invoices addressed to this division or financer id")
	cmd.Flags().StringVar(&start, "period-start", "", "only periods starting on or after YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "period-end", "", "only periods ending on or before YYYY-MM-DD")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 25, "invoices per page, at most 100")
	return cmd
}

func newCreateCmd(c *cli) *cobra.Command {
	var (
		recipientType, recipient, start, end string
		vatRate, currency, due               string
		items, pairs                         []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Enter a draft invoice by hand",
		Long: `create numbers and stores a draft invoice and debits the owning division.
Each --item is a comma separated list of key=value pairs:

  --item type=core_package,label="Core package",unit=5000,qty=2,beneficiaries=2
  --item type=module,label=Wellbeing,unit=250,qty=3,module=<module-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			recipientID, err := uuid.Parse(recipient)
			if err != nil {
				return fmt.Errorf("invalid recipient id %q: %w", recipient, err)
			}
			periodStart, err := time.Parse(time.DateOnly, start)
			if err != nil {
				return fmt.Errorf("invalid start date %q: %w", start, err)
			}
			periodEnd, err := time.Parse(time.DateOnly, end)
			if err != nil {
				return fmt.Errorf("invalid end date %q: %w", end, err)
			}
			dueDate, err := optionalDate("due-date", due)
			if err != nil {
				return err
			}
			md, err := parsePairs(pairs)
			if err != nil {
				return err
			}

			req := invoicing.CreateRequest{
				RecipientType: billing.PayerType(strings.ToLower(recipientType)),
				RecipientID:   recipientID,
				PeriodStart:   periodStart,
				PeriodEnd:     periodEnd,
				VATRate:       vatRate,
				Currency:      currency,
				DueDate:       dueDate,
				Metadata:      md,
			}
			for _, raw := range items {
				item, err := parseItem(raw)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
			}

			return c.withApp(cmd.Context(), func(a *app) error {
				if req.Currency == "" {
					req.Currency = c.cfg.Billing.DefaultCurrency
				}
				inv, err := a.invoicing.Create(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), inv)
			})
		},
	}
	cmd.Flags().StringVar(&recipientType, "recipient-type", "", "division or financer")
	cmd.Flags().StringVar(&recipient, "recipient", "", "division or financer id")
	cmd.Flags().StringVar(&start, "start", "", "billing period start, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "billing period end, YYYY-MM-DD")
	cmd.Flags().StringVar(&vatRate, "vat-rate", "", "VAT rate in percent, e.g. 20.00")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code (default from billing.default_currency)")
	cmd.Flags().StringVar(&due, "due-date", "", "due date, YYYY-MM-DD (default 30 days after the period end)")
	cmd.Flags().StringArrayVar(&items, "item", nil, "invoice line, repeatable")
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "metadata key=value, repeatable")
	for _, name := range []string{"recipient-type", "recipient", "start", "end", "vat-rate", "item"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// parseItem reads type=...,label=...,unit=...,qty=...[,beneficiaries=...][,module=...]
func parseItem(raw string) (invoicing.CreateItem, error) {
	var item invoicing.CreateItem
	for _, field := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			return item, fmt.Errorf("item field must be key=value, got %q", field)
		}
		v = strings.Trim(v, `"`)
		var err error
		switch k {
		case "type":
			item.ItemType = billing.ItemType(v)
		case "label":
			item.Label = v
		case "unit":
			item.UnitPrice, err = strconv.ParseInt(v, 10, 64)
		case "qty":
			item.Quantity, err = strconv.ParseInt(v, 10, 64)
		case "beneficiaries":
			item.BeneficiariesCount, err = strconv.Atoi(v)
		case "module":
			item.ModuleID, err = optionalUUID("module", v)
		default:
			return item, fmt.Errorf("unknown item field %q", k)
		}
		if err != nil {
			return item, fmt.Errorf("invalid item %s %q: %w", k, v, err)
		}
	}
	return item, nil
}

func parsePairs(pairs []string) (billing.Metadata, error) {
	md := billing.Metadata{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata must be key=value, got %q", p)
		}
		md[k] = v
	}
	return md, nil
}

func optionalDate(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return &t, nil
}

func newPayCmd(c *cli) *cobra.Command {
	var amount int64
	cmd := &cobra.Command{
		Use:   "pay <invoice-id>",
		Short: "Record a payment; the amount defaults to the invoice total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid invoice id %q: %w", args[0], err)
			}
			var paid *int64
			if cmd.Flags().Changed("amount") {
				paid = &amount
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				inv, err := a.invoicing.Pay(cmd.Context(), id, paid)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), inv)
			})
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "amount paid in minor units")
	return cmd
}

func newBulkStatusCmd(c *cli) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "bulk-status <invoice-id>...",
		Short: "Move many invoices to one status; failures are reported per invoice",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid invoice id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				result, err := a.invoicing.BulkUpdateStatus(cmd.Context(), invoicing.BulkUpdateRequest{
					IDs:    ids,
					Status: billing.InvoiceStatus(strings.ToLower(status)),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status: confirmed, sent, paid or cancelled")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func newMetadataCmd(c *cli) *cobra.Command {
	var pairs []string
	cmd := &cobra.Command{
		Use:   "metadata <invoice-id>",
		Short: "Merge key=value pairs into an invoice's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid invoice id %q: %w", args[0], err)
			}
			md, err := parsePairs(pairs)
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				inv, err := a.invoicing.UpdateMetadata(cmd.Context(), id, md)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), inv)
			})
		},
	}
	cmd.Flags().StringArrayVar(&pairs, "set", nil, "key=value, repeatable")
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func newPdfCmd(c *cli) *cobra.Command {
	var (
		output string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "pdf <invoice-id>",
		Short: "Write an invoice's PDF, rendering it when the cached copy is stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid invoice id %q: %w", args[0], err)
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				svc, err := a.pdfService(c)
				if err != nil {
					return err
				}
				data, meta, err := svc.Get(cmd.Context(), id, force)
				if err != nil {
					return err
				}
				if output == "" {
					output = id.String() + ".pdf"
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"file": output, "metadata": meta})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default <invoice-id>.pdf)")
	cmd.Flags().BoolVar(&force, "force", false, "re-render even when a fresh copy is cached")
	return cmd
}
