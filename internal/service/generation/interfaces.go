package generation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/domain/values"
)

// Service runs month-end invoice generation
type Service interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// GenerateRequest selects the month and, optionally, a single division or financer.
// DivisionID and FinancerID are mutually exclusive.
type GenerateRequest struct {
	MonthYear  string     `json:"month_year" validate:"required,datetime=2006-01"`
	DivisionID *uuid.UUID `json:"division_id,omitempty"`
	FinancerID *uuid.UUID `json:"financer_id,omitempty"`
	DryRun     bool       `json:"dry_run"`
}

type GenerateResult struct {
	BatchID       uuid.UUID          `json:"batch_id"`
	MonthYear     string             `json:"month_year"`
	TotalInvoices int                `json:"total_invoices"`
	Status        ledger.BatchStatus `json:"status"`
	Generated     []InvoiceSummary   `json:"generated,omitempty"`
	Skipped       []billing.PayerRef `json:"skipped,omitempty"`
}

type InvoiceSummary struct {
	ID        uuid.UUID           `json:"id"`
	Number    string              `json:"invoice_number"`
	Type      billing.InvoiceType `json:"type"`
	Recipient billing.PayerRef    `json:"recipient"`
	Total     values.Money        `json:"total"`
}

func summarize(inv *billing.Invoice) InvoiceSummary {
	return InvoiceSummary{
		ID:        inv.ID,
		Number:    inv.Number,
		Type:      inv.Type,
		Recipient: inv.Recipient,
		Total:     inv.TotalMoney(),
	}
}

// PayerRepository reads the billing hierarchy
type PayerRepository interface {
	GetDivision(ctx context.Context, id uuid.UUID) (*billing.Division, error)
	GetFinancer(ctx context.Context, id uuid.UUID) (*billing.Financer, error)
	ListActiveDivisions(ctx context.Context) ([]*billing.Division, error)
	ListActiveFinancers(ctx context.Context, divisionID *uuid.UUID) ([]*billing.Financer, error)
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *billing.Invoice) error
}

// BeneficiaryCounter counts distinct users active at any time in [start, end]
type BeneficiaryCounter interface {
	ActiveCount(ctx context.Context, payer billing.PayerRef, start, end time.Time) (int, error)
}

// ModuleActivationOracle reports whether a payer had a module on at an instant
type ModuleActivationOracle interface {
	IsActive(ctx context.Context, payer billing.PayerRef, moduleID uuid.UUID, at time.Time) (bool, error)
}

// NumberSequence returns the next counter value for (type, YYYYMM), starting at 1
type NumberSequence interface {
	NextValue(ctx context.Context, invoiceType billing.InvoiceType, period string) (int64, error)
}

// VatRateLookup is the flat per-country VAT table
type VatRateLookup interface {
	RateFor(country string) (values.VATRate, bool)
}
