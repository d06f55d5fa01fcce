package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/domain/values"
)

const (
	coreLabel              = "Core package"
	defaultPaymentTermDays = 30
)

// AssemblerDeps wires the assembler's collaborators
type AssemblerDeps struct {
	Payers          PayerRepository
	Invoices        InvoiceRepository
	Beneficiaries   BeneficiaryCounter
	Modules         ModuleActivationOracle
	Numbers         *NumberGenerator
	VAT             *VATResolver
	Balances        *ledger.BalanceRepository
	Batches         *ledger.BatchRepository
	PaymentTermDays int
	Logger          *zap.Logger
}

// InvoiceAssembler builds, numbers and persists one payer's invoice for a period,
// then records it on the division ledger and the batch.
type InvoiceAssembler struct {
	deps    AssemblerDeps
	prorata *billing.ProrataCalculator
	logger  *zap.Logger
}

func NewInvoiceAssembler(deps AssemblerDeps) *InvoiceAssembler {
	if deps.PaymentTermDays <= 0 {
		deps.PaymentTermDays = defaultPaymentTermDays
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &InvoiceAssembler{
		deps:    deps,
		prorata: billing.NewProrataCalculator(),
		logger:  deps.Logger,
	}
}

// AssembleDivision invoices a division for the core package. A division with no
// active beneficiaries is an error, never a skip.
func (a *InvoiceAssembler) AssembleDivision(ctx context.Context, divisionID uuid.UUID, period values.Period, batchID uuid.UUID) (*billing.Invoice, error) {
	d, err := a.deps.Payers.GetDivision(ctx, divisionID)
	if err != nil {
		return nil, err
	}

	count, err := a.deps.Beneficiaries.ActiveCount(ctx, d.Ref(), period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("count beneficiaries: %w", err)
	}
	if count == 0 {
		return nil, errors.NewDomainStateError(errors.CodeNoActiveBeneficiaries,
			"cannot invoice a division with no active beneficiaries").
			WithDetails(map[string]interface{}{"division_id": d.ID.String()})
	}

	res, err := a.deps.VAT.ForDivision(d)
	if err != nil {
		return nil, err
	}

	inv, err := billing.NewInvoice(billing.InvoiceParams{
		Type:      billing.InvoiceTypeHexekoToDivision,
		Recipient: d.Ref(),
		Period:    period,
		Currency:  res.Currency,
		VATRate:   res.Rate,
		DueDate:   a.dueDate(period),
		Metadata:  a.metadata(period, batchID, nil),
		BatchID:   &batchID,
	})
	if err != nil {
		return nil, err
	}

	contract := a.prorata.Calculate(d.ContractStartDate, period.Start, period.End, nil)
	if err := inv.AddItem(billing.NewItem(billing.ItemTypeCorePackage, coreLabel, d.CorePackagePrice, count, contract, res.Rate)); err != nil {
		return nil, err
	}

	if err := a.finish(ctx, inv, &d.ID, batchID); err != nil {
		return nil, err
	}
	return inv, nil
}

// AssembleFinancer invoices a financer for the core package and each module active
// at period end. It returns nil, nil when the financer has no active beneficiaries.
func (a *InvoiceAssembler) AssembleFinancer(ctx context.Context, financerID uuid.UUID, period values.Period, batchID uuid.UUID) (*billing.Invoice, error) {
	f, err := a.deps.Payers.GetFinancer(ctx, financerID)
	if err != nil {
		return nil, err
	}

	var parent *billing.Division
	if f.HasDivision() {
		if parent, err = a.deps.Payers.GetDivision(ctx, *f.DivisionID); err != nil {
			return nil, fmt.Errorf("load parent division: %w", err)
		}
	}

	count, err := a.deps.Beneficiaries.ActiveCount(ctx, f.Ref(), period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("count beneficiaries: %w", err)
	}
	if count == 0 {
		a.logger.Info("skipping financer without active beneficiaries",
			zap.String("financer_id", f.ID.String()),
			zap.String("period", period.String()))
		return nil, nil
	}

	res, err := a.deps.VAT.ForFinancer(parent)
	if err != nil {
		return nil, err
	}

	params := billing.InvoiceParams{
		Type:      billing.InvoiceTypeDivisionToFinancer,
		Recipient: f.Ref(),
		Period:    period,
		Currency:  res.Currency,
		VATRate:   res.Rate,
		DueDate:   a.dueDate(period),
		BatchID:   &batchID,
	}
	var divisionID *uuid.UUID
	if parent != nil {
		issuer := parent.Ref()
		params.Issuer = &issuer
		divisionID = &parent.ID
	}
	params.Metadata = a.metadata(period, batchID, divisionID)

	inv, err := billing.NewInvoice(params)
	if err != nil {
		return nil, err
	}

	contract := a.prorata.Calculate(f.ContractStartDate, period.Start, period.End, nil)
	if err := inv.AddItem(billing.NewItem(billing.ItemTypeCorePackage, coreLabel, f.CorePrice(parent), count, contract, res.Rate)); err != nil {
		return nil, err
	}

	at := endOfDay(period.End)
	for _, m := range f.Modules {
		active, err := a.deps.Modules.IsActive(ctx, f.Ref(), m.ModuleID, at)
		if err != nil {
			return nil, fmt.Errorf("module %s activation: %w", m.ModuleID, err)
		}
		if !active {
			continue
		}
		window := a.prorata.Calculate(m.ActivatedAt, period.Start, period.End, m.DeactivatedAt)
		item := billing.NewItem(billing.ItemTypeModule, m.Name, m.ModulePrice(parent), count, window, res.Rate)
		moduleID := m.ModuleID
		item.ModuleID = &moduleID
		if err := inv.AddItem(item); err != nil {
			return nil, err
		}
	}

	if err := a.finish(ctx, inv, divisionID, batchID); err != nil {
		return nil, err
	}
	return inv, nil
}

// finish numbers and stores the invoice, then appends the ledger and batch events
func (a *InvoiceAssembler) finish(ctx context.Context, inv *billing.Invoice, divisionID *uuid.UUID, batchID uuid.UUID) error {
	if err := inv.CheckTotals(); err != nil {
		return err
	}

	number, err := a.deps.Numbers.Next(ctx, inv.Type, inv.PeriodEnd)
	if err != nil {
		return err
	}
	inv.Number = number

	if err := a.deps.Invoices.Create(ctx, inv); err != nil {
		return fmt.Errorf("store invoice %s: %w", inv.Number, err)
	}

	now := billing.Now()
	if divisionID != nil {
		err := a.deps.Balances.Update(ctx, *divisionID, func(b *ledger.DivisionBalance) error {
			return b.RecordInvoiceGenerated(inv.ID, inv.TotalMoney(), now)
		})
		if err != nil {
			return fmt.Errorf("record invoice on division ledger: %w", err)
		}
	}

	err = a.deps.Batches.Update(ctx, batchID, func(g *ledger.GenerationBatch) error {
		return g.RecordInvoiceCompleted(inv.ID, now)
	})
	if err != nil {
		return fmt.Errorf("record invoice on batch: %w", err)
	}
	return nil
}

func (a *InvoiceAssembler) dueDate(period values.Period) time.Time {
	return period.End.AddDate(0, 0, a.deps.PaymentTermDays)
}

func (a *InvoiceAssembler) metadata(period values.Period, batchID uuid.UUID, divisionID *uuid.UUID) billing.Metadata {
	md := billing.Metadata{
		"month_year": values.MonthYearOf(period.Start).String(),
		"batch_id":   batchID.String(),
	}
	if divisionID != nil {
		md["division_id"] = divisionID.String()
	}
	return md
}

// endOfDay is the last instant of t's UTC day, so activations during the last day count
func endOfDay(t time.Time) time.Time {
	return values.TruncateDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
