package generation

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
)

func TestGenerate_DivisionAndItsFinancers(t *testing.T) {
	f := newFixture(t)
	d := f.division(5000)
	fin := f.financer(&d.ID, nil)
	f.beneficiaries(fin.ID, 2)

	result, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", DivisionID: &d.ID})
	require.NoError(t, err)

	assert.Equal(t, ledger.BatchStatusCompleted, result.Status)
	assert.Equal(t, "2025-05", result.MonthYear)
	assert.Equal(t, 2, result.TotalInvoices)
	require.Len(t, result.Generated, 2)

	invoices := f.store.Invoices()
	require.Len(t, invoices, 2)

	divisionInvoice := invoices[1]
	assert.Equal(t, "HEX-202505-000001", divisionInvoice.Number)
	assert.Equal(t, billing.InvoiceStatusDraft, divisionInvoice.Status)
	assert.Nil(t, divisionInvoice.Issuer)
	assert.Equal(t, int64(10000), divisionInvoice.Subtotal)
	assert.Equal(t, int64(2000), divisionInvoice.VATAmount)
	assert.Equal(t, int64(12000), divisionInvoice.Total)
	require.Len(t, divisionInvoice.Items, 1)
	assert.Equal(t, int64(2), divisionInvoice.Items[0].Quantity)
	assert.Equal(t, day(2025, 6, 30), divisionInvoice.DueDate)
	assert.Equal(t, "2025-05", divisionInvoice.Metadata["month_year"])
	assert.Equal(t, result.BatchID.String(), divisionInvoice.Metadata["batch_id"])

	financerInvoice := invoices[0]
	assert.Equal(t, "DIV-202505-000001", financerInvoice.Number)
	assert.Equal(t, billing.InvoiceStatusConfirmed, financerInvoice.Status)
	require.NotNil(t, financerInvoice.ConfirmedAt)
	require.NotNil(t, financerInvoice.Issuer)
	assert.Equal(t, d.Ref(), *financerInvoice.Issuer)
	assert.Equal(t, int64(12000), financerInvoice.Total, "financer inherits the division core price")
	assert.Equal(t, d.ID.String(), financerInvoice.Metadata["division_id"])

	b, err := f.balance.Retrieve(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(24000), b.State.Balance)

	batch, err := f.batches.Retrieve(f.ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BatchStatusCompleted, batch.State.Status)
	assert.Equal(t, 2, batch.State.CompletedCount)
	assert.Equal(t, 2, batch.State.TotalInvoices)
}

func TestGenerate_SharedBeneficiaryIsBilledPerFinancer(t *testing.T) {
	f := newFixture(t)
	d := f.division(5000)
	first := f.financer(&d.ID, nil)
	second := f.financer(&d.ID, nil)
	shared := uuid.New()
	require.NoError(t, f.store.AddFinancerUser(f.ctx, first.ID, shared, day(2025, 1, 1), nil))
	require.NoError(t, f.store.AddFinancerUser(f.ctx, second.ID, shared, day(2025, 1, 1), nil))

	_, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", DivisionID: &d.ID})
	require.NoError(t, err)

	var divisionInvoice *billing.Invoice
	for _, inv := range f.store.Invoices() {
		if inv.Type == billing.InvoiceTypeHexekoToDivision {
			divisionInvoice = inv
		}
	}
	require.NotNil(t, divisionInvoice)
	require.Len(t, divisionInvoice.Items, 1)
	assert.Equal(t, int64(2), divisionInvoice.Items[0].Quantity)
	assert.Equal(t, int64(10000), divisionInvoice.Subtotal)
}

func TestGenerate_FinancerWithModule(t *testing.T) {
	f := newFixture(t)
	d := f.division(5000)
	moduleID := uuid.New()
	fin := f.financer(&d.ID, price(6000), billing.FinancerModule{
		ModuleID:            moduleID,
		Name:                "Wellbeing",
		PricePerBeneficiary: price(2000),
	})
	f.beneficiaries(fin.ID, 2)

	result, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", FinancerID: &fin.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalInvoices)
	require.Len(t, result.Generated, 1)

	inv, err := f.store.Get(f.ctx, result.Generated[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(16000), inv.Subtotal)
	assert.Equal(t, int64(3200), inv.VATAmount)
	assert.Equal(t, int64(19200), inv.Total)
	require.Len(t, inv.Items, 2)
	assert.Equal(t, billing.ItemTypeCorePackage, inv.Items[0].ItemType)
	assert.Equal(t, int64(12000), inv.Items[0].Subtotal)
	assert.Equal(t, billing.ItemTypeModule, inv.Items[1].ItemType)
	assert.Equal(t, int64(4000), inv.Items[1].Subtotal)
	require.NotNil(t, inv.Items[1].ModuleID)
	assert.Equal(t, moduleID, *inv.Items[1].ModuleID)
}

func TestGenerate_ModuleActivatedMidMonthIsProrated(t *testing.T) {
	f := newFixture(t)
	activated := day(2025, 5, 16)
	fin := f.financer(nil, price(0), billing.FinancerModule{
		ModuleID:            uuid.New(),
		Name:                "Sport",
		PricePerBeneficiary: price(2000),
		ActivatedAt:         &activated,
	})
	f.beneficiaries(fin.ID, 2)

	result, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", FinancerID: &fin.ID})
	require.NoError(t, err)

	inv, err := f.store.Get(f.ctx, result.Generated[0].ID)
	require.NoError(t, err)
	require.Len(t, inv.Items, 2)
	module := inv.Items[1]
	assert.True(t, decimal.RequireFromString("0.5161").Equal(module.ProrataPercentage))
	assert.Equal(t, 16, module.ProrataDays)
	assert.Equal(t, 31, module.TotalDays)
	assert.Equal(t, int64(2064), module.Subtotal)

	assert.Nil(t, inv.Issuer, "a financer without division is invoiced without issuer")
	assert.Equal(t, "EUR", inv.Currency)
	assert.Equal(t, "20.00", inv.VATRate.String())
}

func TestGenerate_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	d := f.division(5000)
	fin := f.financer(&d.ID, nil)
	f.beneficiaries(fin.ID, 2)

	result, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", DivisionID: &d.ID, DryRun: true})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, result.BatchID)
	assert.Equal(t, ledger.BatchStatusDryRun, result.Status)
	assert.Equal(t, 2, result.TotalInvoices)
	assert.Empty(t, result.Generated)
	assert.Empty(t, f.store.Invoices())
	assert.Equal(t, 0, f.store.EventCount())

	_, err = f.batches.Retrieve(f.ctx, result.BatchID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGenerate_FinancerWithoutBeneficiariesIsSkipped(t *testing.T) {
	f := newFixture(t)
	fin := f.financer(nil, price(6000))

	result, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", FinancerID: &fin.ID})
	require.NoError(t, err)

	assert.Empty(t, result.Generated)
	assert.Equal(t, []billing.PayerRef{fin.Ref()}, result.Skipped)
	assert.Empty(t, f.store.Invoices())

	batch, err := f.batches.Retrieve(f.ctx, result.BatchID)
	require.NoError(t, err)
	assert.Equal(t, ledger.BatchStatusCompleted, batch.State.Status)
	assert.Equal(t, 0, batch.State.CompletedCount)
	assert.Equal(t, 0, batch.State.FailedCount)
}

func TestGenerate_DivisionWithoutBeneficiariesFails(t *testing.T) {
	f := newFixture(t)
	d := f.division(5000)

	result, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", DivisionID: &d.ID})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsDomainState(err))
	assert.Equal(t, apperrors.CodeNoActiveBeneficiaries, apperrors.Code(err))
	assert.Contains(t, err.Error(), d.ID.String())
	assert.Equal(t, 0, f.store.EventCount())
}

func TestGenerate_FailureRollsBackTheWholeRun(t *testing.T) {
	f := newFixture(t)
	first := f.division(5000)
	second := f.division(7000)
	for _, d := range []*billing.Division{first, second} {
		fin := f.financer(&d.ID, nil)
		f.beneficiaries(fin.ID, 1)
	}

	creates := 0
	boom := errors.New("disk full")
	f.store.Fault = func(op string) error {
		if op == "create_invoice" {
			creates++
			if creates == 3 {
				return boom
			}
		}
		return nil
	}

	_, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "financer:")
	assert.Empty(t, f.store.Invoices())
	assert.Equal(t, 0, f.store.EventCount())

	f.store.Fault = nil
	result, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05"})
	require.NoError(t, err)
	assert.Len(t, result.Generated, 4)
	assert.Equal(t, "HEX-202505-000001", f.store.Invoices()[2].Number, "numbers from the failed run are reused")
}

func TestGenerate_UnknownVATCountry(t *testing.T) {
	f := newFixture(t)
	d := f.division(5000)
	d.Country = "XX"
	require.NoError(t, f.store.SaveDivision(f.ctx, d))
	fin := f.financer(&d.ID, nil)
	f.beneficiaries(fin.ID, 1)

	_, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", DivisionID: &d.ID})
	assert.Equal(t, apperrors.CodeUnknownVATCountry, apperrors.Code(err))
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	tests := []struct {
		name string
		req  GenerateRequest
	}{
		{"missing month", GenerateRequest{}},
		{"malformed month", GenerateRequest{MonthYear: "05/2025"}},
		{"month out of range", GenerateRequest{MonthYear: "2025-13"}},
		{"both filters", GenerateRequest{MonthYear: "2025-05", DivisionID: &id, FinancerID: &id}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Generate(f.ctx, tt.req)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}

	_, err := f.service.Generate(f.ctx, GenerateRequest{MonthYear: "2025-05", DivisionID: &id})
	assert.True(t, apperrors.IsNotFound(err))
}
