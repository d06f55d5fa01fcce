package invoicing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/domain/values"
	"github.com/davidleathers/division-billing/internal/infrastructure/memory"
	"github.com/davidleathers/division-billing/internal/metrics"
	"github.com/davidleathers/division-billing/internal/service/generation"
)

var now = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	balances *ledger.BalanceRepository
	svc      Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Cleanup(billing.SetClock(&billing.FixedClock{At: now}))

	store := memory.NewStore()
	balances := ledger.NewBalanceRepository(store, store, store)
	registry, err := metrics.NewRegistryWithMeter(sdkmetric.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	return &fixture{
		ctx:      context.Background(),
		store:    store,
		balances: balances,
		svc:      NewService(zaptest.NewLogger(t), store, store, generation.NewNumberGenerator(store, store), balances, store, registry),
	}
}

// invoice stores a 12000 total invoice addressed to recipient
func (f *fixture) invoice(t *testing.T, invoiceType billing.InvoiceType, recipient billing.PayerRef) *billing.Invoice {
	t.Helper()
	month, err := values.ParseMonthYear("2025-05")
	require.NoError(t, err)
	period := month.Period()
	rate := values.MustVATRate("20.00")
	inv, err := billing.NewInvoice(billing.InvoiceParams{
		Type:      invoiceType,
		Recipient: recipient,
		Period:    period,
		Currency:  values.EUR,
		VATRate:   rate,
		DueDate:   period.End.AddDate(0, 0, 30),
	})
	require.NoError(t, err)
	require.NoError(t, inv.AddItem(billing.NewItem(billing.ItemTypeCorePackage, "Core package", 5000, 2, billing.FullProrata(period), rate)))
	inv.Number = invoiceType.Prefix() + "-202505-" + uuid.NewString()[:6]
	require.NoError(t, f.store.Create(f.ctx, inv))
	return inv
}

func (f *fixture) divisionInvoice(t *testing.T) (*billing.Invoice, uuid.UUID) {
	divisionID := uuid.New()
	return f.invoice(t, billing.InvoiceTypeHexekoToDivision, billing.DivisionRef(divisionID)), divisionID
}

func TestLifecycle_HappyPath(t *testing.T) {
	f := newFixture(t)
	inv, divisionID := f.divisionInvoice(t)

	got, err := f.svc.Confirm(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusConfirmed, got.Status)
	assert.Equal(t, now, *got.ConfirmedAt)

	got, err = f.svc.Send(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusSent, got.Status)

	got, err = f.svc.Send(f.ctx, inv.ID)
	require.NoError(t, err, "send is idempotent")
	assert.Equal(t, billing.InvoiceStatusSent, got.Status)

	got, err = f.svc.Pay(f.ctx, inv.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusPaid, got.Status)
	require.NotNil(t, got.AmountPaid)
	assert.Equal(t, int64(12000), *got.AmountPaid)

	stored, err := f.svc.Get(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusPaid, stored.Status)

	b, err := f.balances.Retrieve(f.ctx, divisionID)
	require.NoError(t, err)
	assert.Equal(t, int64(-12000), b.State.Balance)
	assert.Equal(t, int64(12000), b.State.TotalPaid)
}

func TestLifecycle_Guards(t *testing.T) {
	f := newFixture(t)

	t.Run("pay twice fails", func(t *testing.T) {
		inv, _ := f.divisionInvoice(t)
		_, err := f.svc.Pay(f.ctx, inv.ID, nil)
		require.NoError(t, err)

		_, err = f.svc.Pay(f.ctx, inv.ID, nil)
		assert.True(t, apperrors.IsDomainState(err))
		assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.Code(err))
	})

	t.Run("confirm non-draft fails", func(t *testing.T) {
		inv, _ := f.divisionInvoice(t)
		_, err := f.svc.Confirm(f.ctx, inv.ID)
		require.NoError(t, err)

		_, err = f.svc.Confirm(f.ctx, inv.ID)
		assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.Code(err))
		assert.Contains(t, err.Error(), "cannot confirm an invoice in status confirmed")
	})

	t.Run("send draft fails", func(t *testing.T) {
		inv, _ := f.divisionInvoice(t)
		_, err := f.svc.Send(f.ctx, inv.ID)
		assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.Code(err))
	})

	t.Run("cancel paid fails", func(t *testing.T) {
		inv, _ := f.divisionInvoice(t)
		_, err := f.svc.Pay(f.ctx, inv.ID, nil)
		require.NoError(t, err)
		_, err = f.svc.Cancel(f.ctx, inv.ID)
		assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.Code(err))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		inv, divisionID := f.divisionInvoice(t)
		zero := int64(0)
		_, err := f.svc.Pay(f.ctx, inv.ID, &zero)
		assert.True(t, apperrors.IsValidation(err))

		stored, err := f.svc.Get(f.ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, billing.InvoiceStatusDraft, stored.Status)

		b, err := f.balances.Retrieve(f.ctx, divisionID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), b.Version())
	})

	t.Run("zero amount on a paid invoice is a state error", func(t *testing.T) {
		inv, _ := f.divisionInvoice(t)
		_, err := f.svc.Pay(f.ctx, inv.ID, nil)
		require.NoError(t, err)

		zero := int64(0)
		_, err = f.svc.Pay(f.ctx, inv.ID, &zero)
		assert.True(t, apperrors.IsDomainState(err))
		assert.Equal(t, apperrors.CodeIllegalTransition, apperrors.Code(err))
	})

	t.Run("unknown invoice", func(t *testing.T) {
		_, err := f.svc.Confirm(f.ctx, uuid.New())
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestLifecycle_PartialPaymentRecordsAmount(t *testing.T) {
	f := newFixture(t)
	inv, divisionID := f.divisionInvoice(t)

	amount := int64(5000)
	got, err := f.svc.Pay(f.ctx, inv.ID, &amount)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), *got.AmountPaid)

	b, err := f.balances.Retrieve(f.ctx, divisionID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), b.State.TotalPaid)
}

func TestLifecycle_FinancerPaymentCreditsParentDivision(t *testing.T) {
	f := newFixture(t)
	divisionID := uuid.New()
	fin := &billing.Financer{ID: uuid.New(), DivisionID: &divisionID, Status: billing.PayerStatusActive}
	require.NoError(t, f.store.SaveFinancer(f.ctx, fin))
	orphan := &billing.Financer{ID: uuid.New(), Status: billing.PayerStatusActive}
	require.NoError(t, f.store.SaveFinancer(f.ctx, orphan))

	inv := f.invoice(t, billing.InvoiceTypeDivisionToFinancer, fin.Ref())
	assert.Equal(t, billing.InvoiceStatusConfirmed, inv.Status)
	_, err := f.svc.Pay(f.ctx, inv.ID, nil)
	require.NoError(t, err)

	b, err := f.balances.Retrieve(f.ctx, divisionID)
	require.NoError(t, err)
	assert.Equal(t, int64(12000), b.State.TotalPaid)

	events := f.store.EventCount()
	orphanInvoice := f.invoice(t, billing.InvoiceTypeDivisionToFinancer, orphan.Ref())
	_, err = f.svc.Pay(f.ctx, orphanInvoice.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, events, f.store.EventCount(), "no division, no ledger event")
}

func TestLifecycle_UpdateMetadataInAnyStatus(t *testing.T) {
	f := newFixture(t)
	inv, _ := f.divisionInvoice(t)
	_, err := f.svc.Pay(f.ctx, inv.ID, nil)
	require.NoError(t, err)

	got, err := f.svc.UpdateMetadata(f.ctx, inv.ID, billing.Metadata{"po_number": "PO-42"})
	require.NoError(t, err)
	assert.Equal(t, "PO-42", got.Metadata["po_number"])
	assert.Equal(t, billing.InvoiceStatusPaid, got.Status)
}

func TestBulkUpdateStatus(t *testing.T) {
	f := newFixture(t)
	valid, _ := f.divisionInvoice(t)
	unknown := uuid.New()

	result, err := f.svc.BulkUpdateStatus(f.ctx, BulkUpdateRequest{
		IDs:    []uuid.UUID{valid.ID, unknown},
		Status: billing.InvoiceStatusConfirmed,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []BulkError{{ID: unknown, Message: "Invoice not found"}}, result.Errors)

	stored, err := f.svc.Get(f.ctx, valid.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusConfirmed, stored.Status)
}

func TestBulkUpdateStatus_CollectsTransitionErrors(t *testing.T) {
	f := newFixture(t)
	draft, _ := f.divisionInvoice(t)
	paid, _ := f.divisionInvoice(t)
	_, err := f.svc.Pay(f.ctx, paid.ID, nil)
	require.NoError(t, err)

	result, err := f.svc.BulkUpdateStatus(f.ctx, BulkUpdateRequest{
		IDs:    []uuid.UUID{paid.ID, draft.ID},
		Status: billing.InvoiceStatusPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, paid.ID, result.Errors[0].ID)
	assert.Equal(t, "illegal transition: cannot pay an invoice in status paid", result.Errors[0].Message)
}

func TestBulkUpdateStatus_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  BulkUpdateRequest
	}{
		{"empty ids", BulkUpdateRequest{Status: billing.InvoiceStatusSent}},
		{"draft target", BulkUpdateRequest{IDs: []uuid.UUID{uuid.New()}, Status: billing.InvoiceStatusDraft}},
		{"unknown target", BulkUpdateRequest{IDs: []uuid.UUID{uuid.New()}, Status: "archived"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BulkUpdateStatus(f.ctx, tt.req)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func (f *fixture) division(t *testing.T) *billing.Division {
	t.Helper()
	d := &billing.Division{ID: uuid.New(), Name: "Acme", Country: "FR", Currency: values.EUR, Status: billing.PayerStatusActive}
	require.NoError(t, f.store.SaveDivision(f.ctx, d))
	return d
}

func manualRequest(recipientType billing.PayerType, recipientID uuid.UUID) CreateRequest {
	return CreateRequest{
		RecipientType: recipientType,
		RecipientID:   recipientID,
		PeriodStart:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:     time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		VATRate:       "20.00",
		Metadata:      billing.Metadata{"notes": "setup fee"},
		Items: []CreateItem{
			{ItemType: billing.ItemTypeCorePackage, Label: "Core package", BeneficiariesCount: 2, UnitPrice: 5000, Quantity: 2},
			{ItemType: billing.ItemTypeModule, Label: "Onboarding", UnitPrice: 333, Quantity: 3},
		},
	}
}

func TestCreate_DivisionInvoice(t *testing.T) {
	f := newFixture(t)
	d := f.division(t)

	inv, err := f.svc.Create(f.ctx, manualRequest(billing.PayerTypeDivision, d.ID))
	require.NoError(t, err)

	assert.Equal(t, "HEX-202505-000001", inv.Number)
	assert.Equal(t, billing.InvoiceTypeHexekoToDivision, inv.Type)
	assert.Nil(t, inv.Issuer)
	assert.Equal(t, billing.InvoiceStatusDraft, inv.Status)
	assert.Equal(t, values.EUR, inv.Currency)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), inv.DueDate)
	assert.Equal(t, "setup fee", inv.Metadata["notes"])
	require.Len(t, inv.Items, 2)
	assert.Equal(t, billing.Amounts{Subtotal: 10000, VATAmount: 2000, Total: 12000}, inv.Items[0].Amounts)
	assert.Equal(t, billing.Amounts{Subtotal: 999, VATAmount: 200, Total: 1199}, inv.Items[1].Amounts)
	assert.Equal(t, billing.Amounts{Subtotal: 10999, VATAmount: 2200, Total: 13199}, inv.Amounts)
	require.NoError(t, inv.CheckTotals())

	stored, err := f.svc.Get(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Number, stored.Number)

	b, err := f.balances.Retrieve(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(13199), b.State.TotalInvoiced)

	again, err := f.svc.Create(f.ctx, manualRequest(billing.PayerTypeDivision, d.ID))
	require.NoError(t, err)
	assert.Equal(t, "HEX-202505-000002", again.Number)
}

func TestCreate_FinancerInvoiceIsIssuedByItsDivision(t *testing.T) {
	f := newFixture(t)
	d := f.division(t)
	fin := &billing.Financer{ID: uuid.New(), DivisionID: &d.ID, Status: billing.PayerStatusActive}
	require.NoError(t, f.store.SaveFinancer(f.ctx, fin))

	req := manualRequest(billing.PayerTypeFinancer, fin.ID)
	due := time.Date(2025, 6, 15, 14, 0, 0, 0, time.UTC)
	req.DueDate = &due
	req.Currency = "eur"
	inv, err := f.svc.Create(f.ctx, req)
	require.NoError(t, err)

	assert.Equal(t, "DIV-202505-000001", inv.Number)
	assert.Equal(t, billing.InvoiceTypeDivisionToFinancer, inv.Type)
	require.NotNil(t, inv.Issuer)
	assert.Equal(t, d.Ref(), *inv.Issuer)
	assert.Equal(t, billing.InvoiceStatusDraft, inv.Status, "manual invoices start as drafts")
	assert.Nil(t, inv.ConfirmedAt)
	assert.Equal(t, values.EUR, inv.Currency)
	assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), inv.DueDate)

	b, err := f.balances.Retrieve(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Total, b.State.TotalInvoiced)

	confirmed, err := f.svc.Confirm(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoiceStatusConfirmed, confirmed.Status)
}

func TestCreate_RollsBackOnLedgerFailure(t *testing.T) {
	f := newFixture(t)
	d := f.division(t)
	_, err := f.svc.Create(f.ctx, manualRequest(billing.PayerTypeDivision, d.ID))
	require.NoError(t, err)
	events := f.store.EventCount()

	req := manualRequest(billing.PayerTypeDivision, d.ID)
	req.Currency = values.USD
	_, err = f.svc.Create(f.ctx, req)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err), "ledger currency mismatch")

	assert.Len(t, f.store.Invoices(), 1)
	assert.Equal(t, events, f.store.EventCount())

	next, err := f.svc.Create(f.ctx, manualRequest(billing.PayerTypeDivision, d.ID))
	require.NoError(t, err)
	assert.Equal(t, "HEX-202505-000002", next.Number, "the failed attempt released its number")
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	d := f.division(t)

	tests := []struct {
		name   string
		mutate func(r *CreateRequest)
		check  func(error) bool
	}{
		{"unknown recipient type", func(r *CreateRequest) { r.RecipientType = "hexeko" }, apperrors.IsValidation},
		{"missing recipient", func(r *CreateRequest) { r.RecipientID = uuid.Nil }, apperrors.IsValidation},
		{"inverted period", func(r *CreateRequest) { r.PeriodEnd = r.PeriodStart.AddDate(0, 0, -1) }, apperrors.IsValidation},
		{"bad vat rate", func(r *CreateRequest) { r.VATRate = "twenty" }, apperrors.IsValidation},
		{"no items", func(r *CreateRequest) { r.Items = nil }, apperrors.IsValidation},
		{"zero quantity", func(r *CreateRequest) { r.Items[0].Quantity = 0 }, apperrors.IsValidation},
		{"unknown item type", func(r *CreateRequest) { r.Items[1].ItemType = "fee" }, apperrors.IsValidation},
		{"malformed currency", func(r *CreateRequest) { r.Currency = "E1R" }, apperrors.IsValidation},
		{"unknown division", func(r *CreateRequest) { r.RecipientID = uuid.New() }, apperrors.IsNotFound},
		{"unknown financer", func(r *CreateRequest) {
			r.RecipientType = billing.PayerTypeFinancer
			r.RecipientID = uuid.New()
		}, apperrors.IsNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := manualRequest(billing.PayerTypeDivision, d.ID)
			tt.mutate(&req)
			_, err := f.svc.Create(f.ctx, req)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got %v", err)
		})
	}
	assert.Empty(t, f.store.Invoices())
}

func TestList(t *testing.T) {
	f := newFixture(t)
	d := f.division(t)
	first, err := f.svc.Create(f.ctx, manualRequest(billing.PayerTypeDivision, d.ID))
	require.NoError(t, err)
	_, err = f.svc.Confirm(f.ctx, first.ID)
	require.NoError(t, err)
	second, err := f.svc.Create(f.ctx, manualRequest(billing.PayerTypeDivision, d.ID))
	require.NoError(t, err)
	f.divisionInvoice(t)

	page, err := f.svc.List(f.ctx, ListRequest{RecipientID: &d.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, billing.DefaultPerPage, page.PerPage)

	page, err = f.svc.List(f.ctx, ListRequest{Status: "draft", RecipientID: &d.ID})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 1)
	assert.Equal(t, second.ID, page.Invoices[0].ID)

	page, err = f.svc.List(f.ctx, ListRequest{PerPage: 1, Page: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 3, page.LastPage)
	assert.Len(t, page.Invoices, 1)

	for _, req := range []ListRequest{{Status: "archived"}, {PerPage: 101}, {Page: -1}} {
		_, err := f.svc.List(f.ctx, req)
		assert.True(t, apperrors.IsValidation(err), "%+v", req)
	}
}
