package generation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/infrastructure/memory"
)

var generatedAt = time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func price(v int64) *int64 { return &v }

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	service Service
	batches *ledger.BatchRepository
	balance *ledger.BalanceRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Cleanup(billing.SetClock(&billing.FixedClock{At: generatedAt}))

	store := memory.NewStore()
	lookup, err := NewConfigVATLookup(map[string]string{"FR": "20.00", "BE": "21.00"})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	balances := ledger.NewBalanceRepository(store, store, store)
	batches := ledger.NewBatchRepository(store, store, store)
	assembler := NewInvoiceAssembler(AssemblerDeps{
		Payers:        store,
		Invoices:      store,
		Beneficiaries: store,
		Modules:       store,
		Numbers:       NewNumberGenerator(store, store),
		VAT:           NewVATResolver(lookup, "FR", "EUR"),
		Balances:      balances,
		Batches:       batches,
		Logger:        logger,
	})

	return &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		service: NewService(logger, store, assembler, batches, store, nil),
		batches: batches,
		balance: balances,
	}
}

func (f *fixture) division(corePrice int64) *billing.Division {
	d := &billing.Division{
		ID:               uuid.New(),
		Name:             "Division " + uuid.NewString()[:8],
		Country:          "FR",
		Currency:         "EUR",
		CorePackagePrice: corePrice,
		Status:           billing.PayerStatusActive,
	}
	require.NoError(f.t, f.store.SaveDivision(f.ctx, d))
	return d
}

func (f *fixture) financer(divisionID *uuid.UUID, corePrice *int64, modules ...billing.FinancerModule) *billing.Financer {
	fin := &billing.Financer{
		ID:               uuid.New(),
		DivisionID:       divisionID,
		Name:             "Financer " + uuid.NewString()[:8],
		CorePackagePrice: corePrice,
		Status:           billing.PayerStatusActive,
		Modules:          modules,
	}
	require.NoError(f.t, f.store.SaveFinancer(f.ctx, fin))
	return fin
}

func (f *fixture) beneficiaries(financerID uuid.UUID, n int) {
	for i := 0; i < n; i++ {
		require.NoError(f.t, f.store.AddFinancerUser(f.ctx, financerID, uuid.New(), day(2025, 1, 1), nil))
	}
}

type mockNumberSequence struct {
	mock.Mock
}

func (m *mockNumberSequence) NextValue(ctx context.Context, invoiceType billing.InvoiceType, period string) (int64, error) {
	args := m.Called(ctx, invoiceType, period)
	return args.Get(0).(int64), args.Error(1)
}

type passthroughTx struct{}

func (passthroughTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
