package pdf

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
	"github.com/davidleathers/division-billing/internal/infrastructure/cache"
	"github.com/davidleathers/division-billing/internal/infrastructure/config"
	"github.com/davidleathers/division-billing/internal/infrastructure/memory"
)

type mockRenderer struct {
	mock.Mock
}

func (m *mockRenderer) Render(ctx context.Context, invoice *billing.Invoice) ([]byte, error) {
	args := m.Called(ctx, invoice)
	if b := args.Get(0); b != nil {
		return b.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	ctx      context.Context
	clock    *billing.FixedClock
	invoices *memory.Store
	renderer *mockRenderer
	store    cache.BlobStore
	svc      Service
}

func pdfConfig() config.PDFConfig {
	cfg := config.Defaults().PDF
	cfg.TTLHours = 24
	cfg.RendersPerSecond = 1000
	cfg.Burst = 100
	return cfg
}

func newFixture(t *testing.T, store cache.BlobStore) *fixture {
	t.Helper()
	clock := &billing.FixedClock{At: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
	t.Cleanup(billing.SetClock(clock))

	f := &fixture{
		ctx:      context.Background(),
		clock:    clock,
		invoices: memory.NewStore(),
		renderer: &mockRenderer{},
		store:    store,
	}
	f.svc = NewService(zaptest.NewLogger(t), f.invoices, f.renderer, store, pdfConfig(), nil)
	return f
}

func fileStore(t *testing.T) cache.BlobStore {
	store, err := cache.NewFileBlobStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func (f *fixture) invoice(t *testing.T) *billing.Invoice {
	t.Helper()
	month, err := values.ParseMonthYear("2025-05")
	require.NoError(t, err)
	inv, err := billing.NewInvoice(billing.InvoiceParams{
		Type:      billing.InvoiceTypeHexekoToDivision,
		Recipient: billing.DivisionRef(uuid.New()),
		Period:    month.Period(),
		Currency:  values.EUR,
		VATRate:   values.MustVATRate("20.00"),
		DueDate:   month.End().AddDate(0, 0, 30),
	})
	require.NoError(t, err)
	inv.Number = "HEX-202505-000001"
	require.NoError(t, f.invoices.Create(f.ctx, inv))
	return inv
}

func TestGet_RendersOnceWithinTTL(t *testing.T) {
	f := newFixture(t, fileStore(t))
	inv := f.invoice(t)
	f.renderer.On("Render", mock.Anything, mock.MatchedBy(func(i *billing.Invoice) bool {
		return i.ID == inv.ID
	})).Return([]byte("%PDF-1"), nil).Once()

	data, meta, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1"), data)
	assert.Equal(t, inv.ID, meta.InvoiceID)
	assert.Equal(t, f.clock.At, meta.GeneratedAt)
	assert.Equal(t, 24, meta.TTLHours)

	f.clock.Advance(23 * time.Hour)
	data, cached, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1"), data)
	assert.True(t, meta.GeneratedAt.Equal(cached.GeneratedAt))

	f.renderer.AssertNumberOfCalls(t, "Render", 1)
}

func TestGet_ExpiredCopyIsRerendered(t *testing.T) {
	f := newFixture(t, fileStore(t))
	inv := f.invoice(t)
	f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte("%PDF-1"), nil).Once()
	f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte("%PDF-2"), nil).Once()

	_, _, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	data, meta, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-2"), data)
	assert.Equal(t, f.clock.At, meta.GeneratedAt)
	f.renderer.AssertExpectations(t)
}

// countingStore counts full entry reads
type countingStore struct {
	cache.BlobStore
	reads int
}

func (c *countingStore) Read(ctx context.Context, key string) (cache.Entry, error) {
	c.reads++
	return c.BlobStore.Read(ctx, key)
}

func TestGet_StaleSidecarSkipsDocumentRead(t *testing.T) {
	store := &countingStore{BlobStore: fileStore(t)}
	f := newFixture(t, store)
	inv := f.invoice(t)
	f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte("%PDF-1"), nil).Twice()

	_, _, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 0, store.reads)

	_, _, err = f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)

	f.clock.Advance(25 * time.Hour)
	_, _, err = f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads, "expired sidecar must not load the document")
	f.renderer.AssertNumberOfCalls(t, "Render", 2)
}

func TestGet_ForceRegenerates(t *testing.T) {
	f := newFixture(t, fileStore(t))
	inv := f.invoice(t)
	f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte("%PDF-1"), nil).Once()
	f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte("%PDF-2"), nil).Once()

	_, _, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)

	data, _, err := f.svc.Get(f.ctx, inv.ID, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-2"), data)

	// the forced copy replaced the cached one
	data, _, err = f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-2"), data)
	f.renderer.AssertNumberOfCalls(t, "Render", 2)
}

func TestGet_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewRedisBlobStore(client, "billing:pdf:", zaptest.NewLogger(t))
	t.Cleanup(func() { store.Close() })

	f := newFixture(t, store)
	inv := f.invoice(t)
	f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte("%PDF-1"), nil).Once()

	_, _, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)

	raw, err := mr.Get("billing:pdf:" + inv.ID.String() + ":meta")
	require.NoError(t, err)
	var meta Metadata
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))
	assert.Equal(t, inv.ID, meta.InvoiceID)
	assert.Equal(t, 24, meta.TTLHours)

	_, _, err = f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	f.renderer.AssertNumberOfCalls(t, "Render", 1)
}

func TestGet_CorruptSidecarIsAMiss(t *testing.T) {
	store := fileStore(t)
	f := newFixture(t, store)
	inv := f.invoice(t)
	require.NoError(t, store.Write(f.ctx, inv.ID.String(), cache.Entry{Data: []byte("old"), Meta: []byte("{")}, 0))
	f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte("%PDF-1"), nil).Once()

	data, _, err := f.svc.Get(f.ctx, inv.ID, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1"), data)
}

func TestGet_Errors(t *testing.T) {
	t.Run("unknown invoice", func(t *testing.T) {
		f := newFixture(t, fileStore(t))
		_, _, err := f.svc.Get(f.ctx, uuid.New(), false)
		assert.True(t, apperrors.IsNotFound(err))
		f.renderer.AssertNotCalled(t, "Render", mock.Anything, mock.Anything)
	})

	t.Run("renderer failure is not cached", func(t *testing.T) {
		f := newFixture(t, fileStore(t))
		inv := f.invoice(t)
		f.renderer.On("Render", mock.Anything, mock.Anything).Return(nil, errors.New("boom")).Once()

		_, _, err := f.svc.Get(f.ctx, inv.ID, false)
		require.Error(t, err)
		assert.True(t, apperrors.IsRetryable(err))

		_, err = f.store.ReadMeta(f.ctx, inv.ID.String())
		assert.True(t, cache.IsNotFound(err))
	})

	t.Run("empty document", func(t *testing.T) {
		f := newFixture(t, fileStore(t))
		inv := f.invoice(t)
		f.renderer.On("Render", mock.Anything, mock.Anything).Return([]byte{}, nil).Once()

		_, _, err := f.svc.Get(f.ctx, inv.ID, false)
		assert.Error(t, err)
	})
}

func TestMetadata_Fresh(t *testing.T) {
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := Metadata{GeneratedAt: at, TTLHours: 24}

	assert.True(t, m.Fresh(at.Add(23*time.Hour+59*time.Minute)))
	assert.False(t, m.Fresh(at.Add(24*time.Hour)))
	assert.Equal(t, at.Add(24*time.Hour), m.ExpiresAt())
}
