package pdf

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/infrastructure/cache"
	"github.com/davidleathers/division-billing/internal/infrastructure/config"
	"github.com/davidleathers/division-billing/internal/infrastructure/telemetry"
	"github.com/davidleathers/division-billing/internal/metrics"
)

var _ Service = (*service)(nil)

type service struct {
	logger   *zap.Logger
	invoices InvoiceReader
	renderer Renderer
	store    cache.BlobStore
	limiter  *rate.Limiter
	ttlHours int
	ttl      time.Duration
	metrics  *metrics.Registry
	tracer   *telemetry.Tracer
}

// NewService creates the PDF cache gateway. registry may be nil.
func NewService(
	logger *zap.Logger,
	invoices InvoiceReader,
	renderer Renderer,
	store cache.BlobStore,
	cfg config.PDFConfig,
	registry *metrics.Registry,
) Service {
	return &service{
		logger:   logger,
		invoices: invoices,
		renderer: renderer,
		store:    store,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RendersPerSecond), cfg.Burst),
		ttlHours: cfg.TTLHours,
		ttl:      cfg.TTL(),
		metrics:  registry,
		tracer:   telemetry.NewTracer("billing.pdf"),
	}
}

func (s *service) Get(ctx context.Context, invoiceID uuid.UUID, forceRegenerate bool) (data []byte, meta *Metadata, err error) {
	ctx, span := s.tracer.Start(ctx, "pdf.get", map[string]interface{}{
		"invoice_id": invoiceID,
		"force":      forceRegenerate,
	})
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	logger := telemetry.WithTrace(ctx, s.logger).With(zap.String("invoice_id", invoiceID.String()))
	key := invoiceID.String()

	if !forceRegenerate {
		cachedData, cachedMeta, ok := s.cached(ctx, logger, key)
		s.recordLookup(ctx, ok)
		if ok {
			return cachedData, cachedMeta, nil
		}
	}

	return s.regenerate(ctx, logger, invoiceID, key)
}

// cached returns the stored copy when it is still fresh. The sidecar is checked
// before the document is loaded. Store errors count as a miss.
func (s *service) cached(ctx context.Context, logger *zap.Logger, key string) ([]byte, *Metadata, bool) {
	raw, err := s.store.ReadMeta(ctx, key)
	if err != nil {
		s.logReadFailure(logger, err)
		return nil, nil, false
	}
	if _, ok := s.fresh(logger, raw); !ok {
		return nil, nil, false
	}

	// the entry may have been replaced since the sidecar was read
	entry, err := s.store.Read(ctx, key)
	if err != nil {
		s.logReadFailure(logger, err)
		return nil, nil, false
	}
	meta, ok := s.fresh(logger, entry.Meta)
	if !ok {
		return nil, nil, false
	}
	return entry.Data, meta, true
}

func (s *service) fresh(logger *zap.Logger, raw []byte) (*Metadata, bool) {
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		logger.Warn("corrupt pdf sidecar, regenerating", zap.Error(err))
		return nil, false
	}
	if !meta.Fresh(billing.Now()) {
		logger.Debug("cached pdf expired", zap.Time("expired_at", meta.ExpiresAt()))
		return nil, false
	}
	return &meta, true
}

func (s *service) logReadFailure(logger *zap.Logger, err error) {
	if !cache.IsNotFound(err) {
		logger.Warn("pdf cache read failed, regenerating", zap.Error(err))
	}
}

func (s *service) regenerate(ctx context.Context, logger *zap.Logger, invoiceID uuid.UUID, key string) ([]byte, *Metadata, error) {
	inv, err := s.invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("pdf render throttled: %w", err)
	}

	start := time.Now()
	data, err := s.renderer.Render(ctx, inv)
	if err != nil {
		return nil, nil, errors.NewExternalError("pdf_renderer", "failed to render invoice").WithCause(err)
	}
	if len(data) == 0 {
		return nil, nil, errors.NewExternalError("pdf_renderer", "renderer returned an empty document")
	}
	if s.metrics != nil {
		s.metrics.RecordPdfRender(ctx, time.Since(start))
	}

	meta := &Metadata{
		InvoiceID:   invoiceID,
		GeneratedAt: billing.Now(),
		TTLHours:    s.ttlHours,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, nil, errors.NewInternalError("failed to encode pdf metadata").WithCause(err)
	}

	// the sidecar decides freshness; the store expiry only bounds storage
	if err := s.store.Write(ctx, key, cache.Entry{Data: data, Meta: raw}, 2*s.ttl); err != nil {
		return nil, nil, fmt.Errorf("failed to store pdf: %w", err)
	}

	logger.Info("pdf rendered",
		zap.String("invoice_number", inv.Number),
		zap.Int("bytes", len(data)))
	return data, meta, nil
}

func (s *service) recordLookup(ctx context.Context, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordPdfLookup(ctx, hit)
	}
}
