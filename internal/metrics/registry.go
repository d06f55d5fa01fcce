package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the billing engine's metrics
type Registry struct {
	meter metric.Meter

	// Generation
	InvoicesGenerated metric.Int64Counter
	InvoicesSkipped   metric.Int64Counter
	BatchRuns         metric.Int64Counter
	BatchFailures     metric.Int64Counter
	BatchDuration     metric.Float64Histogram
	InvoiceTotal      metric.Int64Histogram
	BatchesInProgress metric.Int64ObservableGauge

	// Lifecycle
	LifecycleTransitions metric.Int64Counter

	// PDF cache
	PdfCacheHits   metric.Int64Counter
	PdfCacheMisses metric.Int64Counter
	PdfRenderTime  metric.Float64Histogram

	mu             sync.RWMutex
	runningBatches int64
}

// NewRegistry creates the registry on the global meter provider
func NewRegistry(meterName string) (*Registry, error) {
	return NewRegistryWithMeter(otel.Meter(meterName))
}

func NewRegistryWithMeter(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}

	if err := r.initGenerationMetrics(); err != nil {
		return nil, err
	}
	if err := r.initLifecycleMetrics(); err != nil {
		return nil, err
	}
	if err := r.initPdfMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initGenerationMetrics() error {
	var err error

	r.InvoicesGenerated, err = r.meter.Int64Counter(
		"billing.invoices.generated_total",
		metric.WithDescription("Invoices produced by batch generation"),
	)
	if err != nil {
		return err
	}

	r.InvoicesSkipped, err = r.meter.Int64Counter(
		"billing.invoices.skipped_total",
		metric.WithDescription("Payers skipped because they had no active beneficiaries"),
	)
	if err != nil {
		return err
	}

	r.BatchRuns, err = r.meter.Int64Counter(
		"billing.batch.runs_total",
		metric.WithDescription("Batch generation runs, including dry runs"),
	)
	if err != nil {
		return err
	}

	r.BatchFailures, err = r.meter.Int64Counter(
		"billing.batch.failures_total",
		metric.WithDescription("Batch generation runs rolled back"),
	)
	if err != nil {
		return err
	}

	r.BatchDuration, err = r.meter.Float64Histogram(
		"billing.batch.duration",
		metric.WithDescription("Wall time of a batch generation run"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return err
	}

	r.InvoiceTotal, err = r.meter.Int64Histogram(
		"billing.invoice.total",
		metric.WithDescription("Invoice totals in minor currency units"),
		metric.WithUnit("{cent}"),
	)
	if err != nil {
		return err
	}

	r.BatchesInProgress, err = r.meter.Int64ObservableGauge(
		"billing.batch.in_progress",
		metric.WithDescription("Batch generation runs currently executing"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.runningBatches)
			return nil
		}),
	)
	return err
}

func (r *Registry) initLifecycleMetrics() error {
	var err error
	r.LifecycleTransitions, err = r.meter.Int64Counter(
		"billing.invoice.transitions_total",
		metric.WithDescription("Invoice lifecycle transitions by action and outcome"),
	)
	return err
}

func (r *Registry) initPdfMetrics() error {
	var err error

	r.PdfCacheHits, err = r.meter.Int64Counter(
		"billing.pdf.cache_hits_total",
		metric.WithDescription("PDF requests served from cache"),
	)
	if err != nil {
		return err
	}

	r.PdfCacheMisses, err = r.meter.Int64Counter(
		"billing.pdf.cache_misses_total",
		metric.WithDescription("PDF requests that triggered a render"),
	)
	if err != nil {
		return err
	}

	r.PdfRenderTime, err = r.meter.Float64Histogram(
		"billing.pdf.render_duration",
		metric.WithDescription("PDF render latency"),
		metric.WithUnit("ms"),
	)
	return err
}

// BatchStarted marks a run as executing; call the returned func when it ends
func (r *Registry) BatchStarted(ctx context.Context, dryRun bool) (done func(success bool)) {
	start := time.Now()
	r.mu.Lock()
	r.runningBatches++
	r.mu.Unlock()

	attrs := metric.WithAttributes(attribute.Bool("dry_run", dryRun))
	r.BatchRuns.Add(ctx, 1, attrs)

	return func(success bool) {
		r.mu.Lock()
		r.runningBatches--
		r.mu.Unlock()

		r.BatchDuration.Record(ctx, time.Since(start).Seconds(), attrs)
		if !success {
			r.BatchFailures.Add(ctx, 1, attrs)
		}
	}
}

// RecordInvoice counts one generated invoice
func (r *Registry) RecordInvoice(ctx context.Context, invoiceType string, total int64) {
	attrs := metric.WithAttributes(attribute.String("invoice_type", invoiceType))
	r.InvoicesGenerated.Add(ctx, 1, attrs)
	r.InvoiceTotal.Record(ctx, total, attrs)
}

func (r *Registry) RecordSkip(ctx context.Context, payerType string) {
	r.InvoicesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("payer_type", payerType)))
}

func (r *Registry) RecordTransition(ctx context.Context, action string, success bool) {
	r.LifecycleTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("success", success),
	))
}

func (r *Registry) RecordPdfLookup(ctx context.Context, hit bool) {
	if hit {
		r.PdfCacheHits.Add(ctx, 1)
		return
	}
	r.PdfCacheMisses.Add(ctx, 1)
}

func (r *Registry) RecordPdfRender(ctx context.Context, d time.Duration) {
	r.PdfRenderTime.Record(ctx, float64(d.Microseconds())/1000)
}
