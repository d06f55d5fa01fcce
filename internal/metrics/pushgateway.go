package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const pushJob = "division_billing_generate"

// BatchPusher reports the outcome of a generation run to a Prometheus
// Pushgateway. Batch runs are short lived, so scraping would miss them.
// Real and dry runs push to separate groups, and each push only replaces the
// metrics it carries, so a failed run leaves the last success timestamp alone.
type BatchPusher struct {
	url string
	reg *prometheus.Registry

	lastSuccess *prometheus.GaugeVec
	lastFailure *prometheus.GaugeVec
	duration    *prometheus.GaugeVec
	invoices    *prometheus.GaugeVec
	skipped     *prometheus.GaugeVec
}

// BatchOutcome is what one run reports
type BatchOutcome struct {
	MonthYear string
	DryRun    bool
	Success   bool
	Duration  time.Duration
	Invoices  int
	Skipped   int
}

func batchGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "billing",
		Subsystem: "batch",
		Name:      name,
		Help:      help,
	}, []string{"month_year"})
}

func NewBatchPusher(url string) *BatchPusher {
	p := &BatchPusher{
		url:         url,
		reg:         prometheus.NewRegistry(),
		lastSuccess: batchGauge("last_success_timestamp_seconds", "Unix time of the last successful generation run"),
		lastFailure: batchGauge("last_failure_timestamp_seconds", "Unix time of the last failed generation run"),
		duration:    batchGauge("last_duration_seconds", "Wall time of the last generation run"),
		invoices:    batchGauge("last_invoices", "Invoices produced by the last generation run"),
		skipped:     batchGauge("last_skipped", "Payers skipped by the last generation run"),
	}
	p.reg.MustRegister(p.lastSuccess, p.lastFailure, p.duration, p.invoices, p.skipped)
	return p
}

// Push adds the outcome to the job group keyed by dry_run. Only one of the
// success or failure timestamps is set, so the other one keeps its previous value.
func (p *BatchPusher) Push(ctx context.Context, o BatchOutcome) error {
	for _, g := range []*prometheus.GaugeVec{p.lastSuccess, p.lastFailure, p.duration, p.invoices, p.skipped} {
		g.Reset()
	}

	lv := prometheus.Labels{"month_year": o.MonthYear}
	p.duration.With(lv).Set(o.Duration.Seconds())
	p.invoices.With(lv).Set(float64(o.Invoices))
	p.skipped.With(lv).Set(float64(o.Skipped))
	if o.Success {
		p.lastSuccess.With(lv).SetToCurrentTime()
	} else {
		p.lastFailure.With(lv).SetToCurrentTime()
	}

	return push.New(p.url, pushJob).
		Grouping("dry_run", strconv.FormatBool(o.DryRun)).
		Gatherer(p.reg).
		AddContext(ctx)
}
