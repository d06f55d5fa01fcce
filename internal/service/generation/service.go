package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/domain/values"
	"github.com/davidleathers/division-billing/internal/infrastructure/telemetry"
	"github.com/davidleathers/division-billing/internal/metrics"
)

var _ Service = (*service)(nil)

type service struct {
	logger    *zap.Logger
	payers    PayerRepository
	assembler *InvoiceAssembler
	batches   *ledger.BatchRepository
	tx        ledger.Transactor
	metrics   *metrics.Registry
	tracer    *telemetry.Tracer
	validate  *validator.Validate
}

// NewService creates the batch generation service. metrics may be nil.
func NewService(
	logger *zap.Logger,
	payers PayerRepository,
	assembler *InvoiceAssembler,
	batches *ledger.BatchRepository,
	tx ledger.Transactor,
	registry *metrics.Registry,
) Service {
	return &service{
		logger:    logger,
		payers:    payers,
		assembler: assembler,
		batches:   batches,
		tx:        tx,
		metrics:   registry,
		tracer:    telemetry.NewTracer("billing.generation"),
		validate:  validator.New(),
	}
}

type targets struct {
	divisions []uuid.UUID
	financers []uuid.UUID
}

func (t targets) total() int { return len(t.divisions) + len(t.financers) }

// Generate invoices every targeted payer for the month. A real run is one
// transaction: any failure rolls back every invoice and event of the run.
func (s *service) Generate(ctx context.Context, req GenerateRequest) (result *GenerateResult, err error) {
	ctx, span := s.tracer.Start(ctx, "generation.Generate", map[string]interface{}{
		"month_year": req.MonthYear,
		"dry_run":    req.DryRun,
	})
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "invalid generate request").WithCause(err)
	}
	if req.DivisionID != nil && req.FinancerID != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "division_id and financer_id are mutually exclusive")
	}
	month, err := values.ParseMonthYear(req.MonthYear)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidPeriod, err.Error())
	}

	logger := telemetry.WithTrace(ctx, s.logger).With(
		zap.String("month_year", month.String()),
		zap.Bool("dry_run", req.DryRun),
	)

	done := func(bool) {}
	if s.metrics != nil {
		done = s.metrics.BatchStarted(ctx, req.DryRun)
	}

	t, err := s.resolveTargets(ctx, req)
	if err != nil {
		done(false)
		return nil, err
	}

	batchID := uuid.New()
	logger = logger.With(zap.String("batch_id", batchID.String()))
	span.SetAttributes(telemetry.Attributes(map[string]interface{}{
		"batch_id":       batchID,
		"total_invoices": t.total(),
	})...)

	if req.DryRun {
		logger.Info("dry run counted candidates", zap.Int("total_invoices", t.total()))
		done(true)
		return &GenerateResult{
			BatchID:       batchID,
			MonthYear:     month.String(),
			TotalInvoices: t.total(),
			Status:        ledger.BatchStatusDryRun,
		}, nil
	}

	start := time.Now()
	logger.Info("batch generation started",
		zap.Int("divisions", len(t.divisions)),
		zap.Int("financers", len(t.financers)))

	result = &GenerateResult{
		BatchID:       batchID,
		MonthYear:     month.String(),
		TotalInvoices: t.total(),
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return s.run(ctx, logger, month, batchID, t, result)
	})
	if err != nil {
		done(false)
		logger.Error("batch generation rolled back", zap.Error(err))
		return nil, err
	}

	result.Status = ledger.BatchStatusCompleted
	done(true)
	logger.Info("batch generation completed",
		zap.Int("generated", len(result.Generated)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

func (s *service) run(ctx context.Context, logger *zap.Logger, month values.MonthYear, batchID uuid.UUID, t targets, result *GenerateResult) error {
	period := month.Period()
	result.Generated = nil
	result.Skipped = nil

	batch := ledger.NewGenerationBatch(batchID)
	if err := batch.Start(month.String(), t.total(), billing.Now()); err != nil {
		return err
	}
	if err := s.batches.Persist(ctx, batch); err != nil {
		return fmt.Errorf("start batch %s: %w", batchID, err)
	}

	for _, id := range t.divisions {
		inv, err := s.assembler.AssembleDivision(ctx, id, period, batchID)
		if err != nil {
			return payerFailure(batchID, billing.DivisionRef(id), err)
		}
		s.generated(ctx, logger, inv, result)
	}

	for _, id := range t.financers {
		inv, err := s.assembler.AssembleFinancer(ctx, id, period, batchID)
		if err != nil {
			return payerFailure(batchID, billing.FinancerRef(id), err)
		}
		if inv == nil {
			result.Skipped = append(result.Skipped, billing.FinancerRef(id))
			if s.metrics != nil {
				s.metrics.RecordSkip(ctx, string(billing.PayerTypeFinancer))
			}
			continue
		}
		s.generated(ctx, logger, inv, result)
	}

	err := s.batches.Update(ctx, batchID, func(g *ledger.GenerationBatch) error {
		return g.Complete(billing.Now())
	})
	if err != nil {
		return fmt.Errorf("complete batch %s: %w", batchID, err)
	}
	return nil
}

func (s *service) generated(ctx context.Context, logger *zap.Logger, inv *billing.Invoice, result *GenerateResult) {
	result.Generated = append(result.Generated, summarize(inv))
	if s.metrics != nil {
		s.metrics.RecordInvoice(ctx, string(inv.Type), inv.Total)
	}
	logger.Debug("invoice generated",
		zap.String("invoice_number", inv.Number),
		zap.String("recipient", inv.Recipient.String()),
		zap.Int64("total", inv.Total))
}

// payerFailure names the payer that aborted the run and keeps the cause inspectable
func payerFailure(batchID uuid.UUID, payer billing.PayerRef, err error) error {
	return fmt.Errorf("batch %s rolled back: %s failed: %w", batchID, payer, err)
}

func (s *service) resolveTargets(ctx context.Context, req GenerateRequest) (targets, error) {
	var t targets
	switch {
	case req.FinancerID != nil:
		f, err := s.payers.GetFinancer(ctx, *req.FinancerID)
		if err != nil {
			return t, err
		}
		if !f.IsActive() {
			return t, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("financer %s is not active", f.ID))
		}
		t.financers = []uuid.UUID{f.ID}

	case req.DivisionID != nil:
		d, err := s.payers.GetDivision(ctx, *req.DivisionID)
		if err != nil {
			return t, err
		}
		if !d.IsActive() {
			return t, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("division %s is not active", d.ID))
		}
		t.divisions = []uuid.UUID{d.ID}
		financers, err := s.payers.ListActiveFinancers(ctx, &d.ID)
		if err != nil {
			return t, err
		}
		t.financers = financerIDs(financers)

	default:
		divisions, err := s.payers.ListActiveDivisions(ctx)
		if err != nil {
			return t, err
		}
		for _, d := range divisions {
			t.divisions = append(t.divisions, d.ID)
		}
		financers, err := s.payers.ListActiveFinancers(ctx, nil)
		if err != nil {
			return t, err
		}
		t.financers = financerIDs(financers)
	}
	return t, nil
}

func financerIDs(financers []*billing.Financer) []uuid.UUID {
	ids := make([]uuid.UUID, len(financers))
	for i, f := range financers {
		ids[i] = f.ID
	}
	return ids
}
