package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/infrastructure/cache"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
	"github.com/davidleathers/division-billing/internal/infrastructure/repository"
	"github.com/davidleathers/division-billing/internal/metrics"
	"github.com/davidleathers/division-billing/internal/service/generation"
	"github.com/davidleathers/division-billing/internal/service/invoicing"
	"github.com/davidleathers/division-billing/internal/service/pdf"
)

// app is the wired object graph behind the database-backed commands
type app struct {
	pool     *pgxpool.Pool
	blobs    cache.BlobStore
	registry *metrics.Registry

	payers      *repository.PayerRepository
	invoices    *repository.InvoiceRepository
	balances    *ledger.BalanceRepository
	balanceView *repository.BalanceProjection
	batchView   *repository.BatchProjection

	generation generation.Service
	invoicing  invoicing.Service
	pdf        pdf.Service
}

func (c *cli) newApp(ctx context.Context) (*app, error) {
	pool, err := database.Connect(ctx, c.cfg.Database, c.logger)
	if err != nil {
		return nil, err
	}

	registry, err := metrics.NewRegistry("division-billing")
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create metrics registry: %w", err)
	}

	lookup, err := generation.NewConfigVATLookup(c.cfg.Billing.VATRates)
	if err != nil {
		pool.Close()
		return nil, err
	}

	tx := database.NewTxManager(pool, c.logger)
	events := database.NewEventStore(tx)
	a := &app{
		pool:        pool,
		registry:    registry,
		payers:      repository.NewPayerRepository(tx),
		invoices:    repository.NewInvoiceRepository(tx),
		balanceView: repository.NewBalanceProjection(tx),
		batchView:   repository.NewBatchProjection(tx),
	}
	a.balances = ledger.NewBalanceRepository(events, a.balanceView, tx)
	batches := ledger.NewBatchRepository(events, a.batchView, tx)

	numbers := generation.NewNumberGenerator(repository.NewNumberSequence(tx), tx)
	assembler := generation.NewInvoiceAssembler(generation.AssemblerDeps{
		Payers:          a.payers,
		Invoices:        a.invoices,
		Beneficiaries:   repository.NewBeneficiaryCounter(tx),
		Modules:         repository.NewModuleActivationOracle(tx),
		Numbers:         numbers,
		VAT:             generation.NewVATResolver(lookup, c.cfg.Billing.DefaultCountry, c.cfg.Billing.DefaultCurrency),
		Balances:        a.balances,
		Batches:         batches,
		PaymentTermDays: c.cfg.Billing.PaymentTermDays,
		Logger:          c.logger,
	})
	a.generation = generation.NewService(c.logger, a.payers, assembler, batches, tx, registry)
	a.invoicing = invoicing.NewService(c.logger, a.invoices, a.payers, numbers, a.balances, tx, registry)
	return a, nil
}

// pdfService opens the blob store on first use so commands that never touch
// PDFs do not need Redis
func (a *app) pdfService(c *cli) (pdf.Service, error) {
	if a.pdf != nil {
		return a.pdf, nil
	}
	blobs, err := cache.NewBlobStore(c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	a.blobs = blobs
	a.pdf = pdf.NewService(c.logger, a.invoices, unconfiguredRenderer{}, blobs, c.cfg.PDF, a.registry)
	return a.pdf, nil
}

func (a *app) Close(logger *zap.Logger) {
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			logger.Warn("failed to close blob store", zap.Error(err))
		}
	}
	a.pool.Close()
}

// unconfiguredRenderer serves deployments where documents are rendered by a
// separate service into the shared blob store; cached copies are still returned
type unconfiguredRenderer struct{}

func (unconfiguredRenderer) Render(ctx context.Context, inv *billing.Invoice) ([]byte, error) {
	return nil, errors.NewExternalError("pdf_renderer", fmt.Sprintf("no renderer configured for invoice %s", inv.Number))
}

// withApp wires the app for the duration of fn
func (c *cli) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(c.logger)
	return fn(a)
}
