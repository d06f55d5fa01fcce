package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

// BalanceProjection maintains division_balances from the ledger
type BalanceProjection struct {
	db database.QuerierProvider
}

func NewBalanceProjection(db database.QuerierProvider) *BalanceProjection {
	return &BalanceProjection{db: db}
}

func (p *BalanceProjection) SaveBalance(ctx context.Context, s ledger.BalanceState, version int64) error {
	_, err := p.db.Querier(ctx).Exec(ctx, `
		INSERT INTO division_balances (division_id, currency, balance, total_invoiced, total_paid,
			version, last_event_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (division_id) DO UPDATE SET
			currency = EXCLUDED.currency, balance = EXCLUDED.balance,
			total_invoiced = EXCLUDED.total_invoiced, total_paid = EXCLUDED.total_paid,
			version = EXCLUDED.version, last_event_at = EXCLUDED.last_event_at, updated_at = NOW()
		WHERE division_balances.version < EXCLUDED.version`,
		s.DivisionID, s.BalanceMoney().Currency(), s.Balance, s.TotalInvoiced, s.TotalPaid,
		version, nullTime(s.LastEventAt),
	)
	return database.MapError(err, "save division balance")
}

// Balance reads the projected state; a division with no ledger yet reads as zero
func (p *BalanceProjection) Balance(ctx context.Context, divisionID uuid.UUID) (ledger.BalanceState, int64, error) {
	s := ledger.BalanceState{DivisionID: divisionID}
	var version int64
	var lastEventAt *time.Time
	err := p.db.Querier(ctx).QueryRow(ctx, `
		SELECT currency, balance, total_invoiced, total_paid, version, last_event_at
		FROM division_balances WHERE division_id = $1`, divisionID).
		Scan(&s.Currency, &s.Balance, &s.TotalInvoiced, &s.TotalPaid, &version, &lastEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, 0, nil
	}
	if err != nil {
		return s, 0, database.MapError(err, "get division balance")
	}
	if lastEventAt != nil {
		s.LastEventAt = *lastEventAt
	}
	return s, version, nil
}

// BatchProjection maintains invoice_generation_batches from the batch streams
type BatchProjection struct {
	db database.QuerierProvider
}

func NewBatchProjection(db database.QuerierProvider) *BatchProjection {
	return &BatchProjection{db: db}
}

func (p *BatchProjection) SaveBatch(ctx context.Context, s ledger.BatchState, version int64) error {
	if s.StartedAt == nil {
		return apperrors.NewDomainStateError(apperrors.CodeBatchClosed, "cannot project a batch that has not started")
	}
	_, err := p.db.Querier(ctx).Exec(ctx, `
		INSERT INTO invoice_generation_batches (batch_id, month_year, status, total_invoices,
			completed_count, failed_count, version, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (batch_id) DO UPDATE SET
			status = EXCLUDED.status, completed_count = EXCLUDED.completed_count,
			failed_count = EXCLUDED.failed_count, version = EXCLUDED.version,
			completed_at = EXCLUDED.completed_at
		WHERE invoice_generation_batches.version < EXCLUDED.version`,
		s.BatchID, s.MonthYear, string(s.Status), s.TotalInvoices,
		s.CompletedCount, s.FailedCount, version, *s.StartedAt, s.CompletedAt,
	)
	return database.MapError(err, "save generation batch")
}

func (p *BatchProjection) Batch(ctx context.Context, batchID uuid.UUID) (*ledger.BatchState, error) {
	var s ledger.BatchState
	var status string
	err := p.db.Querier(ctx).QueryRow(ctx, `
		SELECT batch_id, month_year, status, total_invoices, completed_count, failed_count,
			started_at, completed_at
		FROM invoice_generation_batches WHERE batch_id = $1`, batchID).
		Scan(&s.BatchID, &s.MonthYear, &status, &s.TotalInvoices, &s.CompletedCount, &s.FailedCount,
			&s.StartedAt, &s.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("generation batch")
	}
	if err != nil {
		return nil, database.MapError(err, "get generation batch")
	}
	s.Status = ledger.BatchStatus(status)
	return &s, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
