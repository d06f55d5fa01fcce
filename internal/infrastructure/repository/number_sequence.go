package repository

import (
	"context"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

// NumberSequence hands out per (invoice type, YYYYMM) counters. The upsert takes
// the counter row lock, so concurrent callers are serialized until commit.
type NumberSequence struct {
	db database.QuerierProvider
}

func NewNumberSequence(db database.QuerierProvider) *NumberSequence {
	return &NumberSequence{db: db}
}

func (s *NumberSequence) NextValue(ctx context.Context, invoiceType billing.InvoiceType, period string) (int64, error) {
	var next int64
	err := s.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO invoice_number_sequences (invoice_type, period, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (invoice_type, period)
		DO UPDATE SET last_value = invoice_number_sequences.last_value + 1
		RETURNING last_value`, string(invoiceType), period).Scan(&next)
	if err != nil {
		return 0, database.MapError(err, "next invoice number")
	}
	return next, nil
}
