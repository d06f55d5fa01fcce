package generation

import (
	"context"
	"fmt"
	"time"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
)

const numberPeriodLayout = "200601"

// NumberGenerator allocates invoice numbers of the form PREFIX-YYYYMM-000001
type NumberGenerator struct {
	seq NumberSequence
	tx  ledger.Transactor
}

func NewNumberGenerator(seq NumberSequence, tx ledger.Transactor) *NumberGenerator {
	return &NumberGenerator{seq: seq, tx: tx}
}

// Next draws the next number for the month containing periodEnd. Each attempt runs
// in its own savepoint; a conflict is retried once before it surfaces.
func (g *NumberGenerator) Next(ctx context.Context, invoiceType billing.InvoiceType, periodEnd time.Time) (string, error) {
	period := periodEnd.UTC().Format(numberPeriodLayout)

	var n int64
	attempt := func() error {
		return g.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			v, err := g.seq.NextValue(ctx, invoiceType, period)
			n = v
			return err
		})
	}

	err := attempt()
	if err != nil && errors.IsConflict(err) {
		err = attempt()
	}
	if err != nil {
		return "", fmt.Errorf("allocate %s invoice number for %s: %w", invoiceType, period, err)
	}
	return FormatNumber(invoiceType, period, n), nil
}

func FormatNumber(invoiceType billing.InvoiceType, period string, seq int64) string {
	return fmt.Sprintf("%s-%s-%06d", invoiceType.Prefix(), period, seq)
}
