package repository

import (
	"context"
	"time"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

// BeneficiaryCounter counts distinct users whose membership window overlaps a period.
// A division's count is the sum of its financers' counts, so a user in two
// financers is billed twice.
type BeneficiaryCounter struct {
	db database.QuerierProvider
}

func NewBeneficiaryCounter(db database.QuerierProvider) *BeneficiaryCounter {
	return &BeneficiaryCounter{db: db}
}

func (c *BeneficiaryCounter) ActiveCount(ctx context.Context, payer billing.PayerRef, start, end time.Time) (int, error) {
	from := values.TruncateDay(start)
	until := values.TruncateDay(end).AddDate(0, 0, 1)

	var query string
	switch payer.Type {
	case billing.PayerTypeFinancer:
		query = `
			SELECT COUNT(DISTINCT fu.user_id)
			FROM financer_users fu
			WHERE fu.financer_id = $1
			  AND fu.active_from < $3
			  AND (fu.active_until IS NULL OR fu.active_until >= $2)`
	case billing.PayerTypeDivision:
		query = `
			SELECT COALESCE(SUM(per_financer.users), 0)::int
			FROM (
				SELECT COUNT(DISTINCT fu.user_id) AS users
				FROM financer_users fu
				JOIN financers f ON f.id = fu.financer_id
				WHERE f.division_id = $1
				  AND fu.active_from < $3
				  AND (fu.active_until IS NULL OR fu.active_until >= $2)
				GROUP BY fu.financer_id
			) per_financer`
	default:
		return 0, apperrors.NewValidationError(apperrors.CodeInvalidInput, "unknown payer type "+string(payer.Type))
	}

	var count int
	if err := c.db.Querier(ctx).QueryRow(ctx, query, payer.ID, from, until).Scan(&count); err != nil {
		return 0, database.MapError(err, "count beneficiaries")
	}
	return count, nil
}
