package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

// ModuleActivationOracle answers whether a payer had a module switched on at an instant.
// The activation history wins; without history the subscription window decides.
type ModuleActivationOracle struct {
	db database.QuerierProvider
}

func NewModuleActivationOracle(db database.QuerierProvider) *ModuleActivationOracle {
	return &ModuleActivationOracle{db: db}
}

func (o *ModuleActivationOracle) IsActive(ctx context.Context, payer billing.PayerRef, moduleID uuid.UUID, at time.Time) (bool, error) {
	q := o.db.Querier(ctx)

	var active bool
	err := q.QueryRow(ctx, `
		SELECT active
		FROM module_activation_history
		WHERE payer_type = $1 AND payer_id = $2 AND module_id = $3 AND changed_at <= $4
		ORDER BY changed_at DESC
		LIMIT 1`, string(payer.Type), payer.ID, moduleID, at).Scan(&active)
	switch {
	case err == nil:
		return active, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, database.MapError(err, "query module history")
	}

	var row pgx.Row
	if payer.Type == billing.PayerTypeFinancer {
		row = q.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM financer_modules
				WHERE financer_id = $1 AND module_id = $2
				  AND (activated_at IS NULL OR activated_at <= $3)
				  AND (deactivated_at IS NULL OR deactivated_at > $3)
			)`, payer.ID, moduleID, at)
	} else {
		row = q.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM division_modules WHERE division_id = $1 AND module_id = $2)`,
			payer.ID, moduleID)
	}
	if err := row.Scan(&active); err != nil {
		return false, database.MapError(err, "query module subscription")
	}
	return active, nil
}

// RecordChange appends an activation or deactivation to the history
func (o *ModuleActivationOracle) RecordChange(ctx context.Context, payer billing.PayerRef, moduleID uuid.UUID, active bool, at time.Time) error {
	_, err := o.db.Querier(ctx).Exec(ctx, `
		INSERT INTO module_activation_history (payer_type, payer_id, module_id, active, changed_at)
		VALUES ($1, $2, $3, $4, $5)`, string(payer.Type), payer.ID, moduleID, active, at)
	return database.MapError(err, "record module change")
}
