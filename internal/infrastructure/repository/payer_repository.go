package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

// PayerRepository reads and writes divisions and financers
type PayerRepository struct {
	db database.QuerierProvider
}

func NewPayerRepository(db database.QuerierProvider) *PayerRepository {
	return &PayerRepository{db: db}
}

const divisionColumns = `id, name, country, currency, vat_rate::text, core_package_price,
	contract_start_date, status, created_at, updated_at`

const financerColumns = `id, division_id, name, core_package_price, contract_start_date,
	status, created_at, updated_at`

func (r *PayerRepository) GetDivision(ctx context.Context, id uuid.UUID) (*billing.Division, error) {
	q := r.db.Querier(ctx)
	d, err := scanDivision(q.QueryRow(ctx, `SELECT `+divisionColumns+` FROM divisions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("division")
		}
		return nil, database.MapError(err, "get division")
	}
	if d.ModulePrices, err = r.divisionModulePrices(ctx, q, d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// ListActiveDivisions returns active divisions ordered by name
func (r *PayerRepository) ListActiveDivisions(ctx context.Context) ([]*billing.Division, error) {
	q := r.db.Querier(ctx)
	rows, err := q.Query(ctx, `SELECT `+divisionColumns+` FROM divisions WHERE status = 'active' ORDER BY name, id`)
	if err != nil {
		return nil, database.MapError(err, "list divisions")
	}
	divisions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*billing.Division, error) {
		return scanDivision(row)
	})
	if err != nil {
		return nil, database.MapError(err, "scan divisions")
	}
	for _, d := range divisions {
		if d.ModulePrices, err = r.divisionModulePrices(ctx, q, d.ID); err != nil {
			return nil, err
		}
	}
	return divisions, nil
}

func (r *PayerRepository) GetFinancer(ctx context.Context, id uuid.UUID) (*billing.Financer, error) {
	q := r.db.Querier(ctx)
	f, err := scanFinancer(q.QueryRow(ctx, `SELECT `+financerColumns+` FROM financers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("financer")
		}
		return nil, database.MapError(err, "get financer")
	}
	if f.Modules, err = r.financerModules(ctx, q, f.ID); err != nil {
		return nil, err
	}
	return f, nil
}

// ListActiveFinancers returns active financers, restricted to one division when divisionID is set
func (r *PayerRepository) ListActiveFinancers(ctx context.Context, divisionID *uuid.UUID) ([]*billing.Financer, error) {
	q := r.db.Querier(ctx)
	rows, err := q.Query(ctx, `
		SELECT `+financerColumns+`
		FROM financers
		WHERE status = 'active' AND ($1::uuid IS NULL OR division_id = $1)
		ORDER BY name, id`, divisionID)
	if err != nil {
		return nil, database.MapError(err, "list financers")
	}
	financers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*billing.Financer, error) {
		return scanFinancer(row)
	})
	if err != nil {
		return nil, database.MapError(err, "scan financers")
	}
	for _, f := range financers {
		if f.Modules, err = r.financerModules(ctx, q, f.ID); err != nil {
			return nil, err
		}
	}
	return financers, nil
}

// SaveDivision upserts a division together with its negotiated module prices
func (r *PayerRepository) SaveDivision(ctx context.Context, d *billing.Division) error {
	var rate *string
	if d.VATRate != nil {
		s := d.VATRate.String()
		rate = &s
	}
	q := r.db.Querier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO divisions (id, name, country, currency, vat_rate, core_package_price,
			contract_start_date, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5::numeric, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, country = EXCLUDED.country, currency = EXCLUDED.currency,
			vat_rate = EXCLUDED.vat_rate, core_package_price = EXCLUDED.core_package_price,
			contract_start_date = EXCLUDED.contract_start_date, status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		d.ID, d.Name, d.Country, d.Currency, rate, d.CorePackagePrice,
		d.ContractStartDate, string(d.Status), d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err, "save division")
	}

	if _, err := q.Exec(ctx, `DELETE FROM division_modules WHERE division_id = $1`, d.ID); err != nil {
		return database.MapError(err, "reset division modules")
	}
	for moduleID, price := range d.ModulePrices {
		if _, err := q.Exec(ctx, `INSERT INTO division_modules (division_id, module_id, price) VALUES ($1, $2, $3)`,
			d.ID, moduleID, price); err != nil {
			return database.MapError(err, "save division module")
		}
	}
	return nil
}

// SaveFinancer upserts a financer together with its module subscriptions
func (r *PayerRepository) SaveFinancer(ctx context.Context, f *billing.Financer) error {
	q := r.db.Querier(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO financers (id, division_id, name, core_package_price, contract_start_date,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			division_id = EXCLUDED.division_id, name = EXCLUDED.name,
			core_package_price = EXCLUDED.core_package_price,
			contract_start_date = EXCLUDED.contract_start_date, status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		f.ID, f.DivisionID, f.Name, f.CorePackagePrice, f.ContractStartDate,
		string(f.Status), f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err, "save financer")
	}

	if _, err := q.Exec(ctx, `DELETE FROM financer_modules WHERE financer_id = $1`, f.ID); err != nil {
		return database.MapError(err, "reset financer modules")
	}
	for _, m := range f.Modules {
		_, err := q.Exec(ctx, `
			INSERT INTO financer_modules (financer_id, module_id, name, price_per_beneficiary, activated_at, deactivated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			f.ID, m.ModuleID, m.Name, m.PricePerBeneficiary, m.ActivatedAt, m.DeactivatedAt)
		if err != nil {
			return database.MapError(err, "save financer module")
		}
	}
	return nil
}

// AddFinancerUser records a beneficiary's membership window; until nil means still active
func (r *PayerRepository) AddFinancerUser(ctx context.Context, financerID, userID uuid.UUID, from time.Time, until *time.Time) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO financer_users (financer_id, user_id, active_from, active_until)
		VALUES ($1, $2, $3, $4)`, financerID, userID, from, until)
	return database.MapError(err, "add financer user")
}

func (r *PayerRepository) divisionModulePrices(ctx context.Context, q database.Querier, divisionID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := q.Query(ctx, `SELECT module_id, price FROM division_modules WHERE division_id = $1`, divisionID)
	if err != nil {
		return nil, database.MapError(err, "query division modules")
	}
	defer rows.Close()

	prices := map[uuid.UUID]int64{}
	for rows.Next() {
		var id uuid.UUID
		var price int64
		if err := rows.Scan(&id, &price); err != nil {
			return nil, database.MapError(err, "scan division module")
		}
		prices[id] = price
	}
	return prices, rows.Err()
}

func (r *PayerRepository) financerModules(ctx context.Context, q database.Querier, financerID uuid.UUID) ([]billing.FinancerModule, error) {
	rows, err := q.Query(ctx, `
		SELECT module_id, name, price_per_beneficiary, activated_at, deactivated_at
		FROM financer_modules
		WHERE financer_id = $1
		ORDER BY name, module_id`, financerID)
	if err != nil {
		return nil, database.MapError(err, "query financer modules")
	}
	modules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (billing.FinancerModule, error) {
		var m billing.FinancerModule
		err := row.Scan(&m.ModuleID, &m.Name, &m.PricePerBeneficiary, &m.ActivatedAt, &m.DeactivatedAt)
		return m, err
	})
	if err != nil {
		return nil, database.MapError(err, "scan financer modules")
	}
	return modules, nil
}

func scanDivision(row pgx.Row) (*billing.Division, error) {
	var d billing.Division
	var country, rate *string
	var status string
	err := row.Scan(&d.ID, &d.Name, &country, &d.Currency, &rate, &d.CorePackagePrice,
		&d.ContractStartDate, &status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if country != nil {
		d.Country = *country
	}
	if rate != nil {
		vr, err := values.NewVATRateFromString(*rate)
		if err != nil {
			return nil, apperrors.NewInternalError("corrupt division vat rate").WithCause(err)
		}
		d.VATRate = &vr
	}
	d.Status = billing.PayerStatus(status)
	return &d, nil
}

func scanFinancer(row pgx.Row) (*billing.Financer, error) {
	var f billing.Financer
	var status string
	err := row.Scan(&f.ID, &f.DivisionID, &f.Name, &f.CorePackagePrice, &f.ContractStartDate,
		&status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	f.Status = billing.PayerStatus(status)
	return &f, nil
}
