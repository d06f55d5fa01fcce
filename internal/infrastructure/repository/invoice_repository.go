package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
	"github.com/davidleathers/division-billing/internal/infrastructure/database"
)

// InvoiceRepository persists invoices and their items
type InvoiceRepository struct {
	db database.QuerierProvider
}

func NewInvoiceRepository(db database.QuerierProvider) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	id, invoice_number, invoice_type, issuer_type, issuer_id, recipient_type, recipient_id,
	period_start, period_end, currency, vat_rate::text, subtotal, vat_amount, total, status,
	due_date, metadata, batch_id, amount_paid, confirmed_at, sent_at, paid_at, cancelled_at,
	created_at, updated_at`

// Create inserts the invoice and its items
func (r *InvoiceRepository) Create(ctx context.Context, inv *billing.Invoice) error {
	if inv == nil {
		return apperrors.NewValidationError(apperrors.CodeInvalidInput, "invoice cannot be nil")
	}
	metadata, err := json.Marshal(inv.Metadata)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal invoice metadata").WithCause(err)
	}

	var issuerType *string
	var issuerID *uuid.UUID
	if inv.Issuer != nil {
		t := string(inv.Issuer.Type)
		issuerType, issuerID = &t, &inv.Issuer.ID
	}

	q := r.db.Querier(ctx)
	_, err = q.Exec(ctx, `
		INSERT INTO invoices (
			id, invoice_number, invoice_type, issuer_type, issuer_id, recipient_type, recipient_id,
			period_start, period_end, currency, vat_rate, subtotal, vat_amount, total, status,
			due_date, metadata, batch_id, amount_paid, confirmed_at, sent_at, paid_at, cancelled_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25)`,
		inv.ID, inv.Number, string(inv.Type), issuerType, issuerID,
		string(inv.Recipient.Type), inv.Recipient.ID,
		inv.PeriodStart, inv.PeriodEnd, inv.Currency, inv.VATRate.String(),
		inv.Subtotal, inv.VATAmount, inv.Total, string(inv.Status),
		inv.DueDate, metadata, inv.BatchID, inv.AmountPaid,
		inv.ConfirmedAt, inv.SentAt, inv.PaidAt, inv.CancelledAt,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err, "create invoice")
	}

	for pos, item := range inv.Items {
		_, err := q.Exec(ctx, `
			INSERT INTO invoice_items (
				id, invoice_id, item_type, module_id, label, beneficiaries_count, unit_price, quantity,
				prorata_percentage, prorata_days, total_days, vat_rate, subtotal, vat_amount, total,
				position, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12::numeric, $13, $14, $15, $16, $17)`,
			item.ID, inv.ID, string(item.ItemType), item.ModuleID, item.Label, item.BeneficiariesCount,
			item.UnitPrice, item.Quantity, item.ProrataPercentage.StringFixed(billing.ProrataPrecision),
			item.ProrataDays, item.TotalDays, item.VATRate.String(),
			item.Subtotal, item.VATAmount, item.Total, pos, item.CreatedAt,
		)
		if err != nil {
			return database.MapError(err, fmt.Sprintf("create invoice item %d", pos))
		}
	}
	return nil
}

// Get loads an invoice with its items
func (r *InvoiceRepository) Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate locks the invoice row for the rest of the transaction in ctx
func (r *InvoiceRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *InvoiceRepository) get(ctx context.Context, id uuid.UUID, lock string) (*billing.Invoice, error) {
	q := r.db.Querier(ctx)
	inv, err := scanInvoice(q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("invoice")
		}
		return nil, database.MapError(err, "get invoice")
	}

	items, err := r.items(ctx, q, id)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

// Update writes the mutable columns: status, timestamps, payment and metadata
func (r *InvoiceRepository) Update(ctx context.Context, inv *billing.Invoice) error {
	metadata, err := json.Marshal(inv.Metadata)
	if err != nil {
		return apperrors.NewInternalError("failed to marshal invoice metadata").WithCause(err)
	}

	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE invoices
		SET status = $2, metadata = $3, amount_paid = $4, confirmed_at = $5, sent_at = $6,
			paid_at = $7, cancelled_at = $8, updated_at = $9
		WHERE id = $1`,
		inv.ID, string(inv.Status), metadata, inv.AmountPaid,
		inv.ConfirmedAt, inv.SentAt, inv.PaidAt, inv.CancelledAt, inv.UpdatedAt,
	)
	if err != nil {
		return database.MapError(err, "update invoice")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("invoice")
	}
	return nil
}

// ListByBatch returns the invoices produced by one generation run, oldest first
func (r *InvoiceRepository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]*billing.Invoice, error) {
	return r.query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE batch_id = $1 ORDER BY created_at, invoice_number`, batchID)
}

// List returns one page of invoices matching f, newest first
func (r *InvoiceRepository) List(ctx context.Context, f billing.InvoiceFilter) (*billing.InvoicePage, error) {
	f = f.Normalize()

	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.RecipientID != nil {
		add("recipient_id = $%d", *f.RecipientID)
	}
	if f.PeriodStartFrom != nil {
		add("period_start >= $%d::date", *f.PeriodStartFrom)
	}
	if f.PeriodEndTo != nil {
		add("period_end <= $%d::date", *f.PeriodEndTo)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.Querier(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+clause, args...).Scan(&total); err != nil {
		return nil, database.MapError(err, "count invoices")
	}

	args = append(args, f.PerPage, f.Offset())
	invoices, err := r.query(ctx, fmt.Sprintf(`SELECT `+invoiceColumns+` FROM invoices%s
		ORDER BY created_at DESC, invoice_number DESC LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, err
	}
	return billing.NewInvoicePage(invoices, f, total), nil
}

// query scans invoice rows, then loads each invoice's items
func (r *InvoiceRepository) query(ctx context.Context, sql string, args ...any) ([]*billing.Invoice, error) {
	q := r.db.Querier(ctx)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, database.MapError(err, "list invoices")
	}

	var invoices []*billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, database.MapError(err, "scan invoice")
		}
		invoices = append(invoices, inv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, database.MapError(err, "list invoices")
	}

	for _, inv := range invoices {
		if inv.Items, err = r.items(ctx, q, inv.ID); err != nil {
			return nil, err
		}
	}
	return invoices, nil
}

func (r *InvoiceRepository) items(ctx context.Context, q database.Querier, invoiceID uuid.UUID) ([]billing.InvoiceItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, item_type, module_id, label, beneficiaries_count, unit_price, quantity,
			prorata_percentage::text, prorata_days, total_days, vat_rate::text, subtotal, vat_amount, total,
			created_at
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY position`, invoiceID)
	if err != nil {
		return nil, database.MapError(err, "query invoice items")
	}
	defer rows.Close()

	var items []billing.InvoiceItem
	for rows.Next() {
		var it billing.InvoiceItem
		var itemType, prorata, rate string
		if err := rows.Scan(
			&it.ID, &it.InvoiceID, &itemType, &it.ModuleID, &it.Label, &it.BeneficiariesCount,
			&it.UnitPrice, &it.Quantity, &prorata, &it.ProrataDays, &it.TotalDays, &rate,
			&it.Subtotal, &it.VATAmount, &it.Total, &it.CreatedAt,
		); err != nil {
			return nil, database.MapError(err, "scan invoice item")
		}
		it.ItemType = billing.ItemType(itemType)
		if it.ProrataPercentage, err = decimal.NewFromString(prorata); err != nil {
			return nil, apperrors.NewInternalError("corrupt prorata percentage").WithCause(err)
		}
		if it.VATRate, err = values.NewVATRateFromString(rate); err != nil {
			return nil, apperrors.NewInternalError("corrupt item vat rate").WithCause(err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanInvoice(row pgx.Row) (*billing.Invoice, error) {
	var inv billing.Invoice
	var invoiceType, recipientType, status, rate string
	var issuerType *string
	var issuerID *uuid.UUID
	var dueDate *time.Time
	var metadata []byte

	err := row.Scan(
		&inv.ID, &inv.Number, &invoiceType, &issuerType, &issuerID, &recipientType, &inv.Recipient.ID,
		&inv.PeriodStart, &inv.PeriodEnd, &inv.Currency, &rate, &inv.Subtotal, &inv.VATAmount, &inv.Total, &status,
		&dueDate, &metadata, &inv.BatchID, &inv.AmountPaid, &inv.ConfirmedAt, &inv.SentAt, &inv.PaidAt, &inv.CancelledAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Type = billing.InvoiceType(invoiceType)
	inv.Recipient.Type = billing.PayerType(recipientType)
	if issuerType != nil && issuerID != nil {
		inv.Issuer = &billing.PayerRef{Type: billing.PayerType(*issuerType), ID: *issuerID}
	}
	if inv.Status, err = billing.ParseInvoiceStatus(status); err != nil {
		return nil, err
	}
	if inv.VATRate, err = values.NewVATRateFromString(rate); err != nil {
		return nil, apperrors.NewInternalError("corrupt invoice vat rate").WithCause(err)
	}
	if dueDate != nil {
		inv.DueDate = *dueDate
	}
	inv.Metadata = billing.Metadata{}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &inv.Metadata); err != nil {
			return nil, apperrors.NewInternalError("corrupt invoice metadata").WithCause(err)
		}
	}
	return &inv, nil
}
