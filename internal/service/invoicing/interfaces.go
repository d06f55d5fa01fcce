package invoicing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/billing"
)

// Service drives invoices through their lifecycle
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	List(ctx context.Context, req ListRequest) (*billing.InvoicePage, error)
	// Create stores a manually entered draft invoice and debits the owning division
	Create(ctx context.Context, req CreateRequest) (*billing.Invoice, error)
	Confirm(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	Send(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	// Pay settles the invoice; a nil amount pays the invoice total
	Pay(ctx context.Context, id uuid.UUID, amount *int64) (*billing.Invoice, error)
	Cancel(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, metadata billing.Metadata) (*billing.Invoice, error)
	BulkUpdateStatus(ctx context.Context, req BulkUpdateRequest) (*BulkUpdateResult, error)
}

type ListRequest struct {
	Status      string     `json:"status" validate:"omitempty,oneof=draft confirmed sent paid cancelled"`
	RecipientID *uuid.UUID `json:"recipient_id"`
	PeriodStart *time.Time `json:"billing_period_start"`
	PeriodEnd   *time.Time `json:"billing_period_end"`
	Page        int        `json:"page" validate:"min=0"`
	PerPage     int        `json:"per_page" validate:"min=0,max=100"`
}

type CreateRequest struct {
	RecipientType billing.PayerType `json:"recipient_type" validate:"required,oneof=division financer"`
	RecipientID   uuid.UUID         `json:"recipient_id" validate:"required"`
	PeriodStart   time.Time         `json:"billing_period_start" validate:"required"`
	PeriodEnd     time.Time         `json:"billing_period_end" validate:"required,gtefield=PeriodStart"`
	VATRate       string            `json:"vat_rate" validate:"required,numeric"`
	// Currency defaults to EUR
	Currency string `json:"currency" validate:"omitempty,len=3"`
	// DueDate defaults to 30 days after the period end
	DueDate  *time.Time       `json:"due_date"`
	Metadata billing.Metadata `json:"metadata"`
	Items    []CreateItem     `json:"items" validate:"min=1,dive"`
}

type CreateItem struct {
	ItemType           billing.ItemType `json:"item_type" validate:"required,oneof=core_package module"`
	ModuleID           *uuid.UUID       `json:"module_id"`
	Label              string           `json:"label" validate:"required"`
	BeneficiariesCount int              `json:"beneficiaries_count" validate:"min=0"`
	UnitPrice          int64            `json:"unit_price" validate:"min=0"`
	Quantity           int64            `json:"quantity" validate:"min=1"`
}

type BulkUpdateRequest struct {
	IDs    []uuid.UUID           `json:"invoice_ids" validate:"min=1"`
	Status billing.InvoiceStatus `json:"status" validate:"required,oneof=confirmed sent paid cancelled"`
}

type BulkUpdateResult struct {
	Updated int         `json:"updated"`
	Failed  int         `json:"failed"`
	Errors  []BulkError `json:"errors"`
}

type BulkError struct {
	ID      uuid.UUID `json:"id"`
	Message string    `json:"message"`
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *billing.Invoice) error
	Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	Update(ctx context.Context, inv *billing.Invoice) error
	List(ctx context.Context, f billing.InvoiceFilter) (*billing.InvoicePage, error)
}

type PayerReader interface {
	GetDivision(ctx context.Context, id uuid.UUID) (*billing.Division, error)
	GetFinancer(ctx context.Context, id uuid.UUID) (*billing.Financer, error)
}

// NumberAllocator hands out the next invoice number for a type and period
type NumberAllocator interface {
	Next(ctx context.Context, invoiceType billing.InvoiceType, periodEnd time.Time) (string, error)
}
