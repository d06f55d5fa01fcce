package pdf

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/billing"
)

// Service returns invoice PDFs, rendering only when the cached copy is stale
type Service interface {
	Get(ctx context.Context, invoiceID uuid.UUID, forceRegenerate bool) ([]byte, *Metadata, error)
}

// Metadata is the sidecar stored next to each cached PDF
type Metadata struct {
	InvoiceID   uuid.UUID `json:"invoice_id"`
	GeneratedAt time.Time `json:"generated_at"`
	TTLHours    int       `json:"ttl_hours"`
}

// ExpiresAt is the instant the cached copy stops being served
func (m Metadata) ExpiresAt() time.Time {
	return m.GeneratedAt.Add(time.Duration(m.TTLHours) * time.Hour)
}

// Fresh reports whether the copy may still be served at now
func (m Metadata) Fresh(now time.Time) bool {
	return m.ExpiresAt().After(now)
}

// Renderer turns an invoice into a PDF document
type Renderer interface {
	Render(ctx context.Context, invoice *billing.Invoice) ([]byte, error)
}

// InvoiceReader loads the invoice to render
type InvoiceReader interface {
	Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
}
