package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/values"
)

// StreamType names an event stream family; (stream type, stream id) identifies one aggregate
type StreamType string

const (
	StreamDivisionBalance StreamType = "division_balance"
	StreamGenerationBatch StreamType = "generation_batch"
)

type EventType string

const (
	EventInvoiceGenerated EventType = "invoice_generated"
	EventInvoicePaid      EventType = "invoice_paid"
	EventBatchStarted     EventType = "batch_started"
	EventInvoiceCompleted EventType = "invoice_completed"
	EventBatchCompleted   EventType = "batch_completed"
)

// Event is an immutable fact appended to an aggregate stream
type Event interface {
	EventType() EventType
	StreamID() uuid.UUID
	OccurredAt() time.Time
}

// InvoiceGenerated raises a division balance by the invoice total
type InvoiceGenerated struct {
	DivisionID uuid.UUID    `json:"division_id"`
	InvoiceID  uuid.UUID    `json:"invoice_id"`
	Amount     values.Money `json:"amount"`
	At         time.Time    `json:"at"`
}

func (e InvoiceGenerated) EventType() EventType { return EventInvoiceGenerated }
func (e InvoiceGenerated) StreamID() uuid.UUID { return e.DivisionID }
func (e InvoiceGenerated) OccurredAt() time.Time { return e.At }

// InvoicePaid lowers a division balance by the amount paid
type InvoicePaid struct {
	DivisionID uuid.UUID    `json:"division_id"`
	InvoiceID  uuid.UUID    `json:"invoice_id"`
	Amount     values.Money `json:"amount"`
	At         time.Time    `json:"at"`
}

func (e InvoicePaid) EventType() EventType { return EventInvoicePaid }
func (e InvoicePaid) StreamID() uuid.UUID { return e.DivisionID }
func (e InvoicePaid) OccurredAt() time.Time { return e.At }

type BatchStarted struct {
	BatchID       uuid.UUID `json:"batch_id"`
	MonthYear     string    `json:"month_year"`
	TotalInvoices int       `json:"total_invoices"`
	At            time.Time `json:"at"`
}

func (e BatchStarted) EventType() EventType { return EventBatchStarted }
func (e BatchStarted) StreamID() uuid.UUID { return e.BatchID }
func (e BatchStarted) OccurredAt() time.Time { return e.At }

type InvoiceCompleted struct {
	BatchID   uuid.UUID `json:"batch_id"`
	InvoiceID uuid.UUID `json:"invoice_id"`
	At        time.Time `json:"at"`
}

func (e InvoiceCompleted) EventType() EventType { return EventInvoiceCompleted }
func (e InvoiceCompleted) StreamID() uuid.UUID { return e.BatchID }
func (e InvoiceCompleted) OccurredAt() time.Time { return e.At }

type BatchCompleted struct {
	BatchID uuid.UUID `json:"batch_id"`
	At      time.Time `json:"at"`
}

func (e BatchCompleted) EventType() EventType { return EventBatchCompleted }
func (e BatchCompleted) StreamID() uuid.UUID { return e.BatchID }
func (e BatchCompleted) OccurredAt() time.Time { return e.At }

// StreamOf returns the stream family an event belongs to
func StreamOf(t EventType) StreamType {
	switch t {
	case EventInvoiceGenerated, EventInvoicePaid:
		return StreamDivisionBalance
	default:
		return StreamGenerationBatch
	}
}
