package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/errors"
)

type BatchStatus string

const (
	BatchStatusPending    BatchStatus = ""
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusDryRun     BatchStatus = "dry_run"
)

// BatchState tracks progress of one month-end generation run.
// CompletedCount + FailedCount never exceeds TotalInvoices.
type BatchState struct {
	BatchID        uuid.UUID   `json:"batch_id"`
	MonthYear      string      `json:"month_year"`
	TotalInvoices  int         `json:"total_invoices"`
	CompletedCount int         `json:"completed_count"`
	FailedCount    int         `json:"failed_count"`
	Status         BatchStatus `json:"status"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// Apply is the pure reducer for batch events. Events after completion are ignored.
func (s BatchState) Apply(e Event) BatchState {
	if s.Status == BatchStatusCompleted {
		return s
	}
	switch ev := e.(type) {
	case BatchStarted:
		at := ev.At
		s.BatchID = ev.BatchID
		s.MonthYear = ev.MonthYear
		s.TotalInvoices = ev.TotalInvoices
		s.Status = BatchStatusInProgress
		s.StartedAt = &at
	case InvoiceCompleted:
		s.CompletedCount++
	case BatchCompleted:
		at := ev.At
		s.Status = BatchStatusCompleted
		s.CompletedAt = &at
	}
	return s
}

// GenerationBatch is the event-sourced aggregate keyed by batch id
type GenerationBatch struct {
	root
	State BatchState
}

func NewGenerationBatch(batchID uuid.UUID) *GenerationBatch {
	return &GenerationBatch{
		root:  root{id: batchID},
		State: BatchState{BatchID: batchID},
	}
}

func (g *GenerationBatch) StreamType() StreamType { return StreamGenerationBatch }

func (g *GenerationBatch) Replay(events []Event) {
	for _, e := range events {
		g.State = g.State.Apply(e)
		g.version++
	}
}

func (g *GenerationBatch) Start(monthYear string, totalInvoices int, at time.Time) error {
	if g.State.Status != BatchStatusPending {
		return errors.NewDomainStateError(errors.CodeBatchClosed,
			fmt.Sprintf("batch %s already started", g.id))
	}
	if totalInvoices < 0 {
		return errors.NewValidationError(errors.CodeInvalidInput, "total invoices cannot be negative")
	}
	g.record(BatchStarted{BatchID: g.id, MonthYear: monthYear, TotalInvoices: totalInvoices, At: at})
	return nil
}

func (g *GenerationBatch) RecordInvoiceCompleted(invoiceID uuid.UUID, at time.Time) error {
	if err := g.ensureInProgress(); err != nil {
		return err
	}
	if g.State.CompletedCount+g.State.FailedCount >= g.State.TotalInvoices {
		return errors.NewDomainStateError(errors.CodeBatchOverflow,
			fmt.Sprintf("batch %s already accounts for all %d invoices", g.id, g.State.TotalInvoices))
	}
	g.record(InvoiceCompleted{BatchID: g.id, InvoiceID: invoiceID, At: at})
	return nil
}

func (g *GenerationBatch) Complete(at time.Time) error {
	if err := g.ensureInProgress(); err != nil {
		return err
	}
	g.record(BatchCompleted{BatchID: g.id, At: at})
	return nil
}

func (g *GenerationBatch) ensureInProgress() error {
	switch g.State.Status {
	case BatchStatusInProgress:
		return nil
	case BatchStatusCompleted:
		return errors.NewDomainStateError(errors.CodeBatchClosed,
			fmt.Sprintf("batch %s is completed and accepts no further events", g.id))
	default:
		return errors.NewDomainStateError(errors.CodeBatchClosed,
			fmt.Sprintf("batch %s has not started", g.id))
	}
}

func (g *GenerationBatch) record(e Event) {
	g.State = g.State.Apply(e)
	g.pending = append(g.pending, e)
}
