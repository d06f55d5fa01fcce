package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
)

// BalanceState is the derived running balance of one Division.
// Balance = TotalInvoiced - TotalPaid.
type BalanceState struct {
	DivisionID    uuid.UUID `json:"division_id"`
	Currency      string    `json:"currency"`
	Balance       int64     `json:"balance"`
	TotalInvoiced int64     `json:"total_invoiced"`
	TotalPaid     int64     `json:"total_paid"`
	LastEventAt   time.Time `json:"last_event_at"`
}

// Apply is the pure reducer for division balance events
func (s BalanceState) Apply(e Event) BalanceState {
	switch ev := e.(type) {
	case InvoiceGenerated:
		s.DivisionID = ev.DivisionID
		if s.Currency == "" {
			s.Currency = ev.Amount.Currency()
		}
		s.Balance += ev.Amount.Minor()
		s.TotalInvoiced += ev.Amount.Minor()
		s.LastEventAt = ev.At
	case InvoicePaid:
		s.DivisionID = ev.DivisionID
		if s.Currency == "" {
			s.Currency = ev.Amount.Currency()
		}
		s.Balance -= ev.Amount.Minor()
		s.TotalPaid += ev.Amount.Minor()
		s.LastEventAt = ev.At
	}
	return s
}

// BalanceMoney returns the balance with its currency, EUR for an empty ledger
func (s BalanceState) BalanceMoney() values.Money {
	currency := s.Currency
	if currency == "" {
		currency = values.EUR
	}
	return values.MustNewMoney(s.Balance, currency)
}

// DivisionBalance is the event-sourced aggregate keyed by Division id
type DivisionBalance struct {
	root
	State BalanceState
}

func NewDivisionBalance(divisionID uuid.UUID) *DivisionBalance {
	return &DivisionBalance{
		root:  root{id: divisionID},
		State: BalanceState{DivisionID: divisionID},
	}
}

func (b *DivisionBalance) StreamType() StreamType { return StreamDivisionBalance }

// Replay folds committed history; it never records pending events
func (b *DivisionBalance) Replay(events []Event) {
	for _, e := range events {
		b.State = b.State.Apply(e)
		b.version++
	}
}

func (b *DivisionBalance) RecordInvoiceGenerated(invoiceID uuid.UUID, amount values.Money, at time.Time) error {
	if err := b.checkAmount(amount); err != nil {
		return err
	}
	b.record(InvoiceGenerated{DivisionID: b.id, InvoiceID: invoiceID, Amount: amount, At: at})
	return nil
}

func (b *DivisionBalance) RecordInvoicePaid(invoiceID uuid.UUID, amount values.Money, at time.Time) error {
	if err := b.checkAmount(amount); err != nil {
		return err
	}
	if !amount.IsPositive() {
		return errors.NewValidationError(errors.CodeInvalidAmount, "paid amount must be positive")
	}
	b.record(InvoicePaid{DivisionID: b.id, InvoiceID: invoiceID, Amount: amount, At: at})
	return nil
}

func (b *DivisionBalance) checkAmount(amount values.Money) error {
	if amount.IsNegative() {
		return errors.NewValidationError(errors.CodeInvalidAmount, "ledger amounts cannot be negative")
	}
	if b.State.Currency != "" && amount.Currency() != b.State.Currency {
		return errors.NewValidationError(errors.CodeInvalidAmount,
			fmt.Sprintf("division %s ledger is in %s, got %s", b.id, b.State.Currency, amount.Currency()))
	}
	return nil
}

func (b *DivisionBalance) record(e Event) {
	b.State = b.State.Apply(e)
	b.pending = append(b.pending, e)
}
