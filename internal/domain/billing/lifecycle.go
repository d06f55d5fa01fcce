package billing

import (
	"fmt"

	"github.com/davidleathers/division-billing/internal/domain/errors"
)

// Action is a lifecycle operation on an invoice
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionSend    Action = "send"
	ActionPay     Action = "pay"
	ActionCancel  Action = "cancel"
)

// transitions is the full lifecycle: from -> action -> to. Anything absent is illegal.
var transitions = map[InvoiceStatus]map[Action]InvoiceStatus{
	InvoiceStatusDraft: {
		ActionConfirm: InvoiceStatusConfirmed,
		ActionPay:     InvoiceStatusPaid,
		ActionCancel:  InvoiceStatusCancelled,
	},
	InvoiceStatusConfirmed: {
		ActionSend:   InvoiceStatusSent,
		ActionPay:    InvoiceStatusPaid,
		ActionCancel: InvoiceStatusCancelled,
	},
	InvoiceStatusSent: {
		ActionSend:   InvoiceStatusSent,
		ActionPay:    InvoiceStatusPaid,
		ActionCancel: InvoiceStatusCancelled,
	},
}

// Next returns the status reached by applying action from status
func Next(from InvoiceStatus, action Action) (InvoiceStatus, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return "", errors.NewDomainStateError(errors.CodeIllegalTransition,
		fmt.Sprintf("illegal transition: cannot %s an invoice in status %s", action, from)).
		WithDetails(map[string]interface{}{"from": string(from), "action": string(action)})
}

// ActionFor maps a requested target status to the action reaching it.
// Draft is never a target.
func ActionFor(target InvoiceStatus) (Action, bool) {
	switch target {
	case InvoiceStatusConfirmed:
		return ActionConfirm, true
	case InvoiceStatusSent:
		return ActionSend, true
	case InvoiceStatusPaid:
		return ActionPay, true
	case InvoiceStatusCancelled:
		return ActionCancel, true
	default:
		return "", false
	}
}

func (i *Invoice) apply(action Action) error {
	to, err := Next(i.Status, action)
	if err != nil {
		return err
	}
	i.Status = to
	i.UpdatedAt = clock.Now()
	return nil
}

func (i *Invoice) Confirm() error {
	if err := i.apply(ActionConfirm); err != nil {
		return err
	}
	at := i.UpdatedAt
	i.ConfirmedAt = &at
	return nil
}

// Send is idempotent; a re-send refreshes sent_at
func (i *Invoice) Send() error {
	if err := i.apply(ActionSend); err != nil {
		return err
	}
	at := i.UpdatedAt
	i.SentAt = &at
	return nil
}

// Pay marks the invoice paid with a positive amount. The status is checked
// first: paying a paid or cancelled invoice is a state error whatever the amount.
func (i *Invoice) Pay(amount int64) error {
	if _, err := Next(i.Status, ActionPay); err != nil {
		return err
	}
	if amount <= 0 {
		return errors.NewValidationError(errors.CodeInvalidAmount,
			fmt.Sprintf("amount paid must be positive, got %d", amount))
	}
	if err := i.apply(ActionPay); err != nil {
		return err
	}
	at := i.UpdatedAt
	i.PaidAt = &at
	i.AmountPaid = &amount
	return nil
}

func (i *Invoice) Cancel() error {
	if err := i.apply(ActionCancel); err != nil {
		return err
	}
	at := i.UpdatedAt
	i.CancelledAt = &at
	return nil
}

// Perform dispatches an action; used by bulk updates
func (i *Invoice) Perform(action Action) error {
	switch action {
	case ActionConfirm:
		return i.Confirm()
	case ActionSend:
		return i.Send()
	case ActionPay:
		return i.Pay(i.Total)
	case ActionCancel:
		return i.Cancel()
	default:
		return errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("unknown action %q", action))
	}
}
