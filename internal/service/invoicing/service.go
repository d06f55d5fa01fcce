package invoicing

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/ledger"
	"github.com/davidleathers/division-billing/internal/domain/values"
	"github.com/davidleathers/division-billing/internal/infrastructure/telemetry"
	"github.com/davidleathers/division-billing/internal/metrics"
)

const (
	notFoundMessage = "Invoice not found"
	paymentTermDays = 30
)

var _ Service = (*service)(nil)

type service struct {
	logger    *zap.Logger
	invoices  InvoiceRepository
	payers    PayerReader
	numbers   NumberAllocator
	balances  *ledger.BalanceRepository
	tx        ledger.Transactor
	metrics   *metrics.Registry
	tracer    *telemetry.Tracer
	validate  *validator.Validate
}

// NewService creates the lifecycle service. registry may be nil.
func NewService(
	logger *zap.Logger,
	invoices InvoiceRepository,
	payers PayerReader,
	numbers NumberAllocator,
	balances *ledger.BalanceRepository,
	tx ledger.Transactor,
	registry *metrics.Registry,
) Service {
	return &service{
		logger:    logger,
		invoices:  invoices,
		payers:    payers,
		numbers:   numbers,
		balances:  balances,
		tx:        tx,
		metrics:   registry,
		tracer:    telemetry.NewTracer("billing.invoicing"),
		validate:  validator.New(),
	}
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return s.invoices.Get(ctx, id)
}

func (s *service) List(ctx context.Context, req ListRequest) (*billing.InvoicePage, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "invalid invoice listing").WithCause(err)
	}
	f := billing.InvoiceFilter{
		RecipientID:     req.RecipientID,
		PeriodStartFrom: req.PeriodStart,
		PeriodEndTo:     req.PeriodEnd,
		Page:            req.Page,
		PerPage:         req.PerPage,
	}
	if req.Status != "" {
		status, err := billing.ParseInvoiceStatus(req.Status)
		if err != nil {
			return nil, err
		}
		f.Status = &status
	}
	return s.invoices.List(ctx, f)
}

func (s *service) Create(ctx context.Context, req CreateRequest) (inv *billing.Invoice, err error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "invalid invoice").WithCause(err)
	}
	rate, err := values.NewVATRateFromString(req.VATRate)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, err.Error())
	}
	period, err := values.NewPeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidPeriod, err.Error())
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = values.EUR
	}
	due := period.End.AddDate(0, 0, paymentTermDays)
	if req.DueDate != nil {
		due = values.TruncateDay(*req.DueDate)
	}

	ctx, span := s.tracer.Start(ctx, "invoicing.create", map[string]interface{}{
		"recipient_type": string(req.RecipientType),
		"recipient_id":   req.RecipientID,
	})
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		params, divisionID, err := s.address(ctx, req.RecipientType, req.RecipientID)
		if err != nil {
			return err
		}
		params.Period = period
		params.Currency = currency
		params.VATRate = rate
		params.DueDate = due
		params.Metadata = req.Metadata
		params.Draft = true

		created, err := billing.NewInvoice(params)
		if err != nil {
			return err
		}
		for _, it := range req.Items {
			item := billing.NewFlatItem(it.ItemType, it.Label, it.UnitPrice, it.Quantity, it.BeneficiariesCount, period, rate)
			item.ModuleID = it.ModuleID
			if err := created.AddItem(item); err != nil {
				return err
			}
		}
		if err := created.CheckTotals(); err != nil {
			return err
		}

		if created.Number, err = s.numbers.Next(ctx, created.Type, created.PeriodEnd); err != nil {
			return err
		}
		if err := s.invoices.Create(ctx, created); err != nil {
			return fmt.Errorf("store invoice %s: %w", created.Number, err)
		}
		if divisionID != nil {
			err := s.balances.Update(ctx, *divisionID, func(b *ledger.DivisionBalance) error {
				return b.RecordInvoiceGenerated(created.ID, created.TotalMoney(), created.CreatedAt)
			})
			if err != nil {
				return fmt.Errorf("record invoice on division ledger: %w", err)
			}
		}
		inv = created
		return nil
	})
	if err != nil {
		telemetry.WithTrace(ctx, s.logger).Warn("manual invoice rejected",
			zap.String("recipient_id", req.RecipientID.String()),
			zap.Error(err))
		return nil, err
	}

	telemetry.WithTrace(ctx, s.logger).Info("manual invoice created",
		zap.String("invoice_id", inv.ID.String()),
		zap.String("number", inv.Number),
		zap.Int64("total", inv.Total))
	return inv, nil
}

// address resolves the invoice type and issuer for a recipient, plus the
// division whose ledger the invoice is debited to
func (s *service) address(ctx context.Context, recipientType billing.PayerType, id uuid.UUID) (billing.InvoiceParams, *uuid.UUID, error) {
	switch recipientType {
	case billing.PayerTypeDivision:
		d, err := s.payers.GetDivision(ctx, id)
		if err != nil {
			return billing.InvoiceParams{}, nil, err
		}
		return billing.InvoiceParams{Type: billing.InvoiceTypeHexekoToDivision, Recipient: d.Ref()}, &d.ID, nil
	case billing.PayerTypeFinancer:
		f, err := s.payers.GetFinancer(ctx, id)
		if err != nil {
			return billing.InvoiceParams{}, nil, err
		}
		params := billing.InvoiceParams{Type: billing.InvoiceTypeDivisionToFinancer, Recipient: f.Ref()}
		if !f.HasDivision() {
			return params, nil, nil
		}
		issuer := billing.DivisionRef(*f.DivisionID)
		params.Issuer = &issuer
		return params, f.DivisionID, nil
	default:
		return billing.InvoiceParams{}, nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unknown recipient type %q", recipientType))
	}
}

func (s *service) Confirm(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return s.transition(ctx, id, billing.ActionConfirm, func(inv *billing.Invoice) error {
		return inv.Confirm()
	})
}

func (s *service) Send(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return s.transition(ctx, id, billing.ActionSend, func(inv *billing.Invoice) error {
		return inv.Send()
	})
}

func (s *service) Pay(ctx context.Context, id uuid.UUID, amount *int64) (*billing.Invoice, error) {
	return s.transition(ctx, id, billing.ActionPay, func(inv *billing.Invoice) error {
		return s.pay(ctx, inv, amount)
	})
}

func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*billing.Invoice, error) {
	return s.transition(ctx, id, billing.ActionCancel, func(inv *billing.Invoice) error {
		return inv.Cancel()
	})
}

// UpdateMetadata merges keys; it is the one change allowed in every status
func (s *service) UpdateMetadata(ctx context.Context, id uuid.UUID, metadata billing.Metadata) (*billing.Invoice, error) {
	var out *billing.Invoice
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		inv.UpdateMetadata(metadata)
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// BulkUpdateStatus applies one target status to many invoices, each in its own
// transaction. Failures are collected, never abort the remaining ids.
func (s *service) BulkUpdateStatus(ctx context.Context, req BulkUpdateRequest) (*BulkUpdateResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "invalid bulk status update").WithCause(err)
	}
	action, ok := billing.ActionFor(req.Status)
	if !ok {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("unsupported target status %q", req.Status))
	}

	logger := telemetry.WithTrace(ctx, s.logger).With(
		zap.String("target", string(req.Status)),
		zap.Int("count", len(req.IDs)),
	)

	result := &BulkUpdateResult{Errors: []BulkError{}}
	for _, id := range req.IDs {
		_, err := s.transition(ctx, id, action, func(inv *billing.Invoice) error {
			if action == billing.ActionPay {
				return s.pay(ctx, inv, nil)
			}
			return inv.Perform(action)
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkError{ID: id, Message: bulkMessage(err)})
			continue
		}
		result.Updated++
	}

	logger.Info("bulk status update finished",
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed))
	return result, nil
}

func bulkMessage(err error) string {
	if errors.IsNotFound(err) {
		return notFoundMessage
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// transition runs one lifecycle action in its own transaction with the invoice row locked
func (s *service) transition(ctx context.Context, id uuid.UUID, action billing.Action, apply func(inv *billing.Invoice) error) (inv *billing.Invoice, err error) {
	ctx, span := s.tracer.Start(ctx, "invoicing."+string(action), map[string]interface{}{
		"invoice_id": id,
	})
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
		if s.metrics != nil {
			s.metrics.RecordTransition(ctx, string(action), err == nil)
		}
	}()

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		current, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := apply(current); err != nil {
			return err
		}
		if err := s.invoices.Update(ctx, current); err != nil {
			return err
		}
		inv = current
		return nil
	})
	if err != nil {
		telemetry.WithTrace(ctx, s.logger).Warn("invoice transition failed",
			zap.String("invoice_id", id.String()),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil, err
	}
	return inv, nil
}

// pay settles the invoice and credits the owning division's ledger
func (s *service) pay(ctx context.Context, inv *billing.Invoice, amount *int64) error {
	paid := inv.Total
	if amount != nil {
		paid = *amount
	}
	if err := inv.Pay(paid); err != nil {
		return err
	}

	divisionID, err := s.owningDivision(ctx, inv)
	if err != nil || divisionID == nil {
		return err
	}

	money, err := values.NewMoney(paid, inv.Currency)
	if err != nil {
		return errors.NewValidationError(errors.CodeInvalidAmount, err.Error())
	}
	return s.balances.Update(ctx, *divisionID, func(b *ledger.DivisionBalance) error {
		return b.RecordInvoicePaid(inv.ID, money, *inv.PaidAt)
	})
}

// owningDivision is the recipient division, or a financer's parent; nil when there is none
func (s *service) owningDivision(ctx context.Context, inv *billing.Invoice) (*uuid.UUID, error) {
	switch inv.Recipient.Type {
	case billing.PayerTypeDivision:
		id := inv.Recipient.ID
		return &id, nil
	case billing.PayerTypeFinancer:
		f, err := s.payers.GetFinancer(ctx, inv.Recipient.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve financer %s: %w", inv.Recipient.ID, err)
		}
		if !f.HasDivision() {
			return nil, nil
		}
		return f.DivisionID, nil
	default:
		return nil, errors.NewInternalError(fmt.Sprintf("invoice %s has unknown recipient type %q", inv.ID, inv.Recipient.Type))
	}
}
