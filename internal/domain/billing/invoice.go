package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
)

// InvoiceType is who bills whom
type InvoiceType string

const (
	InvoiceTypeHexekoToDivision   InvoiceType = "hexeko_to_division"
	InvoiceTypeDivisionToFinancer InvoiceType = "division_to_financer"
)

func (t InvoiceType) IsValid() bool {
	return t == InvoiceTypeHexekoToDivision || t == InvoiceTypeDivisionToFinancer
}

// Prefix is the leading part of invoice numbers of this type
func (t InvoiceType) Prefix() string {
	switch t {
	case InvoiceTypeHexekoToDivision:
		return "HEX"
	case InvoiceTypeDivisionToFinancer:
		return "DIV"
	default:
		return "INV"
	}
}

// RecipientType is the payer level billed by this invoice type
func (t InvoiceType) RecipientType() PayerType {
	if t == InvoiceTypeDivisionToFinancer {
		return PayerTypeFinancer
	}
	return PayerTypeDivision
}

// InvoiceStatus is a closed set; see transitions in lifecycle.go
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusConfirmed InvoiceStatus = "confirmed"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

var allStatuses = []InvoiceStatus{
	InvoiceStatusDraft,
	InvoiceStatusConfirmed,
	InvoiceStatusSent,
	InvoiceStatusPaid,
	InvoiceStatusCancelled,
}

func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("unknown invoice status %q", s))
}

func (s InvoiceStatus) IsTerminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCancelled
}

type ItemType string

const (
	ItemTypeCorePackage ItemType = "core_package"
	ItemTypeModule      ItemType = "module"
)

// Metadata is opaque key/value data attached to an invoice
type Metadata map[string]any

// Invoice is an immutable billing record once paid; only Metadata may change after that.
type Invoice struct {
	Amounts
	ID          uuid.UUID      `json:"id"`
	Number      string         `json:"invoice_number"`
	Type        InvoiceType    `json:"type"`
	Issuer      *PayerRef      `json:"issuer,omitempty"`
	Recipient   PayerRef       `json:"recipient"`
	PeriodStart time.Time      `json:"billing_period_start"`
	PeriodEnd   time.Time      `json:"billing_period_end"`
	Currency    string         `json:"currency"`
	VATRate     values.VATRate `json:"vat_rate"`
	Status      InvoiceStatus  `json:"status"`
	DueDate     time.Time      `json:"due_date"`
	Metadata    Metadata       `json:"metadata,omitempty"`
	ConfirmedAt *time.Time     `json:"confirmed_at,omitempty"`
	SentAt      *time.Time     `json:"sent_at,omitempty"`
	PaidAt      *time.Time     `json:"paid_at,omitempty"`
	CancelledAt *time.Time     `json:"cancelled_at,omitempty"`
	AmountPaid  *int64         `json:"amount_paid,omitempty"`
	BatchID     *uuid.UUID     `json:"batch_id,omitempty"`
	Items       []InvoiceItem  `json:"items,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// InvoiceItem is one priced line. The sum of item amounts equals the invoice amounts.
type InvoiceItem struct {
	Amounts
	ID                 uuid.UUID       `json:"id"`
	InvoiceID          uuid.UUID       `json:"invoice_id"`
	ItemType           ItemType        `json:"item_type"`
	ModuleID           *uuid.UUID      `json:"module_id,omitempty"`
	Label              string          `json:"label"`
	BeneficiariesCount int             `json:"beneficiaries_count"`
	UnitPrice          int64           `json:"unit_price"`
	Quantity           int64           `json:"quantity"`
	ProrataPercentage  decimal.Decimal `json:"prorata_percentage"`
	ProrataDays        int             `json:"prorata_days"`
	TotalDays          int             `json:"total_days"`
	VATRate            values.VATRate  `json:"vat_rate"`
	CreatedAt          time.Time       `json:"created_at"`
}

// InvoiceParams carries everything needed to open a new invoice
type InvoiceParams struct {
	Type      InvoiceType
	Issuer    *PayerRef
	Recipient PayerRef
	Period    values.Period
	Currency  string
	VATRate   values.VATRate
	DueDate   time.Time
	Metadata  Metadata
	BatchID   *uuid.UUID
	// Draft keeps manually entered invoices in draft whatever their type
	Draft bool
}

// NewInvoice opens an invoice with no items. Division invoices start as drafts;
// financer invoices skip review and start confirmed unless Draft is set.
func NewInvoice(p InvoiceParams) (*Invoice, error) {
	if !p.Type.IsValid() {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, fmt.Sprintf("invalid invoice type %q", p.Type))
	}
	if p.Recipient.ID == uuid.Nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "invoice recipient is required")
	}
	if p.Recipient.Type != p.Type.RecipientType() {
		return nil, errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("%s invoice cannot be addressed to a %s", p.Type, p.Recipient.Type))
	}
	if p.Period.End.Before(p.Period.Start) {
		return nil, errors.NewValidationError(errors.CodeInvalidPeriod, "billing period end is before its start")
	}
	if _, err := values.NewMoney(0, p.Currency); err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, err.Error())
	}

	now := clock.Now()
	inv := &Invoice{
		ID:          uuid.New(),
		Type:        p.Type,
		Issuer:      p.Issuer,
		Recipient:   p.Recipient,
		PeriodStart: p.Period.Start,
		PeriodEnd:   p.Period.End,
		Currency:    p.Currency,
		VATRate:     p.VATRate,
		Status:      InvoiceStatusDraft,
		DueDate:     p.DueDate,
		Metadata:    Metadata{},
		BatchID:     p.BatchID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for k, v := range p.Metadata {
		inv.Metadata[k] = v
	}

	if p.Type == InvoiceTypeDivisionToFinancer && !p.Draft {
		inv.Status = InvoiceStatusConfirmed
		inv.ConfirmedAt = &now
	}

	return inv, nil
}

// AddItem attaches a line and recomputes the invoice amounts from the item sums
func (i *Invoice) AddItem(item InvoiceItem) error {
	if i.Status.IsTerminal() {
		return errors.NewDomainStateError(errors.CodeInvoiceImmutable,
			fmt.Sprintf("cannot add items to a %s invoice", i.Status))
	}
	if !item.Amounts.IsBalanced() {
		return errors.NewValidationError(errors.CodeInvalidAmount, "item total must equal subtotal plus vat")
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.InvoiceID = i.ID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = i.CreatedAt
	}
	i.Items = append(i.Items, item)
	i.recompute()
	return nil
}

func (i *Invoice) recompute() {
	i.Amounts = Sum(itemAmounts(i.Items)...)
}

// CheckTotals verifies the item-sum invariant
func (i *Invoice) CheckTotals() error {
	if !i.Amounts.IsBalanced() {
		return errors.NewInternalError(fmt.Sprintf("invoice %s: total %d != subtotal %d + vat %d",
			i.ID, i.Total, i.Subtotal, i.VATAmount))
	}
	if len(i.Items) == 0 {
		return nil
	}
	sum := Sum(itemAmounts(i.Items)...)
	if sum != i.Amounts {
		return errors.NewInternalError(fmt.Sprintf("invoice %s: item sums %+v differ from invoice amounts %+v",
			i.ID, sum, i.Amounts))
	}
	return nil
}

func itemAmounts(items []InvoiceItem) []Amounts {
	out := make([]Amounts, len(items))
	for n, it := range items {
		out[n] = it.Amounts
	}
	return out
}

// Period returns the inclusive billing period
func (i *Invoice) Period() values.Period {
	return values.Period{Start: i.PeriodStart, End: i.PeriodEnd}
}

func (i *Invoice) TotalMoney() values.Money {
	return values.MustNewMoney(i.Total, i.Currency)
}

// UpdateMetadata merges keys into the invoice metadata; allowed in every status
func (i *Invoice) UpdateMetadata(md Metadata) {
	if i.Metadata == nil {
		i.Metadata = Metadata{}
	}
	for k, v := range md {
		i.Metadata[k] = v
	}
	i.UpdatedAt = clock.Now()
}

// NewItem prices one line from its prorata and VAT rate
func NewItem(itemType ItemType, label string, unitPrice int64, beneficiaries int, prorata ProrataCalculation, rate values.VATRate) InvoiceItem {
	qty := int64(beneficiaries)
	return InvoiceItem{
		ID:                 uuid.New(),
		ItemType:           itemType,
		Label:              label,
		BeneficiariesCount: beneficiaries,
		UnitPrice:          unitPrice,
		Quantity:           qty,
		ProrataPercentage:  prorata.Percentage,
		ProrataDays:        prorata.Days,
		TotalDays:          prorata.TotalDays,
		Amounts:            NewAmountCalculator().Calculate(unitPrice, qty, prorata.Percentage, rate),
		VATRate:            rate,
	}
}

// NewFlatItem prices a manually entered line over the full period:
// subtotal = unit price x quantity.
func NewFlatItem(itemType ItemType, label string, unitPrice, quantity int64, beneficiaries int, period values.Period, rate values.VATRate) InvoiceItem {
	full := FullProrata(period)
	return InvoiceItem{
		ID:                 uuid.New(),
		ItemType:           itemType,
		Label:              label,
		BeneficiariesCount: beneficiaries,
		UnitPrice:          unitPrice,
		Quantity:           quantity,
		ProrataPercentage:  full.Percentage,
		ProrataDays:        full.Days,
		TotalDays:          full.TotalDays,
		Amounts:            NewAmountCalculator().Calculate(unitPrice, quantity, full.Percentage, rate),
		VATRate:            rate,
	}
}
