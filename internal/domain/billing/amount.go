package billing

import (
	"github.com/shopspring/decimal"

	"github.com/davidleathers/division-billing/internal/domain/values"
)

// Amounts holds the subtotal/VAT/total triple in minor units.
// Total is always Subtotal + VATAmount.
type Amounts struct {
	Subtotal  int64 `json:"subtotal"`
	VATAmount int64 `json:"vat_amount"`
	Total     int64 `json:"total"`
}

func (a Amounts) Add(other Amounts) Amounts {
	return Amounts{
		Subtotal:  a.Subtotal + other.Subtotal,
		VATAmount: a.VATAmount + other.VATAmount,
		Total:     a.Total + other.Total,
	}
}

func (a Amounts) IsBalanced() bool {
	return a.Total == a.Subtotal+a.VATAmount
}

// Sum aggregates already-rounded item amounts
func Sum(items ...Amounts) Amounts {
	var total Amounts
	for _, it := range items {
		total = total.Add(it)
	}
	return total
}

type AmountCalculator struct{}

func NewAmountCalculator() *AmountCalculator {
	return &AmountCalculator{}
}

// Calculate rounds half away from zero at each step:
// subtotal = round(unit * qty * prorata), vat = round(subtotal * rate fraction).
func (c *AmountCalculator) Calculate(unitPrice, quantity int64, prorata decimal.Decimal, rate values.VATRate) Amounts {
	gross := decimal.NewFromInt(unitPrice).
		Mul(decimal.NewFromInt(quantity)).
		Mul(prorata)
	subtotal := values.RoundHalfAwayFromZero(gross)

	vat := values.RoundHalfAwayFromZero(decimal.NewFromInt(subtotal).Mul(rate.Fraction()))

	return Amounts{
		Subtotal:  subtotal,
		VATAmount: vat,
		Total:     subtotal + vat,
	}
}
