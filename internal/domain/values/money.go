package values

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money represents an amount in the smallest currency unit (cents).
// Arithmetic never goes through floating point.
type Money struct {
	amount   int64
	currency string
}

// Common currency codes (ISO 4217)
const (
	EUR = "EUR"
	USD = "USD"
	GBP = "GBP"
	CHF = "CHF"
)

var hundred = decimal.NewFromInt(100)

// NewMoney creates a Money value from minor units
func NewMoney(minor int64, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}

	return Money{amount: minor, currency: currency}, nil
}

// MustNewMoney creates Money and panics on error (for constants/tests)
func MustNewMoney(minor int64, currency string) Money {
	m, err := NewMoney(minor, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero Money value in the given currency
func Zero(currency string) Money {
	return MustNewMoney(0, currency)
}

// Minor returns the amount in minor units
func (m Money) Minor() int64 {
	return m.amount
}

// Currency returns the currency code
func (m Money) Currency() string {
	return m.currency
}

// Decimal returns the amount in major units (e.g. 120.50)
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.amount).Div(hundred)
}

// String returns formatted money string (e.g., "€123.45")
func (m Money) String() string {
	return getCurrencySymbol(m.currency) + m.Decimal().StringFixed(2)
}

// StringWithCode returns money with currency code (e.g., "123.45 EUR")
func (m Money) StringWithCode() string {
	return m.Decimal().StringFixed(2) + " " + m.currency
}

func (m Money) IsZero() bool {
	return m.amount == 0
}

func (m Money) IsPositive() bool {
	return m.amount > 0
}

func (m Money) IsNegative() bool {
	return m.amount < 0
}

// Equal checks if two Money values are equal (same amount and currency)
func (m Money) Equal(other Money) bool {
	return m.amount == other.amount && m.currency == other.currency
}

// Add adds two Money values (must have same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot add different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount + other.amount, currency: m.currency}, nil
}

// Sub subtracts other Money from this Money (must have same currency)
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, fmt.Errorf("cannot subtract different currencies: %s and %s", m.currency, other.currency)
	}
	return Money{amount: m.amount - other.amount, currency: m.currency}, nil
}

// MulRound multiplies by a decimal factor and rounds the result to whole minor units,
// ties away from zero.
func (m Money) MulRound(factor decimal.Decimal) Money {
	return Money{
		amount:   RoundHalfAwayFromZero(decimal.NewFromInt(m.amount).Mul(factor)),
		currency: m.currency,
	}
}

// RoundHalfAwayFromZero rounds d to an integer, sending ties away from zero
// (2.5 -> 3, -2.5 -> -3). Banker's rounding is deliberately not used.
func RoundHalfAwayFromZero(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// MarshalJSON encodes Money as {"amount": <minor>, "currency": "EUR"}
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}{
		Amount:   m.amount,
		Currency: m.currency,
	})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var temp struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	money, err := NewMoney(temp.Amount, temp.Currency)
	if err != nil {
		return err
	}

	*m = money
	return nil
}

func validateCurrency(currency string) error {
	if currency == "" {
		return fmt.Errorf("currency cannot be empty")
	}

	if len(currency) != 3 {
		return fmt.Errorf("currency code must be 3 characters")
	}

	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("invalid currency code: %s", currency)
		}
	}

	return nil
}

func getCurrencySymbol(currency string) string {
	symbols := map[string]string{
		USD: "$",
		EUR: "€",
		GBP: "£",
	}

	if symbol, ok := symbols[currency]; ok {
		return symbol
	}
	return currency + " "
}
