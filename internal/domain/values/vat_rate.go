package values

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// VATRate is a VAT percentage (20.00 means 20%), normalized to two decimal places.
type VATRate struct {
	pct decimal.Decimal
}

var maxVATRate = decimal.NewFromInt(100)

// NewVATRate validates and normalizes a percentage
func NewVATRate(pct decimal.Decimal) (VATRate, error) {
	if pct.IsNegative() {
		return VATRate{}, fmt.Errorf("vat rate cannot be negative: %s", pct)
	}
	if pct.GreaterThan(maxVATRate) {
		return VATRate{}, fmt.Errorf("vat rate cannot exceed 100%%: %s", pct)
	}
	return VATRate{pct: pct.Round(2)}, nil
}

// NewVATRateFromString parses "20", "20.5" or "21.00"
func NewVATRateFromString(s string) (VATRate, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return VATRate{}, fmt.Errorf("invalid vat rate %q: %w", s, err)
	}
	return NewVATRate(d)
}

// MustVATRate panics on invalid input (for constants/tests)
func MustVATRate(s string) VATRate {
	r, err := NewVATRateFromString(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Percentage returns the rate as a percentage (20.00)
func (r VATRate) Percentage() decimal.Decimal {
	return r.pct
}

// Fraction returns the rate as a fraction (0.2)
func (r VATRate) Fraction() decimal.Decimal {
	return r.pct.Div(hundred)
}

// String returns the 2dp representation used on write ("20.00")
func (r VATRate) String() string {
	return r.pct.StringFixed(2)
}

func (r VATRate) Equal(other VATRate) bool {
	return r.pct.Equal(other.pct)
}

func (r VATRate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *VATRate) UnmarshalText(text []byte) error {
	rate, err := NewVATRateFromString(string(text))
	if err != nil {
		return err
	}
	*r = rate
	return nil
}
