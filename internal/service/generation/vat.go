package generation

import (
	"fmt"
	"strings"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	"github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
)

// ConfigVATLookup serves the configured country table
type ConfigVATLookup struct {
	rates map[string]values.VATRate
}

// NewConfigVATLookup parses {"FR": "20.00", ...}
func NewConfigVATLookup(table map[string]string) (*ConfigVATLookup, error) {
	rates := make(map[string]values.VATRate, len(table))
	for country, raw := range table {
		rate, err := values.NewVATRateFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("vat rate for %s: %w", country, err)
		}
		rates[strings.ToUpper(country)] = rate
	}
	return &ConfigVATLookup{rates: rates}, nil
}

func (l *ConfigVATLookup) RateFor(country string) (values.VATRate, bool) {
	rate, ok := l.rates[strings.ToUpper(country)]
	return rate, ok
}

// Resolution is the tax context an invoice is issued under
type Resolution struct {
	Country  string
	Currency string
	Rate     values.VATRate
}

type VATResolver struct {
	lookup          VatRateLookup
	defaultCountry  string
	defaultCurrency string
}

func NewVATResolver(lookup VatRateLookup, defaultCountry, defaultCurrency string) *VATResolver {
	return &VATResolver{lookup: lookup, defaultCountry: defaultCountry, defaultCurrency: defaultCurrency}
}

// ForDivision prefers the division's override, then the country table
func (r *VATResolver) ForDivision(d *billing.Division) (Resolution, error) {
	res := Resolution{Country: r.defaultCountry, Currency: r.defaultCurrency}
	if d == nil {
		return r.fromCountry(res)
	}
	if d.Country != "" {
		res.Country = strings.ToUpper(d.Country)
	}
	if d.Currency != "" {
		res.Currency = d.Currency
	}
	if d.VATRate != nil {
		res.Rate = *d.VATRate
		return res, nil
	}
	return r.fromCountry(res)
}

// ForFinancer inherits everything from the parent division; nil parent uses defaults
func (r *VATResolver) ForFinancer(parent *billing.Division) (Resolution, error) {
	return r.ForDivision(parent)
}

func (r *VATResolver) fromCountry(res Resolution) (Resolution, error) {
	rate, ok := r.lookup.RateFor(res.Country)
	if !ok {
		return Resolution{}, errors.NewDomainStateError(errors.CodeUnknownVATCountry,
			fmt.Sprintf("no VAT rate configured for country %q", res.Country))
	}
	res.Rate = rate
	return res, nil
}
