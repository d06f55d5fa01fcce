package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/division-billing/internal/domain/values"
)

// ProrataPrecision is the number of decimal places kept on the percentage
const ProrataPrecision = 4

// ProrataCalculation is the activation fraction of one billing period.
// It is embedded into invoice items and never persisted on its own.
type ProrataCalculation struct {
	Percentage       decimal.Decimal `json:"percentage"`
	Days             int             `json:"days"`
	TotalDays        int             `json:"total_days"`
	PeriodStart      time.Time       `json:"period_start"`
	PeriodEnd        time.Time       `json:"period_end"`
	ActivationDate   *time.Time      `json:"activation_date,omitempty"`
	DeactivationDate *time.Time      `json:"deactivation_date,omitempty"`
}

// FullProrata is used when no activation date is tracked for the billed entity
func FullProrata(period values.Period) ProrataCalculation {
	days := period.Days()
	return ProrataCalculation{
		Percentage:  decimal.NewFromInt(1),
		Days:        days,
		TotalDays:   days,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}
}

type ProrataCalculator struct{}

func NewProrataCalculator() *ProrataCalculator {
	return &ProrataCalculator{}
}

// Calculate computes the share of [periodStart, periodEnd] during which an entity
// activated at activation (and optionally deactivated) was live. Bounds are inclusive
// calendar days in UTC.
func (c *ProrataCalculator) Calculate(activation *time.Time, periodStart, periodEnd time.Time, deactivation *time.Time) ProrataCalculation {
	start := values.TruncateDay(periodStart)
	end := values.TruncateDay(periodEnd)
	total := values.DaysBetweenInclusive(start, end)

	result := ProrataCalculation{
		Percentage:  decimal.Zero,
		TotalDays:   total,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	if total == 0 {
		return result
	}

	effectiveStart := start
	if activation != nil {
		a := values.TruncateDay(*activation)
		if a.After(start) {
			effectiveStart = a
		}
		result.ActivationDate = &effectiveStart
	}

	effectiveEnd := end
	if deactivation != nil {
		d := values.TruncateDay(*deactivation)
		if d.Before(end) {
			effectiveEnd = d
		}
		result.DeactivationDate = &effectiveEnd
	}

	days := values.DaysBetweenInclusive(effectiveStart, effectiveEnd)
	if days > total {
		days = total
	}
	result.Days = days

	// DivRound ties away from zero
	pct := decimal.NewFromInt(int64(days)).DivRound(decimal.NewFromInt(int64(total)), ProrataPrecision)
	result.Percentage = clampUnit(pct)

	return result
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
