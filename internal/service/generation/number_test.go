package generation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/division-billing/internal/domain/billing"
	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
	"github.com/davidleathers/division-billing/internal/domain/values"
)

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "HEX-202505-000001", FormatNumber(billing.InvoiceTypeHexekoToDivision, "202505", 1))
	assert.Equal(t, "DIV-202412-000123", FormatNumber(billing.InvoiceTypeDivisionToFinancer, "202412", 123))
	assert.Equal(t, "INV-202501-1234567", FormatNumber("other", "202501", 1234567))
}

func TestNumberGenerator_RetriesConflictOnce(t *testing.T) {
	seq := &mockNumberSequence{}
	seq.On("NextValue", mock.Anything, billing.InvoiceTypeHexekoToDivision, "202505").
		Return(int64(0), apperrors.NewConflictError("counter contended")).Once()
	seq.On("NextValue", mock.Anything, billing.InvoiceTypeHexekoToDivision, "202505").
		Return(int64(7), nil).Once()

	number, err := NewNumberGenerator(seq, passthroughTx{}).Next(context.Background(), billing.InvoiceTypeHexekoToDivision, day(2025, 5, 31))
	require.NoError(t, err)
	assert.Equal(t, "HEX-202505-000007", number)
	seq.AssertExpectations(t)
}

func TestNumberGenerator_SecondConflictSurfaces(t *testing.T) {
	seq := &mockNumberSequence{}
	seq.On("NextValue", mock.Anything, billing.InvoiceTypeDivisionToFinancer, "202505").
		Return(int64(0), apperrors.NewConflictError("counter contended")).Twice()

	_, err := NewNumberGenerator(seq, passthroughTx{}).Next(context.Background(), billing.InvoiceTypeDivisionToFinancer, day(2025, 5, 31))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	seq.AssertNumberOfCalls(t, "NextValue", 2)
}

func TestNumberGenerator_OtherErrorsAreNotRetried(t *testing.T) {
	seq := &mockNumberSequence{}
	seq.On("NextValue", mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), apperrors.NewInternalError("connection reset")).Once()

	_, err := NewNumberGenerator(seq, passthroughTx{}).Next(context.Background(), billing.InvoiceTypeDivisionToFinancer, day(2025, 5, 31))
	require.Error(t, err)
	seq.AssertNumberOfCalls(t, "NextValue", 1)
}

func TestVATResolver(t *testing.T) {
	lookup, err := NewConfigVATLookup(map[string]string{"fr": "20.00", "BE": "21"})
	require.NoError(t, err)
	resolver := NewVATResolver(lookup, "FR", "EUR")
	override := values.MustVATRate("5.50")

	tests := []struct {
		name     string
		division *billing.Division
		country  string
		currency string
		rate     string
		code     string
	}{
		{"no division uses defaults", nil, "FR", "EUR", "20.00", ""},
		{"country table", &billing.Division{Country: "be", Currency: "EUR"}, "BE", "EUR", "21.00", ""},
		{"override wins", &billing.Division{Country: "BE", Currency: "GBP", VATRate: &override}, "BE", "GBP", "5.50", ""},
		{"empty country falls back", &billing.Division{}, "FR", "EUR", "20.00", ""},
		{"unknown country", &billing.Division{Country: "XX"}, "", "", "", apperrors.CodeUnknownVATCountry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := resolver.ForDivision(tt.division)
			if tt.code != "" {
				assert.Equal(t, tt.code, apperrors.Code(err))
				assert.True(t, apperrors.IsDomainState(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.country, res.Country)
			assert.Equal(t, tt.currency, res.Currency)
			assert.Equal(t, tt.rate, res.Rate.String())
		})
	}

	_, err = NewConfigVATLookup(map[string]string{"FR": "abc"})
	assert.Error(t, err)
}
