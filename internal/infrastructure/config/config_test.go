package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "FR", cfg.Billing.DefaultCountry)
	assert.Equal(t, "EUR", cfg.Billing.DefaultCurrency)
	assert.Equal(t, 30, cfg.Billing.PaymentTermDays)
	assert.Equal(t, "20.00", cfg.Billing.VATRates["FR"])
	assert.Equal(t, 24*time.Hour, cfg.PDF.TTL())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
billing:
  payment_term_days: 45
pdf:
  backend: redis
  ttl_hours: 2
`), 0o600))

	t.Setenv("BILLING_DATABASE_MAX_CONNS", "42")
	t.Setenv("BILLING_PDF_KEY_PREFIX", "test:pdf:")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 45, cfg.Billing.PaymentTermDays)
	assert.Equal(t, "redis", cfg.PDF.Backend)
	assert.Equal(t, 2, cfg.PDF.TTLHours)
	assert.Equal(t, int32(42), cfg.Database.MaxConns)
	assert.Equal(t, "test:pdf:", cfg.PDF.KeyPrefix)
}

func TestLoad_VATRatesFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("billing:\n  vat_rates:\n    NL: \"21.00\"\n"), 0o600))

	t.Setenv("BILLING_BILLING_VAT_RATES_DE", "19.00")
	t.Setenv("BILLING_BILLING_VAT_RATES_FR", "5.50")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "19.00", cfg.Billing.VATRates["DE"])
	assert.Equal(t, "5.50", cfg.Billing.VATRates["FR"], "env overrides the default entry")
	assert.Equal(t, "21.00", cfg.Billing.VATRates["NL"], "file entries are kept")
	assert.Equal(t, "21.00", cfg.Billing.VATRates["BE"], "default entries are kept")
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	for name, body := range map[string]string{
		"unknown backend":   "pdf:\n  backend: ftp\n",
		"s3 without bucket": "pdf:\n  backend: s3\n",
		"bad pushgateway":   "telemetry:\n  pushgateway_url: not a url\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "billing.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"BILLING_LOG_LEVEL":                 "log_level",
		"BILLING_DATABASE_URL":              "database.url",
		"BILLING_BILLING_PAYMENT_TERM_DAYS": "billing.payment_term_days",
		"BILLING_TELEMETRY_OTLP_ENDPOINT":   "telemetry.otlp_endpoint",
		"BILLING_PDF_S3_BUCKET":             "pdf.s3.bucket",
		"BILLING_PDF_TTL_HOURS":             "pdf.ttl_hours",
		"BILLING_BILLING_VAT_RATES_DE":      "billing.vat_rates.DE",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
