package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("BILLING_LOG_LEVEL", "error")

	c := &cli{}
	root := newRootCmd(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := execute(context.Background(), root, c)
	return out.String(), err
}

func TestCLI_ArgumentValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"generate needs a month", []string{"generate"}, `required flag(s) "month" not set`},
		{"division and financer exclude each other", []string{"generate", "-m", "2025-05", "--division", uuid.NewString(), "--financer", uuid.NewString()}, "none of the others can be"},
		{"bad division id", []string{"generate", "-m", "2025-05", "--division", "nope"}, `invalid division id "nope"`},
		{"confirm needs an id", []string{"invoice", "confirm"}, "accepts 1 arg(s)"},
		{"bad invoice id", []string{"invoice", "send", "42"}, `invalid invoice id "42"`},
		{"bulk status needs a target", []string{"invoice", "bulk-status", uuid.NewString()}, `required flag(s) "status" not set`},
		{"metadata pairs", []string{"invoice", "metadata", uuid.NewString(), "--set", "po"}, `metadata must be key=value, got "po"`},
		{"bad log level", []string{"--log-level", "loud", "status"}, "unknown log level"},
		{"list bad recipient", []string{"invoice", "list", "--recipient", "acme"}, `invalid recipient id "acme"`},
		{"list bad period", []string{"invoice", "list", "--period-start", "05/01/2025"}, `invalid period-start "05/01/2025"`},
		{"create needs items", []string{"invoice", "create", "--recipient-type", "division", "--recipient", uuid.NewString(),
			"--start", "2025-05-01", "--end", "2025-05-31", "--vat-rate", "20"}, `required flag(s) "item" not set`},
		{"create bad item", []string{"invoice", "create", "--recipient-type", "division", "--recipient", uuid.NewString(),
			"--start", "2025-05-01", "--end", "2025-05-31", "--vat-rate", "20", "--item", "type=module,qty=two"}, `invalid item qty "two"`},
		{"create bad end", []string{"invoice", "create", "--recipient-type", "division", "--recipient", uuid.NewString(),
			"--start", "2025-05-01", "--end", "May", "--vat-rate", "20", "--item", "type=module"}, `invalid end date "May"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestOptionalUUID(t *testing.T) {
	got, err := optionalUUID("division", "")
	require.NoError(t, err)
	assert.Nil(t, got)

	id := uuid.New()
	got, err = optionalUUID("division", id.String())
	require.NoError(t, err)
	assert.Equal(t, id, *got)
}

func TestExecute_TearsDownAfterFailedCommand(t *testing.T) {
	t.Setenv("BILLING_LOG_LEVEL", "error")
	t.Setenv("BILLING_TELEMETRY_ENABLED", "false")
	c := &cli{}
	root := newRootCmd(c)

	var shutdowns int
	root.AddCommand(&cobra.Command{
		Use: "fail",
		RunE: func(cmd *cobra.Command, args []string) error {
			c.shutdown = func(ctx context.Context) error {
				shutdowns++
				return ctx.Err()
			}
			return errors.New("boom")
		},
	})
	root.SetArgs([]string{"fail"})
	root.SetOut(&bytes.Buffer{})

	err := execute(context.Background(), root, c)
	require.EqualError(t, err, "boom")
	assert.Equal(t, 1, shutdowns)
	assert.Nil(t, c.shutdown)
}

func TestParseItem(t *testing.T) {
	moduleID := uuid.New()
	item, err := parseItem(`type=module,label="Wellbeing",unit=250,qty=3,beneficiaries=3,module=` + moduleID.String())
	require.NoError(t, err)
	assert.Equal(t, "module", string(item.ItemType))
	assert.Equal(t, "Wellbeing", item.Label)
	assert.Equal(t, int64(250), item.UnitPrice)
	assert.Equal(t, int64(3), item.Quantity)
	assert.Equal(t, 3, item.BeneficiariesCount)
	assert.Equal(t, moduleID, *item.ModuleID)

	for raw, want := range map[string]string{
		"type=module,colour=red": `unknown item field "colour"`,
		"type=module,unit":       `item field must be key=value, got "unit"`,
		"unit=1.5":               `invalid item unit "1.5"`,
	} {
		_, err := parseItem(raw)
		require.Error(t, err, raw)
		assert.Contains(t, err.Error(), want)
	}
}
