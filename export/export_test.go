package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estate-billing/billing"
)

func sampleCharges() []billing.Charge {
	period := billing.MustParsePeriod("2025-03")
	return []billing.Charge{
		{
			ID: "ch-1", UnitID: "0903", Period: period,
			Service:     billing.FeeLine{Base: decimal.NewFromInt(1237500), VATPercent: decimal.NewFromInt(10), Total: decimal.NewFromInt(1361250)},
			Water:       billing.FeeLine{Base: decimal.NewFromInt(100000), VATPercent: decimal.NewFromInt(5), Total: decimal.NewFromInt(105000)},
			Consumption: decimal.NewFromInt(15),
			TotalDue:    decimal.NewFromInt(2729203),
			TotalPaid:   decimal.NewFromInt(2729203),
			Status:      billing.StatusPaidBank,
		},
		{
			ID: "ch-2", UnitID: "K01", Period: period,
			Adjustments: decimal.NewFromInt(-50000),
			TotalDue:    decimal.NewFromInt(450000),
			Status:      billing.StatusPending,
			Warnings:    []string{"no parking tariff"},
		},
	}
}

func TestChargesXLSX(t *testing.T) {
	// GIVEN: Two charges of March
	// WHEN: Rendering the period sheet
	// THEN: The summary totals and one row per charge are readable back

	data, err := ChargesXLSX(Building{Name: "Warp Tower"}, billing.MustParsePeriod("2025-03"), sampleCharges())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"summary", "charges"}, f.GetSheetList())

	period, err := f.GetCellValue("summary", "B4")
	require.NoError(t, err)
	assert.Equal(t, "2025-03", period)
	due, err := f.GetCellValue("summary", "B6")
	require.NoError(t, err)
	assert.Equal(t, "3179203", due)
	outstanding, err := f.GetCellValue("summary", "B8")
	require.NoError(t, err)
	assert.Equal(t, "450000", outstanding)

	rows, err := f.GetRows("charges")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Unit", rows[0][0])
	assert.Equal(t, "0903", rows[1][0])
	assert.Equal(t, "paid_ck", rows[1][1])
	assert.Equal(t, "K01", rows[2][0])
	assert.Equal(t, "no parking tariff", rows[2][11])
}

func TestInvoicePDF(t *testing.T) {
	c := sampleCharges()[0]
	data, err := InvoicePDF(Invoice{
		Building: Building{Name: "Warp Tower", Address: "1 Tran Duy Hung, Hanoi"},
		Charge:   c,
		Owner:    &billing.Owner{Name: "Nguyen Van A"},
		IssuedAt: time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	data, err = InvoicePDF(Invoice{Charge: sampleCharges()[1]})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFormatVND(t *testing.T) {
	tests := map[string]string{
		"0":          "0",
		"999":        "999",
		"1000":       "1.000",
		"2729203":    "2.729.203",
		"2729202.6":  "2.729.203",
		"-50000":     "-50.000",
		"1500000000": "1.500.000.000",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatVND(decimal.RequireFromString(in)), in)
	}
}
