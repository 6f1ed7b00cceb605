package importer

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estate-billing/billing"
)

// workbook writes rows to the first sheet of a new XLSX file.
func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", fmt.Sprintf("A%d", i+1), &r))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func units() []billing.Unit {
	return []billing.Unit{
		{ID: "0903", Type: billing.UnitApartment},
		{ID: "1205", Type: billing.UnitApartment},
		{ID: "K01", Type: billing.UnitKiosk},
	}
}

func TestStatementParser_ClassifiesRows(t *testing.T) {
	// GIVEN: A bank export with a title block, a header, and five data rows
	// WHEN: Parsing it against the building's units
	// THEN: Every row lands in exactly one variant

	buf := workbook(t, [][]any{
		{"VCB account statement"},
		{},
		{"Transaction date", "Description", "Credit"},
		{"01/03/2025", "CH 0903 thanh toan phi thang 3", "2.729.203"},
		{"02/03/2025", "k01 nop tien", "1500000"},
		{"03/03/2025", "chuyen tien", "500000"},
		{"04/03/2025", "0903 va 1205 gop", "1000000"},
		{"05/03/2025", "1205 phi", "abc"},
		{"06/03/2025", "1205 rut tien", "-20000"},
		{},
	})

	st, err := NewStatementParser(units()).Parse(buf)
	require.NoError(t, err)
	require.Len(t, st.Rows, 6)

	m, ok := st.Rows[0].(MatchedRow)
	require.True(t, ok)
	assert.Equal(t, billing.UnitID("0903"), m.UnitID)
	assert.True(t, m.Amount.Equal(decimal.NewFromInt(2729203)))
	assert.Equal(t, 4, m.Line())

	kiosk, ok := st.Rows[1].(MatchedRow)
	require.True(t, ok)
	assert.Equal(t, billing.UnitID("K01"), kiosk.UnitID)

	unmatched := st.Unmatched()
	require.Len(t, unmatched, 2)
	assert.Empty(t, unmatched[0].Candidates)
	assert.Equal(t, []billing.UnitID{"0903", "1205"}, unmatched[1].Candidates)

	invalid := st.Invalid()
	require.Len(t, invalid, 2)
	assert.Equal(t, "not a credit", invalid[1].Reason)
}

func TestStatement_MatchesSumsPerUnit(t *testing.T) {
	p := NewStatementParser(units())
	st, err := p.ParseRows([][]string{
		{"Description", "Amount"},
		{"0903 part 1", "1000000"},
		{"0903 part 2", "1,729,203"},
		{"9999 unknown unit", "10"},
	})
	require.NoError(t, err)

	matches := st.Matches()
	require.Len(t, matches, 1)
	assert.True(t, matches["0903"].Equal(decimal.NewFromInt(2729203)))
	assert.Len(t, st.Unmatched(), 1, "codes of units outside the building never match")
}

func TestStatementParser_IgnoresDatesInNotes(t *testing.T) {
	// GIVEN: A building with a unit numbered 2025
	// WHEN: Notes carry the billing month next to the unit code
	// THEN: The year is not read as a unit code and the payment is attributed
	building := append(units(), billing.Unit{ID: "2025", Type: billing.UnitApartment, Status: billing.OccupancyOwner})
	st, err := NewStatementParser(building).ParseRows([][]string{
		{"Description", "Amount"},
		{"CH 0903 thanh toan phi thang 03/2025", "2729203"},
		{"1205 phi 2025-03", "1500000"},
		{"2025 dong phi ngay 15.03.2025", "900000"},
	})
	require.NoError(t, err)
	require.Len(t, st.Rows, 3)

	for i, want := range []billing.UnitID{"0903", "1205", "2025"} {
		m, ok := st.Rows[i].(MatchedRow)
		require.True(t, ok, "row %d: %#v", i, st.Rows[i])
		assert.Equal(t, want, m.UnitID)
	}
}

func TestStatementParser_NoHeader(t *testing.T) {
	_, err := NewStatementParser(units()).ParseRows([][]string{{"foo", "bar"}, {"1", "2"}})
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1500000", "1500000", true},
		{"1.500.000", "1500000", true},
		{"1,500,000", "1500000", true},
		{"1500000 VND", "1500000", true},
		{"1.500.000đ", "1500000", true},
		{"-20000", "-20000", true},
		{"1234.5", "1234.5", true},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseRoster(t *testing.T) {
	// GIVEN: A roster with valid, defaulted, malformed and duplicate rows
	// WHEN: Parsing it
	// THEN: Valid rows carry units and owners, the rest are invalid with reasons

	buf := workbook(t, [][]any{
		{"Unit", "Type", "Area (m2)", "Status", "Owner", "Phone", "Email"},
		{"0903", "apartment", 75.5, "rented", "Nguyen Van A", "0912345678", "a@example.com"},
		{"K01", "", 20, "", "", "", ""},
		{"0904", "kiosk", 30, "", "", "", ""},
		{"1001", "", "big", "", "", "", ""},
		{"1002", "", 60, "vacant", "", "", ""},
		{"0903", "", 70, "", "", "", ""},
	})

	roster, err := ParseRoster(buf)
	require.NoError(t, err)

	valid := roster.Units()
	require.Len(t, valid, 2)

	assert.Equal(t, billing.UnitID("0903"), valid[0].Unit.ID)
	assert.Equal(t, billing.OccupancyRented, valid[0].Unit.Status)
	assert.True(t, valid[0].Unit.AreaM2.Equal(decimal.RequireFromString("75.5")))
	require.NotNil(t, valid[0].Owner)
	assert.Equal(t, "Nguyen Van A", valid[0].Owner.Name)
	assert.Equal(t, billing.UnitID("0903"), valid[0].Owner.UnitID)

	assert.Equal(t, billing.UnitKiosk, valid[1].Unit.Type)
	assert.Equal(t, billing.OccupancyBusiness, valid[1].Unit.Status)
	assert.Nil(t, valid[1].Owner)

	invalid := roster.Invalid()
	require.Len(t, invalid, 4)
	assert.Contains(t, invalid[0].Reason, "malformed kiosk code")
	assert.Contains(t, invalid[1].Reason, "invalid area")
	assert.Contains(t, invalid[2].Reason, "unknown occupancy")
	assert.Contains(t, invalid[3].Reason, "already listed on row 2")
}
