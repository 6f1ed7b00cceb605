package importer

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estate-billing/billing"
)

// =============================================================================
// UNIT ROSTER
// =============================================================================

var rosterColumns = []column{
	{"unit", []string{"unit", "căn", "code", "mã"}},
	{"type", []string{"type", "loại"}},
	{"area", []string{"area", "m2", "diện tích"}},
	{"status", []string{"status", "occupancy", "tình trạng"}},
	{"owner", []string{"owner", "name", "chủ", "họ tên"}},
	{"phone", []string{"phone", "sđt", "điện thoại"}},
	{"email", []string{"email"}},
}

// Roster is a parsed unit roster.
type Roster struct {
	Rows []ParsedRow
}

// ParseRoster reads an XLSX unit roster from r.
func ParseRoster(r io.Reader) (Roster, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Roster{}, fmt.Errorf("failed to open roster: %w", err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return Roster{}, fmt.Errorf("failed to read roster: %w", err)
	}
	return ParseRosterRows(rows)
}

// ParseRosterRows classifies already-extracted cell rows. A unit code that
// appears twice makes the second row invalid.
func ParseRosterRows(rows [][]string) (Roster, error) {
	header, idx, err := findHeader(rows, rosterColumns, []string{"unit", "area"})
	if err != nil {
		return Roster{}, err
	}

	var out Roster
	seen := make(map[billing.UnitID]int)
	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		parsed := rosterRow(i+1, row, idx)
		if ur, ok := parsed.(UnitRow); ok {
			if first, dup := seen[ur.Unit.ID]; dup {
				parsed = InvalidRow{Row: i + 1, Reason: fmt.Sprintf("unit %s already listed on row %d", ur.Unit.ID, first), Cells: row}
			} else {
				seen[ur.Unit.ID] = i + 1
			}
		}
		out.Rows = append(out.Rows, parsed)
	}
	return out, nil
}

func rosterRow(line int, row []string, idx map[string]int) ParsedRow {
	invalid := func(format string, args ...any) ParsedRow {
		return InvalidRow{Row: line, Reason: fmt.Sprintf(format, args...), Cells: row}
	}

	id := billing.UnitID(strings.ToUpper(cell(row, idx, "unit")))
	if id == "" {
		return invalid("missing unit code")
	}

	unitType := billing.UnitType(strings.ToLower(cell(row, idx, "type")))
	if unitType == "" {
		unitType = billing.UnitApartment
		if strings.HasPrefix(string(id), "K") {
			unitType = billing.UnitKiosk
		}
	}
	if !billing.ValidUnitCode(id, unitType) {
		return invalid("malformed %s code %q", unitType, id)
	}

	area, err := decimal.NewFromString(strings.ReplaceAll(cell(row, idx, "area"), ",", "."))
	if err != nil || area.IsNegative() {
		return invalid("invalid area %q", cell(row, idx, "area"))
	}

	status := billing.OccupancyStatus(strings.ToLower(cell(row, idx, "status")))
	if status == "" {
		status = billing.OccupancyOwner
		if unitType == billing.UnitKiosk {
			status = billing.OccupancyBusiness
		}
	}
	if !status.Valid() {
		return invalid("unknown occupancy status %q", status)
	}

	ur := UnitRow{Row: line, Unit: billing.Unit{ID: id, Type: unitType, AreaM2: area, Status: status}}
	if name := cell(row, idx, "owner"); name != "" {
		ur.Owner = &billing.Owner{
			ID:     billing.OwnerID("owner-" + string(id)),
			UnitID: id,
			Name:   name,
			Phone:  cell(row, idx, "phone"),
			Email:  cell(row, idx, "email"),
		}
	}
	return ur
}

// Units returns the valid roster rows.
func (r Roster) Units() []UnitRow {
	var out []UnitRow
	for _, row := range r.Rows {
		if u, ok := row.(UnitRow); ok {
			out = append(out, u)
		}
	}
	return out
}

// Invalid returns the rows rejected during parsing.
func (r Roster) Invalid() []InvalidRow {
	return invalidRows(r.Rows)
}
