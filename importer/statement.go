package importer

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estate-billing/billing"
)

// =============================================================================
// BANK STATEMENT
// =============================================================================

var statementColumns = []column{
	{"date", []string{"date", "ngày"}},
	{"description", []string{"description", "content", "memo", "nội dung", "diễn giải"}},
	{"amount", []string{"credit", "amount", "số tiền", "ghi có"}},
}

// unitTokenRe finds candidate unit codes inside free-text transfer notes.
var unitTokenRe = regexp.MustCompile(`(?i)\b(K[0-9]{1,3}|[0-9]{3,4}[A-Z]?)\b`)

// thousandsRe matches amounts written with grouped thousands: "1.234.567" or "1,234,567".
var thousandsRe = regexp.MustCompile(`^[0-9]{1,3}([.,][0-9]{3})+$`)

// Statement is a parsed bank statement.
type Statement struct {
	Rows []ParsedRow
}

// StatementParser attributes statement credits to units.
type StatementParser struct {
	known map[billing.UnitID]billing.UnitType
}

// NewStatementParser creates a parser that only matches the given units.
func NewStatementParser(units []billing.Unit) *StatementParser {
	known := make(map[billing.UnitID]billing.UnitType, len(units))
	for _, u := range units {
		known[u.ID] = u.Type
	}
	return &StatementParser{known: known}
}

// Parse reads an XLSX statement from r.
func (p *StatementParser) Parse(r io.Reader) (Statement, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to open statement: %w", err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return Statement{}, fmt.Errorf("failed to read statement: %w", err)
	}
	return p.ParseRows(rows)
}

// ParseRows classifies already-extracted cell rows. Rows above the header
// and blank rows are ignored.
func (p *StatementParser) ParseRows(rows [][]string) (Statement, error) {
	header, idx, err := findHeader(rows, statementColumns, []string{"description", "amount"})
	if err != nil {
		return Statement{}, err
	}

	var st Statement
	for i := header + 1; i < len(rows); i++ {
		row := rows[i]
		if blank(row) {
			continue
		}
		st.Rows = append(st.Rows, p.classify(i+1, row, idx))
	}
	return st, nil
}

func (p *StatementParser) classify(line int, row []string, idx map[string]int) ParsedRow {
	desc := cell(row, idx, "description")
	date := cell(row, idx, "date")

	amount, err := ParseAmount(cell(row, idx, "amount"))
	if err != nil {
		return InvalidRow{Row: line, Reason: err.Error(), Cells: row}
	}
	if !amount.IsPositive() {
		return InvalidRow{Row: line, Reason: "not a credit", Cells: row}
	}

	candidates := p.candidates(desc)
	switch len(candidates) {
	case 1:
		return MatchedRow{Row: line, UnitID: candidates[0], Amount: amount, Date: date, Description: desc}
	case 0:
		return UnmatchedRow{Row: line, Amount: amount, Date: date, Description: desc, Reason: "no unit code in description"}
	default:
		return UnmatchedRow{Row: line, Amount: amount, Date: date, Description: desc, Candidates: candidates, Reason: "description names several units"}
	}
}

// candidates returns the distinct known units named in the description.
// Tokens that are part of a date ("03/2025", "2025-03-15") are skipped.
func (p *StatementParser) candidates(desc string) []billing.UnitID {
	seen := make(map[billing.UnitID]bool)
	var out []billing.UnitID
	for _, loc := range unitTokenRe.FindAllStringIndex(desc, -1) {
		if inDate(desc, loc[0], loc[1]) {
			continue
		}
		id := billing.UnitID(strings.ToUpper(desc[loc[0]:loc[1]]))
		if _, ok := p.known[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// inDate reports whether desc[start:end] is joined to another number by a
// date separator on either side.
func inDate(desc string, start, end int) bool {
	isDigit := func(i int) bool { return i >= 0 && i < len(desc) && desc[i] >= '0' && desc[i] <= '9' }
	isSep := func(i int) bool { return i >= 0 && i < len(desc) && strings.IndexByte("/-.", desc[i]) >= 0 }
	return (isSep(start-1) && isDigit(start-2)) || (isSep(end) && isDigit(end+1))
}

// ParseAmount reads a money cell: plain decimals, grouped thousands with
// either separator, and an optional currency suffix.
func ParseAmount(s string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(s)
	for _, suffix := range []string{"VND", "vnd", "đ", "₫"} {
		clean = strings.TrimSpace(strings.TrimSuffix(clean, suffix))
	}
	clean = strings.ReplaceAll(clean, " ", "")
	if clean == "" {
		return decimal.Zero, fmt.Errorf("missing amount")
	}
	neg := strings.HasPrefix(clean, "-")
	digits := strings.TrimPrefix(strings.TrimPrefix(clean, "-"), "+")
	if thousandsRe.MatchString(digits) {
		digits = strings.NewReplacer(".", "", ",", "").Replace(digits)
	}
	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

// =============================================================================
// AGGREGATION
// =============================================================================

// Matches sums matched credits per unit, the input of
// Controller.ReconcileFromStatement.
func (s Statement) Matches() map[billing.UnitID]decimal.Decimal {
	out := make(map[billing.UnitID]decimal.Decimal)
	for _, r := range s.Rows {
		if m, ok := r.(MatchedRow); ok {
			out[m.UnitID] = out[m.UnitID].Add(m.Amount)
		}
	}
	return out
}

// Unmatched returns the rows needing manual attribution.
func (s Statement) Unmatched() []UnmatchedRow {
	var out []UnmatchedRow
	for _, r := range s.Rows {
		if u, ok := r.(UnmatchedRow); ok {
			out = append(out, u)
		}
	}
	return out
}

// Invalid returns the rows rejected during parsing.
func (s Statement) Invalid() []InvalidRow {
	return invalidRows(s.Rows)
}

func invalidRows(rows []ParsedRow) []InvalidRow {
	var out []InvalidRow
	for _, r := range rows {
		if inv, ok := r.(InvalidRow); ok {
			out = append(out, inv)
		}
	}
	return out
}
