/*
Package importer parses spreadsheets uploaded by the accountant.

PURPOSE:
  Bank statements and unit rosters arrive as XLSX files with loosely named
  columns. Every data row is classified into exactly one ParsedRow variant
  at this boundary; nothing downstream sees raw cells.

ROW VARIANTS:
  MatchedRow:   A statement credit attributed to exactly one unit
  UnmatchedRow: A statement credit whose description names no known unit,
                or more than one
  InvalidRow:   A row that failed parsing (bad amount, missing column)
  UnitRow:      A roster row describing a unit and its owner

SEE ALSO:
  - statement.go: Bank statement parser
  - roster.go: Unit roster parser
  - billing/workflow.go: ReconcileFromStatement consumes Statement.Matches()
*/
package importer

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estate-billing/billing"
)

var (
	// ErrNoHeader is returned when no row carries the required column names.
	ErrNoHeader = errors.New("no header row with the required columns")

	// ErrEmptyWorkbook is returned for workbooks without sheets.
	ErrEmptyWorkbook = errors.New("workbook has no sheets")
)

// =============================================================================
// PARSED ROW - Closed set of row variants
// =============================================================================

// ParsedRow is one classified spreadsheet row. The set of implementations
// is closed; switch on the concrete type.
type ParsedRow interface {
	// Line is the 1-based spreadsheet row number.
	Line() int
	parsedRow()
}

// MatchedRow is a credit attributed to a single unit.
type MatchedRow struct {
	Row         int
	UnitID      billing.UnitID
	Amount      decimal.Decimal
	Date        string
	Description string
}

// UnmatchedRow is a credit that could not be attributed to one unit.
type UnmatchedRow struct {
	Row         int
	Amount      decimal.Decimal
	Date        string
	Description string
	Candidates  []billing.UnitID
	Reason      string
}

// InvalidRow is a row rejected during parsing.
type InvalidRow struct {
	Row    int
	Reason string
	Cells  []string
}

// UnitRow is one roster line.
type UnitRow struct {
	Row   int
	Unit  billing.Unit
	Owner *billing.Owner
}

func (r MatchedRow) Line() int   { return r.Row }
func (r UnmatchedRow) Line() int { return r.Row }
func (r InvalidRow) Line() int   { return r.Row }
func (r UnitRow) Line() int      { return r.Row }

func (MatchedRow) parsedRow()   {}
func (UnmatchedRow) parsedRow() {}
func (InvalidRow) parsedRow()   {}
func (UnitRow) parsedRow()      {}

// =============================================================================
// SHEET HELPERS
// =============================================================================

// readRows returns the rows of the first sheet.
func readRows(f *excelize.File) ([][]string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	return f.GetRows(sheets[0])
}

// column names a logical column and the header labels that identify it.
type column struct {
	name    string
	aliases []string
}

// findHeader locates the first row naming every required column. A label
// matches a column when it contains one of its aliases, case-insensitively;
// each cell is claimed by the first column it matches. It returns the
// header row index and the cell index per column name.
func findHeader(rows [][]string, columns []column, required []string) (int, map[string]int, error) {
	for i, row := range rows {
		idx := make(map[string]int)
		for c, cell := range row {
			label := strings.ToLower(strings.TrimSpace(cell))
			if label == "" {
				continue
			}
		claim:
			for _, col := range columns {
				if _, taken := idx[col.name]; taken {
					continue
				}
				for _, a := range col.aliases {
					if strings.Contains(label, a) {
						idx[col.name] = c
						break claim
					}
				}
			}
		}
		ok := true
		for _, name := range required {
			if _, found := idx[name]; !found {
				ok = false
				break
			}
		}
		if ok {
			return i, idx, nil
		}
	}
	return 0, nil, ErrNoHeader
}

func cell(row []string, idx map[string]int, name string) string {
	c, ok := idx[name]
	if !ok || c >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[c])
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
