/*
Package export renders charges as documents for residents and the accountant.

PURPOSE:
  ChargesXLSX produces the period sheet the accountant files and shares;
  InvoicePDF produces the one-page bill handed to a resident.

SEE ALSO:
  - api/handlers.go: Download endpoints
*/
package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/estate-billing/billing"
)

// Building identifies the issuer printed on documents.
type Building struct {
	Name    string
	Address string
}

// =============================================================================
// PERIOD SHEET (XLSX)
// =============================================================================

var chargeHeaders = []any{
	"Unit", "Status", "Service", "Parking", "Water (m3)", "Water",
	"Adjustments", "Total due", "Paid", "Outstanding", "Locked", "Warnings",
}

// ChargesXLSX renders a period's charges with a summary sheet.
func ChargesXLSX(b Building, period billing.Period, charges []billing.Charge) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	chargesSheet := "charges"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(chargesSheet); err != nil {
		return nil, err
	}

	var due, paid decimal.Decimal
	counts := make(map[billing.PaymentStatus]int)
	for _, c := range charges {
		due = due.Add(c.TotalDue)
		paid = paid.Add(c.TotalPaid)
		counts[c.Status]++
	}

	summary := [][]any{
		{b.Name},
		{b.Address},
		{},
		{"Period", period.String()},
		{"Charges", len(charges)},
		{"Total due", money(due)},
		{"Total paid", money(paid)},
		{"Outstanding", money(due.Sub(paid))},
		{"Pending", counts[billing.StatusPending]},
		{"Reconciling", counts[billing.StatusReconciling]},
		{"Paid (cash)", counts[billing.StatusPaidCash]},
		{"Paid (transfer)", counts[billing.StatusPaidBank]},
	}
	for i, row := range summary {
		r := row
		if err := f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", i+1), &r); err != nil {
			return nil, err
		}
	}

	header := chargeHeaders
	if err := f.SetSheetRow(chargesSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, c := range charges {
		row := []any{
			string(c.UnitID),
			string(c.Status),
			money(c.Service.Total),
			money(c.Parking.Total),
			c.Consumption.InexactFloat64(),
			money(c.Water.Total),
			money(c.Adjustments),
			money(c.TotalDue),
			money(c.TotalPaid),
			money(c.Outstanding()),
			c.Locked,
			strings.Join(c.Warnings, "; "),
		}
		if err := f.SetSheetRow(chargesSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// money converts an amount to a spreadsheet number, rounded to whole units.
func money(d decimal.Decimal) int64 {
	return billing.RoundCurrency(d).IntPart()
}

// =============================================================================
// INVOICE (PDF)
// =============================================================================

// Invoice is the data printed on one resident bill.
type Invoice struct {
	Building Building
	Charge   billing.Charge
	Owner    *billing.Owner
	IssuedAt time.Time
}

// InvoicePDF renders a one-page invoice.
func InvoicePDF(inv Invoice) ([]byte, error) {
	c := inv.Charge

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, inv.Building.Name)
	pdf.Ln(7)
	pdf.SetFont("Arial", "", 10)
	if inv.Building.Address != "" {
		pdf.Cell(0, 6, inv.Building.Address)
		pdf.Ln(8)
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Invoice %s - period %s", c.UnitID, c.Period))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if inv.Owner != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Resident: %s", inv.Owner.Name))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Issued: %s", inv.IssuedAt.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", c.Status))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Item", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 6, "Before VAT", "1", 0, "R", false, 0, "")
	pdf.CellFormat(25, 6, "VAT %", "1", 0, "R", false, 0, "")
	pdf.CellFormat(40, 6, "Amount", "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)

	line := func(label string, f billing.FeeLine) {
		pdf.CellFormat(60, 6, label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, FormatVND(f.Base), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, f.VATPercent.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, FormatVND(f.Total), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	line("Service fee", c.Service)
	line("Parking", c.Parking)
	line(fmt.Sprintf("Water (%s m3)", c.Consumption), c.Water)
	if !c.Adjustments.IsZero() {
		pdf.CellFormat(125, 6, "Adjustments", "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, FormatVND(c.Adjustments), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(125, 7, "Total due", "1", 0, "L", false, 0, "")
	pdf.CellFormat(40, 7, FormatVND(c.TotalDue), "1", 0, "R", false, 0, "")
	pdf.Ln(-1)
	if c.TotalPaid.IsPositive() {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(125, 6, "Paid", "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, FormatVND(c.TotalPaid), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
		pdf.CellFormat(125, 6, "Outstanding", "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, FormatVND(c.Outstanding()), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FormatVND prints an amount rounded to whole units with dot-grouped
// thousands: 2729203 -> "2.729.203".
func FormatVND(d decimal.Decimal) string {
	s := billing.RoundCurrency(d).String()
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
