// Package report renders a one-page PDF summary of a CT600 return, for the
// operator to file alongside the HMRC submission reference.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/warp/ct600-gateway/filing"
)

// WriteReturnPDF writes the summary for r to w.
func WriteReturnPDF(w io.Writer, r filing.TaxReturn) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetTitle("CT600 "+r.TaxReference, true)
	pdf.AddPage()

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	drawReturn(pdf, tr, r)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render CT600 summary: %w", err)
	}
	return pdf.Output(w)
}

func drawReturn(pdf *fpdf.Fpdf, tr func(string) string, r filing.TaxReturn) {
	pageW, _ := pdf.GetPageSize()
	marginL, marginT, marginR, _ := pdf.GetMargins()
	contentW := pageW - marginL - marginR
	labelW := contentW * 0.4

	// ── Header bar ───────────────────────────────────────────────────────────
	pdf.SetFillColor(30, 30, 30)
	pdf.Rect(marginL, marginT, contentW, 10, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetXY(marginL+2, marginT+1.5)
	pdf.CellFormat(contentW-4, 7, "CT600  COMPANY TAX RETURN SUMMARY", "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)

	y := marginT + 14

	section := func(title string) {
		pdf.SetFillColor(240, 240, 240)
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetXY(marginL, y)
		pdf.CellFormat(contentW, 5.5, title, "LRT", 1, "L", true, 0, "")
		y += 5.5
	}
	line := func(label, value, border string) {
		pdf.SetXY(marginL, y)
		pdf.SetFont("Helvetica", "", 9)
		pdf.CellFormat(labelW, 6, label, border+"L", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 9)
		pdf.CellFormat(contentW-labelW, 6, tr(value), border+"R", 1, "R", false, 0, "")
		y += 6
	}

	// ── Company ──────────────────────────────────────────────────────────────
	section("COMPANY")
	line("Company name", r.CompanyName, "")
	line("Registration number", r.CompanyRegistrationNumber, "")
	line("Tax reference (UTR)", r.TaxReference, "")
	line("Accounting period", periodLine(r.PeriodStart, r.PeriodEnd), "B")
	y += 4

	// ── Figures ──────────────────────────────────────────────────────────────
	section("FIGURES")
	line("Turnover", money(r.Turnover), "")
	line("Taxable profit", money(r.TaxableProfit), "")
	line("Tax due", money(r.TaxDue), "B")
	y += 4

	// ── Submission ───────────────────────────────────────────────────────────
	section("SUBMISSION")
	line("Status", r.Status, "")
	ref := r.SubmissionReference
	if ref == "" {
		ref = "-"
	}
	line("HMRC submission reference", ref, "")
	submitted := "-"
	if r.SubmissionDate != nil {
		submitted = r.SubmissionDate.UTC().Format("2 Jan 2006 15:04 MST")
	}
	line("Submitted", submitted, "B")

	pdf.SetXY(marginL, y+6)
	pdf.SetFont("Helvetica", "I", 7.5)
	pdf.SetTextColor(110, 110, 110)
	pdf.MultiCell(contentW, 4,
		"This summary is generated from the stored record. The HMRC submission reference "+
			"is the authoritative proof of filing.", "", "L", false)
	pdf.SetTextColor(0, 0, 0)
}

func periodLine(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return "-"
	}
	return start.Format("2 Jan 2006") + " to " + end.Format("2 Jan 2006")
}

// money formats an amount as pounds with thousands separators.
func money(d decimal.Decimal) string {
	s := d.StringFixed(2)
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s[:len(s)-3], s[len(s)-3:]
	var out []byte
	for i := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, whole[i])
	}
	res := "£" + string(out) + frac
	if neg {
		res = "-" + res
	}
	return res
}
