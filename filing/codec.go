package filing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column positions in a return row. A-J match the original sheet layout;
// K was added so a submission date survives a re-read.
const (
	ColCompanyName = iota
	ColCompanyRegistrationNumber
	ColTaxReference
	ColPeriodStart
	ColPeriodEnd
	ColTurnover
	ColTaxableProfit
	ColTaxDue
	ColStatus
	ColSubmissionReference
	ColSubmissionDate

	// RowWidth is the number of columns written per return.
	RowWidth
)

var columnNames = [RowWidth]string{
	"company_name",
	"company_registration_number",
	"tax_reference",
	"period_start",
	"period_end",
	"turnover",
	"taxable_profit",
	"tax_due",
	"status",
	"submission_reference",
	"submission_date",
}

// ColumnName returns a stable name for a column index, used in logs and metrics.
func ColumnName(col int) string {
	if col < 0 || col >= RowWidth {
		return "unknown"
	}
	return columnNames[col]
}

// HeaderRow is the sheet header row; sheets.Store.EnsureHeader writes it
// to row 1 of an empty sheet.
func HeaderRow() []string {
	return []string{
		"Company Name", "Company Registration Number", "Tax Reference",
		"Period Start", "Period End", "Turnover", "Taxable Profit", "Tax Due",
		"Status", "Submission Reference", "Submission Date",
	}
}

// CellDefault records a cell that could not be parsed and was replaced by
// its zero value.
type CellDefault struct {
	Column int
	Value  string
}

// EncodeRow serializes a return positionally.
func EncodeRow(r TaxReturn) []string {
	row := make([]string, RowWidth)
	row[ColCompanyName] = r.CompanyName
	row[ColCompanyRegistrationNumber] = r.CompanyRegistrationNumber
	row[ColTaxReference] = r.TaxReference
	row[ColPeriodStart] = r.PeriodStart.Format(DateLayout)
	row[ColPeriodEnd] = r.PeriodEnd.Format(DateLayout)
	row[ColTurnover] = r.Turnover.String()
	row[ColTaxableProfit] = r.TaxableProfit.String()
	row[ColTaxDue] = r.TaxDue.String()
	row[ColStatus] = r.Status
	row[ColSubmissionReference] = r.SubmissionReference
	if r.SubmissionDate != nil {
		row[ColSubmissionDate] = r.SubmissionDate.UTC().Format(time.RFC3339Nano)
	}
	return row
}

// DecodeRow maps a row into a return. It never fails: short rows and
// unparseable cells fall back to zero values (dates to the zero time,
// amounts to zero, status to Draft). Non-empty cells that had to be
// defaulted are reported so callers can log or count them.
func DecodeRow(row []string) (TaxReturn, []CellDefault) {
	var defaults []CellDefault
	cell := func(col int) string {
		if col < len(row) {
			return strings.TrimSpace(row[col])
		}
		return ""
	}
	date := func(col int) time.Time {
		v := cell(col)
		if v == "" {
			return time.Time{}
		}
		t, ok := ParseDate(v)
		if !ok {
			defaults = append(defaults, CellDefault{Column: col, Value: v})
		}
		return t
	}
	amount := func(col int) decimal.Decimal {
		v := cell(col)
		if v == "" {
			return decimal.Zero
		}
		d, ok := ParseAmount(v)
		if !ok {
			defaults = append(defaults, CellDefault{Column: col, Value: v})
		}
		return d
	}

	r := TaxReturn{
		CompanyName:               cell(ColCompanyName),
		CompanyRegistrationNumber: cell(ColCompanyRegistrationNumber),
		TaxReference:              cell(ColTaxReference),
		PeriodStart:               date(ColPeriodStart),
		PeriodEnd:                 date(ColPeriodEnd),
		Turnover:                  amount(ColTurnover),
		TaxableProfit:             amount(ColTaxableProfit),
		TaxDue:                    amount(ColTaxDue),
		Status:                    cell(ColStatus),
		SubmissionReference:       cell(ColSubmissionReference),
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if v := cell(ColSubmissionDate); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			t = t.UTC()
			r.SubmissionDate = &t
		} else if t, ok := ParseDate(v); ok {
			r.SubmissionDate = &t
		} else {
			defaults = append(defaults, CellDefault{Column: ColSubmissionDate, Value: v})
		}
	}
	return r, defaults
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"02/01/2006",
	"2006/01/02",
	"2 Jan 2006",
}

// ParseDate accepts the ISO layout plus the formats a spreadsheet tends to
// render dates in. Failure yields the zero time.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseAmount parses a currency cell, tolerating thousands separators and a
// leading pound sign. Failure yields zero.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "£")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
