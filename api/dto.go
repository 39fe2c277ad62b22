/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, keeping the wire
  format independent of filing.TaxReturn.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Small response wrappers

FORMATS:
  Period dates are "yyyy-MM-dd". Amounts are decimal strings ("1234.50")
  on output; input accepts either strings or JSON numbers. Submission
  dates are RFC 3339 in UTC.

VALIDATION:
  Done in handlers (toTaxReturn), not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/ct600-gateway/filing"
)

// =============================================================================
// TAX RETURNS
// =============================================================================

// TaxReturnDTO is a return as read and written by clients.
type TaxReturnDTO struct {
	CompanyName               string          `json:"companyName"`
	CompanyRegistrationNumber string          `json:"companyRegistrationNumber"`
	TaxReference              string          `json:"taxReference"`
	PeriodStart               string          `json:"periodStart"`
	PeriodEnd                 string          `json:"periodEnd"`
	Turnover                  decimal.Decimal `json:"turnover"`
	TaxableProfit             decimal.Decimal `json:"taxableProfit"`
	TaxDue                    decimal.Decimal `json:"taxDue"`
	Status                    string          `json:"status"`
	SubmissionDate            *time.Time      `json:"submissionDate,omitempty"`
	SubmissionReference       string          `json:"submissionReference,omitempty"`
}

func toTaxReturnDTO(r filing.TaxReturn) TaxReturnDTO {
	return TaxReturnDTO{
		CompanyName:               r.CompanyName,
		CompanyRegistrationNumber: r.CompanyRegistrationNumber,
		TaxReference:              r.TaxReference,
		PeriodStart:               formatDate(r.PeriodStart),
		PeriodEnd:                 formatDate(r.PeriodEnd),
		Turnover:                  r.Turnover,
		TaxableProfit:             r.TaxableProfit,
		TaxDue:                    r.TaxDue,
		Status:                    r.Status,
		SubmissionDate:            r.SubmissionDate,
		SubmissionReference:       r.SubmissionReference,
	}
}

// toTaxReturn validates the body. Empty dates stay zero.
func (d TaxReturnDTO) toTaxReturn() (filing.TaxReturn, error) {
	start, err := parseDate("periodStart", d.PeriodStart)
	if err != nil {
		return filing.TaxReturn{}, err
	}
	end, err := parseDate("periodEnd", d.PeriodEnd)
	if err != nil {
		return filing.TaxReturn{}, err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return filing.TaxReturn{}, &filing.ValidationError{Field: "periodEnd", Message: "period end is before period start"}
	}
	r := filing.TaxReturn{
		CompanyName:               strings.TrimSpace(d.CompanyName),
		CompanyRegistrationNumber: strings.TrimSpace(d.CompanyRegistrationNumber),
		TaxReference:              strings.TrimSpace(d.TaxReference),
		PeriodStart:               start,
		PeriodEnd:                 end,
		Turnover:                  d.Turnover,
		TaxableProfit:             d.TaxableProfit,
		TaxDue:                    d.TaxDue,
		Status:                    strings.TrimSpace(d.Status),
		SubmissionReference:       strings.TrimSpace(d.SubmissionReference),
	}
	if d.SubmissionDate != nil {
		t := d.SubmissionDate.UTC()
		r.SubmissionDate = &t
	}
	return r, nil
}

func parseDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, ok := filing.ParseDate(s)
	if !ok {
		return time.Time{}, &filing.ValidationError{Field: field, Message: "expected a date like 2025-03-31"}
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(filing.DateLayout)
}

// =============================================================================
// SUBMISSION
// =============================================================================

// SubmitResponse is returned by a successful submit.
type SubmitResponse struct {
	Message             string    `json:"message"`
	SubmissionReference string    `json:"submissionReference"`
	SubmissionDate      time.Time `json:"submissionDate"`
}

// SubmissionStatusDTO is HMRC's view of a submission.
type SubmissionStatusDTO struct {
	SubmissionReference string     `json:"submissionReference"`
	Status              string     `json:"status"`
	StatusDate          *time.Time `json:"statusDate,omitempty"`
	Message             string     `json:"message,omitempty"`
}

func toSubmissionStatusDTO(s filing.SubmissionStatus) SubmissionStatusDTO {
	return SubmissionStatusDTO{
		SubmissionReference: s.Reference,
		Status:              s.Status,
		StatusDate:          s.StatusDate,
		Message:             s.Message,
	}
}

// =============================================================================
// AUTH
// =============================================================================

// AuthorizeResponse carries the consent URL the operator must visit.
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	Message          string `json:"message"`
}

// CallbackResponse is returned after a successful code exchange.
type CallbackResponse struct {
	Message   string    `json:"message"`
	ExpiresIn int       `json:"expiresIn"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// AuthStatusResponse reports whether a usable token is held.
type AuthStatusResponse struct {
	IsAuthenticated bool       `json:"isAuthenticated"`
	Message         string     `json:"message"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
}

// =============================================================================
// COMMON
// =============================================================================

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
