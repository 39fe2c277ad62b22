/*
Package filing provides the CT600 return model and the submission workflow.

PURPOSE:
  A CT600 return is prepared locally as a row in a record store, submitted
  to the tax authority once the operator holds a valid OAuth2 token, and
  later polled for its processing status. This package owns the domain
  types, the record store contract, the positional row codec, and the
  Service that orchestrates submit and status lookups.

KEY CONCEPTS IN THIS FILE (types.go):
  - TaxReturn: One corporation-tax return, keyed by tax reference
  - SubmissionStatus: Point-in-time view of the authority's state
  - Receipt: What a successful submit hands back to the caller

DESIGN PRINCIPLES:
  1. Precision: Currency uses decimal.Decimal, never float64
  2. Natural key: TaxReference identifies a return in the store and at HMRC
  3. Full-row writes: Updates replace every field, there is no partial patch

SEE ALSO:
  - store.go: RecordStore and RowStore contracts
  - codec.go: Row <-> TaxReturn mapping
  - service.go: Submit / status orchestration
*/
package filing

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format for period dates.
const DateLayout = "2006-01-02"

// =============================================================================
// STATUS
// =============================================================================

// Return statuses written by this package. The store treats status as a
// free-form string, so anything else read back is passed through untouched.
const (
	StatusDraft     = "Draft"
	StatusSubmitted = "Submitted"
)

// StatusNotFound is reported when the authority does not know a reference.
const StatusNotFound = "Not Found"

// =============================================================================
// TAX RETURN
// =============================================================================

// TaxReturn is one CT600 filing.
type TaxReturn struct {
	CompanyName               string
	CompanyRegistrationNumber string
	TaxReference              string
	PeriodStart               time.Time
	PeriodEnd                 time.Time
	Turnover                  decimal.Decimal
	TaxableProfit             decimal.Decimal
	TaxDue                    decimal.Decimal
	Status                    string
	SubmissionDate            *time.Time
	SubmissionReference       string
}

// IsSubmitted reports whether the return carries an authority reference.
func (r TaxReturn) IsSubmitted() bool {
	return r.SubmissionReference != ""
}

// MarkSubmitted records a successful submission on the return.
func (r *TaxReturn) MarkSubmitted(reference string, at time.Time) {
	at = at.UTC()
	r.Status = StatusSubmitted
	r.SubmissionDate = &at
	r.SubmissionReference = reference
}

// =============================================================================
// SUBMISSION STATUS
// =============================================================================

// SubmissionStatus is the authority's view of a submission. It is never
// persisted; polling it does not change the stored return.
type SubmissionStatus struct {
	Reference  string
	Status     string
	StatusDate *time.Time
	Message    string
}

// Receipt is returned by a successful Submit.
type Receipt struct {
	TaxReference        string
	SubmissionReference string
	SubmissionDate      time.Time
}
