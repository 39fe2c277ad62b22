/*
errors.go - Centralized error types for the filing workflow

PURPOSE:
  All error types in one place so HTTP handlers and the CLI can tell an
  authentication problem from a missing record from an upstream outage.
  Structured errors carry context and unwrap to the sentinels below.

ERROR CATEGORIES:
  1. Authentication - no valid HMRC token
  2. Lookup - tax reference absent from the store
  3. Upstream - HMRC or the record store failed or answered garbage
  4. Validation - caller input or record prerequisites are wrong

USAGE:
  if errors.Is(err, filing.ErrAuthenticationRequired) {
      // send the operator through the OAuth flow again
  }

SEE ALSO:
  - service.go: Returns these errors
  - hmrc/client.go: Builds ExternalServiceError / MalformedResponseError
*/
package filing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAuthenticationRequired is returned when an operation needs a valid
	// HMRC token and none is held.
	ErrAuthenticationRequired = errors.New("not authenticated with HMRC, please authenticate first")

	// ErrRecordNotFound is returned when no return exists for a tax reference.
	ErrRecordNotFound = errors.New("CT600 data not found for the given tax reference")

	// ErrExternalService is returned when HMRC or the record store fails.
	ErrExternalService = errors.New("external service error")

	// ErrMalformedResponse is returned when an upstream answer lacks a field
	// the workflow depends on.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrValidation is returned for bad caller input or missing prerequisites.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateTaxReference is returned by stores that enforce key uniqueness.
	ErrDuplicateTaxReference = errors.New("tax reference already exists")

	// ErrNotConfigured is returned when required settings are missing.
	ErrNotConfigured = errors.New("not configured")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ExternalServiceError describes a failed call to HMRC or the record store.
// StatusCode is zero for transport failures.
type ExternalServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Service, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExternalService}
	}
	return []error{ErrExternalService, e.Err}
}

// MalformedResponseError names the field an upstream response was missing.
type MalformedResponseError struct {
	Service string
	Field   string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: malformed response (%s): %v", e.Service, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: malformed response: missing %s", e.Service, e.Field)
}

func (e *MalformedResponseError) Unwrap() error {
	return ErrMalformedResponse
}

// ValidationError describes rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// PartialSubmissionError means HMRC accepted a return but the store write
// that records it failed. The submission reference must be reconciled by hand.
type PartialSubmissionError struct {
	TaxReference        string
	SubmissionReference string
	Err                 error
}

func (e *PartialSubmissionError) Error() string {
	return fmt.Sprintf("return %s accepted by HMRC as %s but not recorded: %v",
		e.TaxReference, e.SubmissionReference, e.Err)
}

func (e *PartialSubmissionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing return.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateTaxReference)
}

// IsUpstream returns true if HMRC or the store is at fault.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrMalformedResponse)
}
