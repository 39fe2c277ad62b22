/*
service.go - Credential-gated submission workflow

PURPOSE:
  Composes the token holder, the record store and the HMRC client into the
  operations the API exposes: record CRUD, submit, and status lookups.

SUBMIT FLOW:
  1. Require a valid token (no store or network I/O otherwise)
  2. Load the return by tax reference
  3. Send it to HMRC
  4. Mark it Submitted and write it back

PARTIAL FAILURE:
  Steps 3 and 4 are independent. If HMRC accepts the return and the store
  write then fails, HMRC holds a submission the store does not show. Submit
  reports this as PartialSubmissionError with the reference so the operator
  can reconcile by hand. Nothing is retried or compensated.

STATUS:
  GetSubmissionStatus is read-only: the stored status is not touched, so it
  can drift from HMRC's view. SyncStatus is the explicit opt-in that writes
  the authority's status back.
*/
package filing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/warp/ct600-gateway/metrics"
)

// Authenticator answers whether a usable HMRC token is held.
type Authenticator interface {
	IsAuthenticated() bool
}

// Authority performs the authenticated HMRC calls.
type Authority interface {
	SubmitReturn(ctx context.Context, r TaxReturn) (string, error)
	GetStatus(ctx context.Context, submissionReference string) (SubmissionStatus, error)
}

// Service implements the submission workflow.
type Service struct {
	records   RecordStore
	auth      Authenticator
	authority Authority
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires the workflow.
func NewService(records RecordStore, auth Authenticator, authority Authority, opts ...Option) *Service {
	s := &Service{
		records:   records,
		auth:      auth,
		authority: authority,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// RECORDS
// =============================================================================

// ListReturns returns every stored return.
func (s *Service) ListReturns(ctx context.Context) ([]TaxReturn, error) {
	return s.records.ListAll(ctx)
}

// GetReturn loads one return.
func (s *Service) GetReturn(ctx context.Context, taxReference string) (TaxReturn, error) {
	r, err := s.load(ctx, taxReference)
	if err != nil {
		return TaxReturn{}, err
	}
	return *r, nil
}

// CreateReturn appends a new return. An empty status becomes Draft.
func (s *Service) CreateReturn(ctx context.Context, r TaxReturn) (TaxReturn, error) {
	r.TaxReference = strings.TrimSpace(r.TaxReference)
	if r.TaxReference == "" {
		return TaxReturn{}, &ValidationError{Field: "taxReference", Message: "tax reference is required"}
	}
	if r.Status == "" {
		r.Status = StatusDraft
	}
	if err := s.records.Append(ctx, r); err != nil {
		return TaxReturn{}, err
	}
	return r, nil
}

// UpdateReturn replaces a stored return. The body must carry the same tax
// reference as the one addressed.
func (s *Service) UpdateReturn(ctx context.Context, taxReference string, r TaxReturn) error {
	if r.TaxReference != taxReference {
		return &ValidationError{Field: "taxReference", Message: "tax reference in URL does not match data"}
	}
	ok, err := s.records.Update(ctx, taxReference, r)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRecordNotFound
	}
	return nil
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit sends a stored return to HMRC and records the outcome.
func (s *Service) Submit(ctx context.Context, taxReference string) (Receipt, error) {
	if !s.auth.IsAuthenticated() {
		metrics.SubmissionAttempted("unauthenticated")
		return Receipt{}, ErrAuthenticationRequired
	}
	r, err := s.load(ctx, taxReference)
	if err != nil {
		metrics.SubmissionAttempted("load_failed")
		return Receipt{}, err
	}

	ref, err := s.authority.SubmitReturn(ctx, *r)
	if err != nil {
		metrics.SubmissionAttempted("rejected")
		s.logger.Error("submit to HMRC failed",
			"tax_reference", SanitizeForLog(taxReference), "err", err)
		return Receipt{}, fmt.Errorf("submit %s: %w", SanitizeForLog(taxReference), err)
	}

	r.MarkSubmitted(ref, s.now())
	ok, err := s.records.Update(ctx, taxReference, *r)
	if err == nil && !ok {
		err = ErrRecordNotFound
	}
	if err != nil {
		metrics.SubmissionAttempted("unrecorded")
		s.logger.Error("submission accepted but not recorded",
			"tax_reference", SanitizeForLog(taxReference),
			"submission_reference", ref,
			"err", err)
		return Receipt{}, &PartialSubmissionError{
			TaxReference:        taxReference,
			SubmissionReference: ref,
			Err:                 err,
		}
	}

	metrics.SubmissionAttempted("submitted")
	s.logger.Info("CT600 submitted",
		"tax_reference", SanitizeForLog(taxReference),
		"submission_reference", ref)
	return Receipt{
		TaxReference:        taxReference,
		SubmissionReference: ref,
		SubmissionDate:      *r.SubmissionDate,
	}, nil
}

// GetSubmissionStatus asks HMRC for the state of a submitted return. The
// stored return is not modified.
func (s *Service) GetSubmissionStatus(ctx context.Context, taxReference string) (SubmissionStatus, error) {
	_, st, err := s.fetchStatus(ctx, taxReference)
	return st, err
}

// SyncStatus fetches the HMRC status and writes it into the stored return
// when it differs. A "Not Found" answer is returned but never stored.
func (s *Service) SyncStatus(ctx context.Context, taxReference string) (SubmissionStatus, error) {
	r, st, err := s.fetchStatus(ctx, taxReference)
	if err != nil {
		return SubmissionStatus{}, err
	}
	if st.Status == "" || st.Status == StatusNotFound || st.Status == r.Status {
		return st, nil
	}
	r.Status = st.Status
	ok, err := s.records.Update(ctx, taxReference, *r)
	if err != nil {
		return SubmissionStatus{}, err
	}
	if !ok {
		return SubmissionStatus{}, ErrRecordNotFound
	}
	s.logger.Info("return status synced",
		"tax_reference", SanitizeForLog(taxReference), "status", st.Status)
	return st, nil
}

func (s *Service) fetchStatus(ctx context.Context, taxReference string) (*TaxReturn, SubmissionStatus, error) {
	if !s.auth.IsAuthenticated() {
		return nil, SubmissionStatus{}, ErrAuthenticationRequired
	}
	r, err := s.load(ctx, taxReference)
	if err != nil {
		return nil, SubmissionStatus{}, err
	}
	if !r.IsSubmitted() {
		return nil, SubmissionStatus{}, &ValidationError{
			Field:   "submissionReference",
			Message: "no submission reference found, CT600 has not been submitted yet",
		}
	}
	st, err := s.authority.GetStatus(ctx, r.SubmissionReference)
	if err != nil {
		return nil, SubmissionStatus{}, fmt.Errorf("status of %s: %w", SanitizeForLog(taxReference), err)
	}
	return r, st, nil
}

func (s *Service) load(ctx context.Context, taxReference string) (*TaxReturn, error) {
	r, err := s.records.GetByKey(ctx, taxReference)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRecordNotFound
	}
	return r, nil
}

// SanitizeForLog strips line breaks so user-supplied keys cannot forge log
// lines.
func SanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}
