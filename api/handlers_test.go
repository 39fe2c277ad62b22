/*
handlers_test.go - End-to-end tests for the HTTP API

Tests for:
- Auth endpoints (authorize, callback, status, sign-out)
- Return CRUD and key mismatch
- Submit and status, including the error-to-status mapping
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/ct600-gateway/filing"
	"github.com/warp/ct600-gateway/filing/store"
	"github.com/warp/ct600-gateway/hmrc"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fakeTokens struct {
	authenticated bool
	urlErr        error
	exchangeErr   error
	exchanged     []string
	cleared       bool
	expiresAt     time.Time
}

func (f *fakeTokens) AuthorizationURL() (string, error) {
	if f.urlErr != nil {
		return "", f.urlErr
	}
	return "https://hmrc.example/oauth/authorize?client_id=c", nil
}

func (f *fakeTokens) ExchangeCode(_ context.Context, code string) (hmrc.AuthToken, error) {
	f.exchanged = append(f.exchanged, code)
	if f.exchangeErr != nil {
		return hmrc.AuthToken{}, f.exchangeErr
	}
	f.authenticated = true
	return hmrc.AuthToken{AccessToken: "abc", ExpiresIn: 3600, ExpiresAt: f.expiresAt}, nil
}

func (f *fakeTokens) IsAuthenticated() bool { return f.authenticated }

func (f *fakeTokens) Current() (hmrc.AuthToken, bool) {
	if !f.authenticated {
		return hmrc.AuthToken{}, false
	}
	return hmrc.AuthToken{AccessToken: "abc", ExpiresAt: f.expiresAt}, true
}

func (f *fakeTokens) Clear() {
	f.cleared = true
	f.authenticated = false
}

type stubAuthority struct {
	ref       string
	submitErr error
	status    filing.SubmissionStatus
	calls     int
}

func (a *stubAuthority) SubmitReturn(context.Context, filing.TaxReturn) (string, error) {
	a.calls++
	return a.ref, a.submitErr
}

func (a *stubAuthority) GetStatus(context.Context, string) (filing.SubmissionStatus, error) {
	a.calls++
	return a.status, nil
}

type testEnv struct {
	router    http.Handler
	tokens    *fakeTokens
	authority *stubAuthority
	rows      *store.Memory
}

func draftRow(ref string) []string {
	return []string{"Acme Ltd", "01234567", ref, "2024-04-01", "2025-03-31", "1000", "200", "50", "Draft", "", ""}
}

func newTestEnv(t *testing.T, rows ...[]string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &testEnv{
		tokens:    &fakeTokens{expiresAt: time.Date(2025, time.April, 1, 10, 0, 0, 0, time.UTC)},
		authority: &stubAuthority{ref: "REF-1"},
		rows:      store.NewMemory(rows...),
	}
	svc := filing.NewService(filing.NewRowRecords(env.rows, logger), env.tokens, env.authority,
		filing.WithLogger(logger))
	h := NewHandler(svc, env.tokens, logger)
	env.router = NewRouter(h, RouterConfig{Logger: logger, AllowAllOrigins: true})
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuthorize_ReturnsURL(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/auth/authorize", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[AuthorizeResponse](t, rec)
	assert.Contains(t, resp.AuthorizationURL, "/oauth/authorize")
}

func TestAuthorize_NotConfiguredIs503(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.urlErr = filing.ErrNotConfigured

	rec := env.do(http.MethodGet, "/api/auth/authorize", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_CONFIGURED", decode[ErrorResponse](t, rec).Code)
}

func TestCallback_MissingCodeIs400(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/auth/callback", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.tokens.exchanged)
}

func TestCallback_DeniedConsentIs400(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/auth/callback?error=access_denied", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "AUTHORIZATION_DENIED", decode[ErrorResponse](t, rec).Code)
}

func TestCallback_ExchangesCode(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/auth/callback?code=abc123", "")

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CallbackResponse](t, rec)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, []string{"abc123"}, env.tokens.exchanged)
	assert.True(t, env.tokens.authenticated)
}

func TestCallback_UpstreamFailureIs502(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.exchangeErr = &filing.ExternalServiceError{Service: "hmrc", Op: "token exchange", StatusCode: 400}

	rec := env.do(http.MethodGet, "/api/auth/callback?code=bad", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAuthStatus_AndSignOut(t *testing.T) {
	env := newTestEnv(t)

	resp := decode[AuthStatusResponse](t, env.do(http.MethodGet, "/api/auth/status", ""))
	assert.False(t, resp.IsAuthenticated)
	assert.Nil(t, resp.ExpiresAt)

	env.tokens.authenticated = true
	resp = decode[AuthStatusResponse](t, env.do(http.MethodGet, "/api/auth/status", ""))
	assert.True(t, resp.IsAuthenticated)
	require.NotNil(t, resp.ExpiresAt)

	rec := env.do(http.MethodDelete, "/api/auth/token", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, env.tokens.cleared)
}

// =============================================================================
// RETURNS
// =============================================================================

func TestCreateAndGetReturn(t *testing.T) {
	env := newTestEnv(t)
	body := `{"companyName":"Acme","companyRegistrationNumber":"0123","taxReference":"UTR9",
		"periodStart":"2024-04-01","periodEnd":"2025-03-31","turnover":1000.5,"taxableProfit":"200","taxDue":50}`

	rec := env.do(http.MethodPost, "/api/ct600", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/ct600/UTR9", rec.Header().Get("Location"))

	rec = env.do(http.MethodGet, "/api/ct600/UTR9", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[TaxReturnDTO](t, rec)
	assert.Equal(t, "Acme", got.CompanyName)
	assert.Equal(t, "2024-04-01", got.PeriodStart)
	assert.Equal(t, "1000.5", got.Turnover.String())
	assert.Equal(t, filing.StatusDraft, got.Status)
}

func TestCreateReturn_BadDateIs400(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/ct600", `{"taxReference":"UTR9","periodStart":"yesterday"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.rows.Len())
}

func TestListReturns(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR1"), draftRow("UTR2"))

	rec := env.do(http.MethodGet, "/api/ct600", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]TaxReturnDTO](t, rec), 2)
}

func TestGetReturn_MissingIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/ct600/NOPE", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CT600 data not found for the given tax reference", decode[ErrorResponse](t, rec).Error)
}

func TestUpdateReturn_KeyMismatchIs400(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR1"))

	rec := env.do(http.MethodPut, "/api/ct600/UTR1", `{"taxReference":"UTR2"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateReturn_Success(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR1"))

	rec := env.do(http.MethodPut, "/api/ct600/UTR1", `{"taxReference":"UTR1","companyName":"Renamed","status":"Draft"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[TaxReturnDTO](t, env.do(http.MethodGet, "/api/ct600/UTR1", ""))
	assert.Equal(t, "Renamed", got.CompanyName)
}

// =============================================================================
// SUBMISSION
// =============================================================================

func TestSubmit_Unauthenticated401(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR123"))

	rec := env.do(http.MethodPost, "/api/ct600/UTR123/submit", "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, env.authority.calls)
}

func TestSubmit_ThenStatus(t *testing.T) {
	// GIVEN: Authenticated, record UTR123 in Draft, HMRC answers REF-1
	env := newTestEnv(t, draftRow("UTR123"))
	env.tokens.authenticated = true

	// WHEN: The return is submitted
	rec := env.do(http.MethodPost, "/api/ct600/UTR123/submit", "")

	// THEN: The reference is returned and stored
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "REF-1", decode[SubmitResponse](t, rec).SubmissionReference)

	got := decode[TaxReturnDTO](t, env.do(http.MethodGet, "/api/ct600/UTR123", ""))
	assert.Equal(t, filing.StatusSubmitted, got.Status)
	assert.Equal(t, "REF-1", got.SubmissionReference)
	assert.NotNil(t, got.SubmissionDate)

	// AND: Status polling reaches HMRC with the stored reference
	env.authority.status = filing.SubmissionStatus{Reference: "REF-1", Status: "Accepted"}
	rec = env.do(http.MethodGet, "/api/ct600/UTR123/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Accepted", decode[SubmissionStatusDTO](t, rec).Status)

	rec = env.do(http.MethodPost, "/api/ct600/UTR123/status/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[TaxReturnDTO](t, env.do(http.MethodGet, "/api/ct600/UTR123", ""))
	assert.Equal(t, "Accepted", got.Status)
}

func TestSubmissionStatus_NotSubmittedIs400(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR123"))
	env.tokens.authenticated = true

	rec := env.do(http.MethodGet, "/api/ct600/UTR123/status", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, env.authority.calls)
}

func TestSubmit_UpstreamRejectionIs502(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR123"))
	env.tokens.authenticated = true
	env.authority.submitErr = &filing.MalformedResponseError{Service: "hmrc submit", Field: "submissionReference"}

	rec := env.do(http.MethodPost, "/api/ct600/UTR123/submit", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "UPSTREAM_ERROR", decode[ErrorResponse](t, rec).Code)
}

func TestSummaryPDF(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR123"))

	rec := env.do(http.MethodGet, "/api/ct600/UTR123/summary.pdf", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))
}

// =============================================================================
// ERROR MAPPING AND PLUMBING
// =============================================================================

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{filing.ErrAuthenticationRequired, http.StatusUnauthorized},
		{filing.ErrRecordNotFound, http.StatusNotFound},
		{&filing.ValidationError{Field: "x"}, http.StatusBadRequest},
		{filing.ErrDuplicateTaxReference, http.StatusConflict},
		{filing.ErrNotConfigured, http.StatusServiceUnavailable},
		{&filing.ExternalServiceError{Service: "sheets"}, http.StatusBadGateway},
		{&filing.PartialSubmissionError{Err: errors.New("x")}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestGetReturn_KeyWithPercentIsDecodedOnce(t *testing.T) {
	// GIVEN: Two returns whose keys collide if the path is decoded twice
	env := newTestEnv(t, draftRow("UTRA"), draftRow("UTR%41"))

	// WHEN: The client addresses "UTR%41"
	rec := env.do(http.MethodGet, "/api/ct600/UTR%2541", "")

	// THEN: That return is served, not "UTRA"
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UTR%41", decode[TaxReturnDTO](t, rec).TaxReference)
}

func TestGetReturn_KeyWithEscapedSlash(t *testing.T) {
	env := newTestEnv(t, draftRow("UTR/1"))

	rec := env.do(http.MethodGet, "/api/ct600/UTR%2F1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UTR/1", decode[TaxReturnDTO](t, rec).TaxReference)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_RejectsBurstOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rl := NewRateLimiter(ctx, 0.001, 2)

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))

	rl.sweep(time.Now().Add(10 * time.Minute))
	assert.True(t, rl.Allow("1.2.3.4"))
}
