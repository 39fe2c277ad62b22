/*
handlers.go - HTTP API handlers for the CT600 gateway

PURPOSE:
  Exposes HMRC authorization and the CT600 submission workflow over REST.
  Handles HTTP request/response and JSON, and delegates to filing.Service
  and the token holder.

ENDPOINTS:
  Auth:
    GET    /api/auth/authorize              HMRC consent URL
    GET    /api/auth/callback?code=         Exchange the authorization code
    GET    /api/auth/status                 Whether a usable token is held
    DELETE /api/auth/token                  Drop the held token

  Returns:
    GET    /api/ct600                       List returns
    POST   /api/ct600                       Create return
    GET    /api/ct600/{taxReference}        Get return
    PUT    /api/ct600/{taxReference}        Replace return
    POST   /api/ct600/{taxReference}/submit Submit to HMRC
    GET    /api/ct600/{taxReference}/status HMRC status (read-only)
    POST   /api/ct600/{taxReference}/status/sync  HMRC status, written back
    GET    /api/ct600/{taxReference}/summary.pdf  PDF summary

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status chosen by errorStatus:
  - 400: Validation errors, invalid input
  - 401: No valid HMRC token
  - 404: Return not found
  - 409: Duplicate tax reference
  - 502: HMRC or the record store failed, or a submission was not recorded
  - 503: HMRC application settings missing
  - 500: Anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/warp/ct600-gateway/filing"
	"github.com/warp/ct600-gateway/hmrc"
	"github.com/warp/ct600-gateway/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// TokenHolder is the part of hmrc.TokenManager the API drives.
type TokenHolder interface {
	AuthorizationURL() (string, error)
	ExchangeCode(ctx context.Context, code string) (hmrc.AuthToken, error)
	IsAuthenticated() bool
	Current() (hmrc.AuthToken, bool)
	Clear()
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Returns *filing.Service
	Tokens  TokenHolder
	Logger  *slog.Logger

	// Ping checks the record store for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler creates a handler. A nil logger uses slog.Default().
func NewHandler(returns *filing.Service, tokens TokenHolder, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Returns: returns, Tokens: tokens, Logger: logger}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Authorize returns the HMRC consent URL.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	u, err := h.Tokens.AuthorizationURL()
	if err != nil {
		h.writeServiceError(w, "Failed to generate authorization URL", err)
		return
	}
	writeJSON(w, http.StatusOK, AuthorizeResponse{
		AuthorizationURL: u,
		Message:          "Visit this URL to authorize the application with HMRC",
	})
}

// Callback exchanges the authorization code HMRC redirected back with.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, "Authorization was not granted", "AUTHORIZATION_DENIED",
			map[string]string{"error": denied, "description": q.Get("error_description")})
		return
	}
	code := q.Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, "Authorization code is missing", "VALIDATION_ERROR", nil)
		return
	}

	tok, err := h.Tokens.ExchangeCode(r.Context(), code)
	if err != nil {
		h.writeServiceError(w, "Failed to complete authentication", err)
		return
	}
	writeJSON(w, http.StatusOK, CallbackResponse{
		Message:   "Successfully authenticated with HMRC",
		ExpiresIn: tok.ExpiresIn,
		ExpiresAt: tok.ExpiresAt,
	})
}

// AuthStatus reports whether a usable token is held.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	resp := AuthStatusResponse{IsAuthenticated: h.Tokens.IsAuthenticated()}
	if resp.IsAuthenticated {
		resp.Message = "Authenticated with HMRC"
		if tok, ok := h.Tokens.Current(); ok {
			resp.ExpiresAt = &tok.ExpiresAt
		}
	} else {
		resp.Message = "Not authenticated with HMRC"
	}
	writeJSON(w, http.StatusOK, resp)
}

// SignOut drops the held token.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.Tokens.Clear()
	h.Logger.Info("HMRC token cleared")
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RETURN HANDLERS
// =============================================================================

// ListReturns returns every stored return.
func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	all, err := h.Returns.ListReturns(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to retrieve data", err)
		return
	}
	dtos := make([]TaxReturnDTO, len(all))
	for i, ret := range all {
		dtos[i] = toTaxReturnDTO(ret)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReturn returns one return.
func (h *Handler) GetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := h.Returns.GetReturn(r.Context(), taxReference(r))
	if err != nil {
		h.writeServiceError(w, "Failed to retrieve data", err)
		return
	}
	writeJSON(w, http.StatusOK, toTaxReturnDTO(ret))
}

// CreateReturn stores a new return.
func (h *Handler) CreateReturn(w http.ResponseWriter, r *http.Request) {
	ret, ok := h.decodeReturn(w, r)
	if !ok {
		return
	}
	created, err := h.Returns.CreateReturn(r.Context(), ret)
	if err != nil {
		h.writeServiceError(w, "Failed to add data", err)
		return
	}
	w.Header().Set("Location", "/api/ct600/"+url.PathEscape(created.TaxReference))
	writeJSON(w, http.StatusCreated, toTaxReturnDTO(created))
}

// UpdateReturn replaces a stored return.
func (h *Handler) UpdateReturn(w http.ResponseWriter, r *http.Request) {
	ret, ok := h.decodeReturn(w, r)
	if !ok {
		return
	}
	if err := h.Returns.UpdateReturn(r.Context(), taxReference(r), ret); err != nil {
		h.writeServiceError(w, "Failed to update data", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "CT600 data updated successfully"})
}

// Submit sends a return to HMRC.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Returns.Submit(r.Context(), taxReference(r))
	if err != nil {
		h.writeServiceError(w, "Failed to submit CT600", err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{
		Message:             "CT600 submitted successfully",
		SubmissionReference: receipt.SubmissionReference,
		SubmissionDate:      receipt.SubmissionDate,
	})
}

// SubmissionStatus asks HMRC for the state of a submitted return.
func (h *Handler) SubmissionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Returns.GetSubmissionStatus(r.Context(), taxReference(r))
	if err != nil {
		h.writeServiceError(w, "Failed to get submission status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionStatusDTO(st))
}

// SyncStatus asks HMRC for the status and stores it on the return.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Returns.SyncStatus(r.Context(), taxReference(r))
	if err != nil {
		h.writeServiceError(w, "Failed to sync submission status", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionStatusDTO(st))
}

// SummaryPDF renders the return as a PDF.
func (h *Handler) SummaryPDF(w http.ResponseWriter, r *http.Request) {
	ret, err := h.Returns.GetReturn(r.Context(), taxReference(r))
	if err != nil {
		h.writeServiceError(w, "Failed to retrieve data", err)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteReturnPDF(&buf, ret); err != nil {
		h.writeServiceError(w, "Failed to render summary", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="ct600-`+url.PathEscape(ret.TaxReference)+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Health reports liveness and, when configured, store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "record store unreachable", "UNHEALTHY", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// taxReference is the path key. chi matches on RawPath when the request
// carries one (an escaped "/" or similar), and then the parameter is still
// encoded; otherwise it matches on the already decoded Path.
func taxReference(r *http.Request) string {
	param := chi.URLParam(r, "taxReference")
	if r.URL.RawPath == "" {
		return param
	}
	if ref, err := url.PathUnescape(param); err == nil {
		return ref
	}
	return param
}

func (h *Handler) decodeReturn(w http.ResponseWriter, r *http.Request) (filing.TaxReturn, bool) {
	var dto TaxReturnDTO
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", "VALIDATION_ERROR", err.Error())
		return filing.TaxReturn{}, false
	}
	ret, err := dto.toTaxReturn()
	if err != nil {
		h.writeServiceError(w, "Invalid request body", err)
		return filing.TaxReturn{}, false
	}
	return ret, true
}

// errorStatus maps a service error to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var partial *filing.PartialSubmissionError
	switch {
	case errors.As(err, &partial):
		return http.StatusBadGateway, "PARTIAL_SUBMISSION"
	case errors.Is(err, filing.ErrAuthenticationRequired):
		return http.StatusUnauthorized, "AUTHENTICATION_REQUIRED"
	case errors.Is(err, filing.ErrRecordNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case filing.IsClientError(err):
		if errors.Is(err, filing.ErrDuplicateTaxReference) {
			return http.StatusConflict, "DUPLICATE_TAX_REFERENCE"
		}
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, filing.ErrNotConfigured):
		return http.StatusServiceUnavailable, "NOT_CONFIGURED"
	case filing.IsUpstream(err):
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	status, code := errorStatus(err)
	switch status {
	case http.StatusUnauthorized:
		message = "Not authenticated with HMRC. Please authenticate first."
	case http.StatusNotFound:
		message = "CT600 data not found for the given tax reference"
	}

	var details any = err.Error()
	var partial *filing.PartialSubmissionError
	if errors.As(err, &partial) {
		details = map[string]string{
			"submissionReference": partial.SubmissionReference,
			"error":               err.Error(),
		}
	}
	if status >= 500 {
		h.Logger.Error(message, "code", code, "err", err)
	}
	writeError(w, status, message, code, details)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, code string, details any) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}
