package hmrc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warp/ct600-gateway/filing"
	"github.com/warp/ct600-gateway/metrics"
)

const (
	submitPath = "/corporation-tax/ct600/submit"
	statusPath = "/corporation-tax/ct600/status/"

	userAgent = "CT600-Submission/1.0"

	// maxResponseBytes caps how much of an HMRC response is read.
	maxResponseBytes = 1 << 20
)

// TokenSource yields a valid bearer token or filing.ErrAuthenticationRequired.
type TokenSource interface {
	Token() (AuthToken, error)
}

// Client performs the authenticated CT600 calls. It makes exactly one
// attempt per call; there is no retry and no idempotency key.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	newID      func() string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// NewClient builds a client for cfg.BaseURL using tokens for bearer auth.
func NewClient(cfg Config, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    cfg.baseURL(),
		tokens:     tokens,
		httpClient: NewHTTPClient(cfg.Timeout),
		logger:     slog.Default(),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// submitRequest is the CT600 payload. Amounts go out as JSON numbers.
type submitRequest struct {
	CompanyRegistrationNumber string      `json:"companyRegistrationNumber"`
	TaxReference              string      `json:"taxReference"`
	PeriodStart               string      `json:"periodStart"`
	PeriodEnd                 string      `json:"periodEnd"`
	Turnover                  json.Number `json:"turnover"`
	TaxableProfit             json.Number `json:"taxableProfit"`
	TaxDue                    json.Number `json:"taxDue"`
}

type submitResponse struct {
	SubmissionReference string `json:"submissionReference"`
}

type statusResponse struct {
	Status     string `json:"status"`
	StatusDate string `json:"statusDate"`
	Message    string `json:"message"`
}

// SubmitReturn posts a return and returns the reference HMRC assigned.
// A response without a reference is an error; no local reference is made up.
func (c *Client) SubmitReturn(ctx context.Context, r filing.TaxReturn) (string, error) {
	body, err := json.Marshal(submitRequest{
		CompanyRegistrationNumber: r.CompanyRegistrationNumber,
		TaxReference:              r.TaxReference,
		PeriodStart:               r.PeriodStart.Format(filing.DateLayout),
		PeriodEnd:                 r.PeriodEnd.Format(filing.DateLayout),
		Turnover:                  json.Number(r.Turnover.String()),
		TaxableProfit:             json.Number(r.TaxableProfit.String()),
		TaxDue:                    json.Number(r.TaxDue.String()),
	})
	if err != nil {
		return "", fmt.Errorf("encode CT600: %w", err)
	}

	resp, err := c.do(ctx, "submit", http.MethodPost, submitPath, body)
	if err != nil {
		return "", err
	}
	if resp.status < 200 || resp.status > 299 {
		return "", resp.failure("submit")
	}

	var out submitResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", &filing.MalformedResponseError{Service: "hmrc submit", Field: "body", Err: err}
	}
	ref := strings.TrimSpace(out.SubmissionReference)
	if ref == "" {
		return "", &filing.MalformedResponseError{Service: "hmrc submit", Field: "submissionReference"}
	}
	c.logger.Info("CT600 submitted successfully",
		"submission_reference", ref, "correlation_id", resp.correlationID)
	return ref, nil
}

// GetStatus fetches the state of a submission. HMRC answering 404 is a
// valid outcome and comes back as a "Not Found" status.
func (c *Client) GetStatus(ctx context.Context, submissionReference string) (filing.SubmissionStatus, error) {
	resp, err := c.do(ctx, "status", http.MethodGet, statusPath+url.PathEscape(submissionReference), nil)
	if err != nil {
		return filing.SubmissionStatus{}, err
	}
	if resp.status == http.StatusNotFound {
		return filing.SubmissionStatus{
			Reference: submissionReference,
			Status:    filing.StatusNotFound,
			Message:   "Submission reference not found in HMRC system",
		}, nil
	}
	if resp.status < 200 || resp.status > 299 {
		return filing.SubmissionStatus{}, resp.failure("status")
	}

	var out statusResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return filing.SubmissionStatus{}, &filing.MalformedResponseError{Service: "hmrc status", Field: "body", Err: err}
	}
	if strings.TrimSpace(out.Status) == "" {
		return filing.SubmissionStatus{}, &filing.MalformedResponseError{Service: "hmrc status", Field: "status"}
	}
	st := filing.SubmissionStatus{
		Reference: submissionReference,
		Status:    out.Status,
		Message:   out.Message,
	}
	if out.StatusDate != "" {
		if t, ok := filing.ParseDate(out.StatusDate); ok {
			st.StatusDate = &t
		}
	}
	return st, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

type response struct {
	status        int
	body          []byte
	correlationID string
}

func (r response) failure(op string) error {
	return &filing.ExternalServiceError{
		Service:    "hmrc",
		Op:         op,
		StatusCode: r.status,
		Err:        fmt.Errorf("correlation id %s: %s", r.correlationID, snippet(r.body)),
	}
}

// do attaches the bearer token and sends one request. The token check
// happens before any I/O.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (response, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return response{}, err
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return response{}, fmt.Errorf("build %s request: %w", op, err)
	}
	correlationID := c.newID()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("X-Correlation-ID", correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveAuthority(op, "transport_error", time.Since(start))
		c.logger.Error("HMRC request failed", "op", op, "correlation_id", correlationID, "err", err)
		return response{}, &filing.ExternalServiceError{Service: "hmrc", Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.ObserveAuthority(op, strconvStatus(resp.StatusCode), time.Since(start))
	if err != nil {
		return response{}, &filing.ExternalServiceError{Service: "hmrc", Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	c.logger.Debug("HMRC response",
		"op", op, "status", resp.StatusCode, "correlation_id", correlationID)
	return response{status: resp.StatusCode, body: data, correlationID: correlationID}, nil
}

func strconvStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "ok"
	case code == http.StatusNotFound:
		return "not_found"
	case code == http.StatusUnauthorized:
		return "unauthorized"
	case code >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}

func snippet(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
