/*
Package hmrc talks to the HMRC corporation-tax API.

PURPOSE:
  TokenManager owns the single OAuth2 access token the process holds.
  Client makes the two bearer-authenticated calls (submit and status).

TOKEN LIFECYCLE:
  Unauthenticated -> (code exchange succeeds) -> Authenticated
  Authenticated   -> (clock passes ExpiresAt) -> Unauthenticated

  There is no refresh. A refresh token returned by HMRC is kept on the
  AuthToken but never used; expiry always means a new authorization-code
  exchange. Validity is checked lazily when a token is needed.

CONCURRENCY:
  One mutex guards the token slot for both reads and writes. Checking
  IsAuthenticated and then calling HMRC is not atomic: a token can expire
  in between, in which case HMRC answers 401 and the caller sees an
  ExternalServiceError rather than ErrAuthenticationRequired.

SEE ALSO:
  - client.go: Submit and status calls
  - filing/service.go: The workflow that consumes both
*/
package hmrc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/warp/ct600-gateway/filing"
	"github.com/warp/ct600-gateway/metrics"
)

const (
	// DefaultBaseURL is the HMRC sandbox.
	DefaultBaseURL = "https://test-api.service.hmrc.gov.uk"

	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 30 * time.Second

	// defaultExpiresIn applies when the token response omits expires_in.
	defaultExpiresIn = 3600
)

// DefaultScopes are requested on every authorization.
var DefaultScopes = []string{"read:corporation-tax", "write:corporation-tax"}

// Config holds the HMRC application settings.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
}

func (c Config) baseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

// NewHTTPClient returns a client with the configured overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// =============================================================================
// AUTH TOKEN
// =============================================================================

// AuthToken is the live HMRC credential.
type AuthToken struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int
	ExpiresAt    time.Time
	RefreshToken string
}

// Valid reports whether the token can be used at now.
func (t AuthToken) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// =============================================================================
// TOKEN MANAGER
// =============================================================================

// TokenManager holds at most one token. The zero state is unauthenticated;
// dropping the manager (process exit) drops the token.
type TokenManager struct {
	cfg        Config
	oauth      oauth2.Config
	httpClient *http.Client
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.Mutex
	current *AuthToken
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenHTTPClient sets the client used for the code exchange.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(m *TokenManager) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(m *TokenManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l *slog.Logger) TokenOption {
	return func(m *TokenManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithScopes replaces the requested scopes.
func WithScopes(scopes ...string) TokenOption {
	return func(m *TokenManager) {
		if len(scopes) > 0 {
			m.oauth.Scopes = scopes
		}
	}
}

// NewTokenManager builds an unauthenticated manager.
func NewTokenManager(cfg Config, opts ...TokenOption) *TokenManager {
	base := cfg.baseURL()
	m := &TokenManager{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       append([]string(nil), DefaultScopes...),
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: NewHTTPClient(cfg.Timeout),
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AuthorizationURL builds the HMRC consent URL. It performs no I/O and fails
// only when the application is not configured.
func (m *TokenManager) AuthorizationURL() (string, error) {
	if err := m.requireConfig(false); err != nil {
		return "", err
	}
	return m.oauth.AuthCodeURL(""), nil
}

// ExchangeCode trades an authorization code for a token and makes it the
// current one.
func (m *TokenManager) ExchangeCode(ctx context.Context, code string) (AuthToken, error) {
	if strings.TrimSpace(code) == "" {
		return AuthToken{}, &filing.ValidationError{Field: "code", Message: "authorization code is missing"}
	}
	if err := m.requireConfig(true); err != nil {
		return AuthToken{}, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	start := time.Now()
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		err = classifyExchangeError(err)
		metrics.ObserveAuthority("token_exchange", outcomeOf(err), time.Since(start))
		metrics.TokenExchanged("failed")
		m.logger.Error("exchange authorization code failed", "err", err)
		return AuthToken{}, err
	}
	metrics.ObserveAuthority("token_exchange", "ok", time.Since(start))

	expiresIn := expiresInSeconds(tok)
	issued := m.now()
	t := AuthToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    expiresIn,
		ExpiresAt:    issued.Add(time.Duration(expiresIn) * time.Second),
		RefreshToken: tok.RefreshToken,
	}
	if t.TokenType == "" {
		t.TokenType = "Bearer"
	}

	m.mu.Lock()
	m.current = &t
	m.mu.Unlock()

	metrics.TokenExchanged("ok")
	m.logger.Info("authenticated with HMRC", "expires_at", t.ExpiresAt.Format(time.RFC3339))
	return t, nil
}

// IsAuthenticated reports whether a token is held and not yet expired.
func (m *TokenManager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.Valid(m.now())
}

// Token returns the current token if it is still valid.
func (m *TokenManager) Token() (AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.Valid(m.now()) {
		return AuthToken{}, filing.ErrAuthenticationRequired
	}
	return *m.current, nil
}

// Current returns a copy of the held token, valid or not.
func (m *TokenManager) Current() (AuthToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return AuthToken{}, false
	}
	return *m.current, true
}

// Clear drops the held token.
func (m *TokenManager) Clear() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

func (m *TokenManager) requireConfig(withSecret bool) error {
	var missing []string
	if m.cfg.baseURL() == "" {
		missing = append(missing, "base URL")
	}
	if m.cfg.ClientID == "" {
		missing = append(missing, "client id")
	}
	if m.cfg.RedirectURI == "" {
		missing = append(missing, "redirect URI")
	}
	if withSecret && m.cfg.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return &configError{missing: missing}
	}
	return nil
}

type configError struct {
	missing []string
}

func (e *configError) Error() string {
	return "hmrc: missing " + strings.Join(e.missing, ", ")
}

func (e *configError) Unwrap() error {
	return filing.ErrNotConfigured
}

func classifyExchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := 0
		if re.Response != nil {
			code = re.Response.StatusCode
		}
		return &filing.ExternalServiceError{Service: "hmrc", Op: "token exchange", StatusCode: code, Err: err}
	}
	var ue *url.Error
	if errors.As(err, &ue) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &filing.ExternalServiceError{Service: "hmrc", Op: "token exchange", Err: err}
	}
	return &filing.MalformedResponseError{Service: "hmrc token endpoint", Field: "access_token", Err: err}
}

func expiresInSeconds(tok *oauth2.Token) int {
	var n int64 = defaultExpiresIn
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		n = int64(v)
	case int64:
		n = v
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n = i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			n = i
		}
	}
	if n < 0 {
		n = 0
	}
	return int(n)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, filing.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
