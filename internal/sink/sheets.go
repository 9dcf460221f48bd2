package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/skobkin/erwait-web/internal/sampler"
)

// AuthError reports a failed access-token exchange.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token exchange failed: %s", e.Reason)
}

// TokenSource produces a short-lived access token for the append endpoint.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// RefreshTokenSource exchanges a long-lived OAuth refresh token for an
// access token. Every call performs a fresh exchange; tokens are never
// cached across ticks.
type RefreshTokenSource struct {
	client       *resty.Client
	tokenURL     string
	clientID     string
	clientSecret string
	refreshToken string
}

// NewRefreshTokenSource constructs a RefreshTokenSource for the given OAuth
// token endpoint and client credentials.
func NewRefreshTokenSource(tokenURL, clientID, clientSecret, refreshToken string, timeout time.Duration) (*RefreshTokenSource, error) {
	if tokenURL == "" || clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, fmt.Errorf("token URL and all credentials must be set")
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &RefreshTokenSource{
		client:       client,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		refreshToken: refreshToken,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// AccessToken performs the refresh-token exchange.
func (ts *RefreshTokenSource) AccessToken(ctx context.Context) (string, error) {
	var token tokenResponse
	resp, err := ts.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     ts.clientID,
			"client_secret": ts.clientSecret,
			"grant_type":    "refresh_token",
			"refresh_token": ts.refreshToken,
		}).
		SetResult(&token).
		Post(ts.tokenURL)
	if err != nil {
		return "", &AuthError{Reason: err.Error()}
	}
	if !resp.IsSuccess() {
		return "", &AuthError{Reason: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode())}
	}
	if token.AccessToken == "" {
		return "", &AuthError{Reason: "response contains no access_token"}
	}
	return token.AccessToken, nil
}

// SheetsSink appends samples to a spreadsheet append endpoint. Each append
// first obtains a fresh access token, then posts the sample as a one-row
// values payload.
type SheetsSink struct {
	client    *resty.Client
	appendURL string
	tokens    TokenSource
	logger    *slog.Logger
}

// NewSheetsSink constructs a SheetsSink targeting the given append endpoint.
func NewSheetsSink(appendURL string, tokens TokenSource, timeout time.Duration, logger *slog.Logger) (*SheetsSink, error) {
	if appendURL == "" {
		return nil, fmt.Errorf("append URL must not be empty")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SheetsSink{
		client:    client,
		appendURL: appendURL,
		tokens:    tokens,
		logger:    logger.With("component", "sheets_sink"),
	}, nil
}

type appendPayload struct {
	Values [][]any `json:"values"`
}

// Append exchanges a token and posts one row. Token exchange failures
// surface as AuthError, non-2xx append responses as StatusError.
func (s *SheetsSink) Append(ctx context.Context, sample sampler.Sample) error {
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(appendPayload{Values: [][]any{sample.Row()}}).
		Post(s.appendURL)
	if err != nil {
		return fmt.Errorf("append request: %w", err)
	}
	if !resp.IsSuccess() {
		return &sampler.StatusError{Code: resp.StatusCode()}
	}

	s.logger.Debug("row appended", "status", resp.StatusCode())
	return nil
}
