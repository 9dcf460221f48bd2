package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/skobkin/erwait-web/internal/sampler"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func testSample() sampler.Sample {
	return sampler.Sample{
		Timestamp:          time.Date(2020, 1, 1, 8, 55, 0, 0, time.UTC),
		PatientCount:       36,
		AvgWaitMinutes:     77.44,
		LongestWaitMinutes: 162,
	}
}

func TestSheetsSinkExchangesTokenBeforeEveryAppend(t *testing.T) {
	t.Parallel()

	log := &callLog{}

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.record("token")
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostFormValue("client_id"); got != "client" {
			t.Errorf("client_id = %q", got)
		}
		if got := r.PostFormValue("refresh_token"); got != "refresh" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"short-lived","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	appendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.record("append")
		if got := r.Header.Get("Authorization"); got != "Bearer short-lived" {
			t.Errorf("Authorization = %q", got)
		}
		var payload struct {
			Values [][]any `json:"values"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode append payload: %v", err)
		}
		if len(payload.Values) != 1 || len(payload.Values[0]) != 4 {
			t.Errorf("unexpected payload shape %+v", payload.Values)
		} else if payload.Values[0][0] != "01/01/20 08:55:00" {
			t.Errorf("unexpected timestamp cell %v", payload.Values[0][0])
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer appendServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := NewRefreshTokenSource(tokenServer.URL, "client", "secret", "refresh", 5*time.Second)
	if err != nil {
		t.Fatalf("NewRefreshTokenSource returned error: %v", err)
	}
	sheets, err := NewSheetsSink(appendServer.URL, tokens, 5*time.Second, logger)
	if err != nil {
		t.Fatalf("NewSheetsSink returned error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := sheets.Append(context.Background(), testSample()); err != nil {
			t.Fatalf("Append #%d returned error: %v", i, err)
		}
	}

	want := []string{"token", "append", "token", "append"}
	got := log.snapshot()
	if len(got) != len(want) {
		t.Fatalf("call order %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call order %v, want %v", got, want)
		}
	}
}

func TestSheetsSinkTokenFailureIsAuthError(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_grant", http.StatusBadRequest)
	}))
	defer tokenServer.Close()

	appendCalled := false
	appendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appendCalled = true
	}))
	defer appendServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := NewRefreshTokenSource(tokenServer.URL, "client", "secret", "refresh", 5*time.Second)
	if err != nil {
		t.Fatalf("NewRefreshTokenSource returned error: %v", err)
	}
	sheets, err := NewSheetsSink(appendServer.URL, tokens, 5*time.Second, logger)
	if err != nil {
		t.Fatalf("NewSheetsSink returned error: %v", err)
	}

	err = sheets.Append(context.Background(), testSample())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Append error = %v, want AuthError", err)
	}
	if appendCalled {
		t.Fatalf("append endpoint must not be called when the token exchange fails")
	}
}

func TestSheetsSinkEmptyTokenIsAuthError(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer tokenServer.Close()

	tokens, err := NewRefreshTokenSource(tokenServer.URL, "client", "secret", "refresh", 5*time.Second)
	if err != nil {
		t.Fatalf("NewRefreshTokenSource returned error: %v", err)
	}

	_, err = tokens.AccessToken(context.Background())

	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("AccessToken error = %v, want AuthError", err)
	}
}

func TestSheetsSinkAppendNon2xxIsStatusError(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"short-lived"}`))
	}))
	defer tokenServer.Close()

	appendServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer appendServer.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := NewRefreshTokenSource(tokenServer.URL, "client", "secret", "refresh", 5*time.Second)
	if err != nil {
		t.Fatalf("NewRefreshTokenSource returned error: %v", err)
	}
	sheets, err := NewSheetsSink(appendServer.URL, tokens, 5*time.Second, logger)
	if err != nil {
		t.Fatalf("NewSheetsSink returned error: %v", err)
	}

	err = sheets.Append(context.Background(), testSample())

	var statusErr *sampler.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Append error = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusTooManyRequests {
		t.Fatalf("StatusError.Code = %d", statusErr.Code)
	}
}

func TestNewRefreshTokenSourceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRefreshTokenSource("", "client", "secret", "refresh", time.Second); err == nil {
		t.Fatalf("empty token URL should be rejected")
	}
	if _, err := NewRefreshTokenSource("https://example.test/token", "", "secret", "refresh", time.Second); err == nil {
		t.Fatalf("empty client id should be rejected")
	}
}
