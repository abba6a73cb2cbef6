package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nhle/progresstrack/internal/api"
)

// fakeTokens is a controllable TokenSource for gateway tests.
type fakeTokens struct {
	mu         sync.Mutex
	token      string
	next       string
	refreshErr error
	refreshes  int32
}

func (f *fakeTokens) Token() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	atomic.AddInt32(&f.refreshes, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.token = f.next
	return f.next, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		writeJSON(w, http.StatusOK, map[string]string{"value": "hello"})
	}))
	defer server.Close()

	client := api.NewClient(server.URL)
	client.SetTokenSource(&fakeTokens{token: "tok"})

	var result struct {
		Value string `json:"value"`
	}
	if err := client.Get(context.Background(), "/x", &result); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if result.Value != "hello" {
		t.Errorf("result.Value = %q, want %q", result.Value, "hello")
	}
}

func TestErrorPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"code":    api.CodeAccountInactive,
			"message": "account disabled",
		})
	}))
	defer server.Close()

	client := api.NewClient(server.URL)
	client.SetTokenSource(&fakeTokens{token: "tok"})

	err := client.Get(context.Background(), "/x", nil)
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Get() error = %v, want *api.Error", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want %d", apiErr.Status, http.StatusForbidden)
	}
	if !api.HasCode(err, api.CodeAccountInactive) {
		t.Errorf("HasCode(%s) = false, want true", api.CodeAccountInactive)
	}
	if api.IsAuthError(err) {
		t.Error("IsAuthError() = true for a 403, want false")
	}
}

func TestErrorWithoutJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := api.NewClient(server.URL)

	err := client.Get(context.Background(), "/x", nil)
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Get() error = %v, want *api.Error", err)
	}
	if apiErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", apiErr.Status)
	}
	if apiErr.Message == "" {
		t.Error("Message is empty, want fallback text")
	}
}

func TestUnauthorizedTriggersRefreshAndRetry(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.Header.Get("Authorization") != "Bearer new-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"value": "ok"})
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "expired-token", next: "new-token"}
	client := api.NewClient(server.URL)
	client.SetTokenSource(tokens)

	var result struct {
		Value string `json:"value"`
	}
	if err := client.Get(context.Background(), "/x", &result); err != nil {
		t.Fatalf("Get() error = %v, want transparent recovery", err)
	}
	if result.Value != "ok" {
		t.Errorf("result.Value = %q, want %q", result.Value, "ok")
	}
	if got := atomic.LoadInt32(&tokens.refreshes); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Errorf("requests = %d, want 2 (original + one retry)", got)
	}
}

func TestSecondUnauthorizedSurfaces(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "still expired"})
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "old", next: "new"}
	client := api.NewClient(server.URL)
	client.SetTokenSource(tokens)

	err := client.Get(context.Background(), "/x", nil)
	if !api.IsAuthError(err) {
		t.Fatalf("Get() error = %v, want a surfaced 401", err)
	}
	// Exactly one refresh and one retry: the retried request must not
	// start a second refresh cycle.
	if got := atomic.LoadInt32(&tokens.refreshes); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
	if got := atomic.LoadInt32(&requests); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestRefreshFailureBecomesCallerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "expired"})
	}))
	defer server.Close()

	refreshErr := errors.New("refresh endpoint unreachable")
	tokens := &fakeTokens{token: "old", refreshErr: refreshErr}
	client := api.NewClient(server.URL)
	client.SetTokenSource(tokens)

	err := client.Get(context.Background(), "/x", nil)
	if !errors.Is(err, refreshErr) {
		t.Errorf("Get() error = %v, want the refresh failure %v", err, refreshErr)
	}
}

func TestExchangeSkipsRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"code":    api.CodeBadCredentials,
			"message": "bad credentials",
		})
	}))
	defer server.Close()

	tokens := &fakeTokens{token: "whatever", next: "fresh"}
	client := api.NewClient(server.URL)
	client.SetTokenSource(tokens)

	err := client.Exchange(context.Background(), http.MethodPost, "/login", map[string]string{}, nil)
	if !api.IsAuthError(err) {
		t.Fatalf("Exchange() error = %v, want 401 api error", err)
	}
	if got := atomic.LoadInt32(&tokens.refreshes); got != 0 {
		t.Errorf("refreshes = %d, want 0 (auth flow must not recurse)", got)
	}
}
