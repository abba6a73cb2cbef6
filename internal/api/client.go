package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// requestTimeout is the fixed timeout applied to every outbound request.
// A timed-out request fails as a transport error, never as a 401, so it
// is not eligible for the credential refresh path.
const requestTimeout = 30 * time.Second

// TokenSource supplies the current access credential and can obtain a
// fresh one when the backend reports it expired.
type TokenSource interface {
	// Token returns the current access token, or "" when logged out.
	Token() string

	// Refresh obtains a new access token. Implementations coordinate
	// concurrent callers so at most one refresh request is in flight.
	Refresh(ctx context.Context) (string, error)
}

// Client is a JSON HTTP client for the progress-tracking backend. It
// attaches Bearer token authentication to every request and, when a
// request fails with 401, transparently refreshes the credential through
// its TokenSource and reissues the request once.
//
// The underlying http.Client carries a cookie jar: the refresh endpoint
// authenticates through an HttpOnly cookie set at login, independent of
// the expired access token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
}

// NewClient creates a new backend client. The baseURL should be the root
// URL of the backend (e.g., https://tracker.example.edu).
func NewClient(baseURL string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Jar:     jar,
		},
	}
}

// SetTokenSource wires the credential provider. It is separate from the
// constructor because the session that implements TokenSource needs the
// client to perform its own auth calls.
func (c *Client) SetTokenSource(tokens TokenSource) {
	c.tokens = tokens
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with a JSON body and unmarshals
// the JSON response.
func (c *Client) Post(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Put performs an HTTP PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// Patch performs an HTTP PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, result interface{}) error {
	return c.do(ctx, http.MethodPatch, path, body, result)
}

// Delete performs an HTTP DELETE request.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Exchange performs a request without the 401 refresh handling. The auth
// flow itself uses it: a 401 from login or refresh is a terminal answer,
// not a prompt to refresh again.
func (c *Client) Exchange(ctx context.Context, method, path string, body, result interface{}) error {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	return c.once(ctx, method, path, body, result, token)
}

// do issues the request with the current credential. On a 401 it asks
// the token source for a fresh credential and reissues the request
// exactly once; a second 401 (or a refresh failure) surfaces to the
// caller. The single retry is structural, so no request can loop.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}

	err := c.once(ctx, method, path, body, result, token)
	if err == nil || c.tokens == nil || !IsAuthError(err) {
		return err
	}

	newToken, refreshErr := c.tokens.Refresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}

	return c.once(ctx, method, path, body, result, newToken)
}

// once builds and executes a single request attempt, handling auth
// headers and JSON (de)serialization.
func (c *Client) once(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
	token string,
) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}

	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("reading response body: %w", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	// No content to parse (e.g. 204).
	if result == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
	}

	return nil
}
