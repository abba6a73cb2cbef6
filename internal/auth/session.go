package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nhle/progresstrack/internal/api"
	"github.com/nhle/progresstrack/internal/credential"
	"github.com/nhle/progresstrack/internal/model"
)

// Auth endpoint paths.
const (
	loginPath   = "/api/v1/auth/login"
	refreshPath = "/api/v1/auth/refresh"
	logoutPath  = "/api/v1/auth/logout"
	accountPath = "/api/v1/auth/account"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	AccessToken string      `json:"accessToken"`
	User        *model.User `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// refreshResult is the outcome of one refresh cycle, fanned out to
// every caller that waited on it.
type refreshResult struct {
	token string
	err   error
}

// Session owns the access credential and the cached user profile. It is
// the api.Client's token source: every outbound request reads the
// credential through it, and 401 recovery funnels into Refresh, which
// guarantees at most one refresh request is in flight system-wide.
type Session struct {
	client  *api.Client
	storage credential.Storage
	logger  *slog.Logger

	mu         sync.Mutex
	token      string
	user       *model.User
	refreshing bool
	waiters    []chan refreshResult
	forced     []func()
}

// NewSession creates a session backed by the given client and credential
// storage. Wire it into the client with SetTokenSource afterwards.
func NewSession(client *api.Client, storage credential.Storage, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client:  client,
		storage: storage,
		logger:  logger,
	}
}

// Resume restores a persisted credential and cached profile from
// storage. It reports whether a credential was found; validity is not
// checked here, the first request (or a proactive refresh) settles that.
func (s *Session) Resume() bool {
	token, err := credential.LoadToken(s.storage)
	if err != nil {
		if !errors.Is(err, credential.ErrNotFound) {
			s.logger.Warn("loading persisted credential", "error", err)
		}
		return false
	}

	user, err := credential.LoadProfile(s.storage)
	if err != nil && !errors.Is(err, credential.ErrNotFound) {
		s.logger.Warn("loading cached profile", "error", err)
	}

	s.mu.Lock()
	s.token = token
	s.user = user
	s.mu.Unlock()
	return true
}

// Token implements api.TokenSource.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// User returns the cached account profile, or nil when logged out.
func (s *Session) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Expired reports whether the current credential is absent or past its
// expiry claim.
func (s *Session) Expired() bool {
	return TokenExpired(s.Token(), time.Now())
}

// OnForcedLogout registers a callback invoked when an unrecoverable
// refresh failure ends the session. The callback fires exactly once per
// failed refresh cycle, after local state has been cleared.
func (s *Session) OnForcedLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forced = append(s.forced, fn)
}

// Login authenticates against the backend and stores the resulting
// credential. When the response does not embed the profile, it is
// hydrated from the account endpoint.
func (s *Session) Login(ctx context.Context, identifier, password string) (*model.User, error) {
	var resp loginResponse
	err := s.client.Exchange(ctx, http.MethodPost, loginPath, loginRequest{
		Identifier: identifier,
		Password:   password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, errors.New("login response missing access token")
	}

	s.setCredential(resp.AccessToken)

	if resp.User != nil {
		s.setUser(resp.User)
		return resp.User, nil
	}
	return s.Account(ctx)
}

// Account fetches the current profile and refreshes the local cache.
func (s *Session) Account(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := s.client.Get(ctx, accountPath, &user); err != nil {
		return nil, err
	}
	s.setUser(&user)
	return &user, nil
}

// Logout tells the backend to end the session, then clears local state.
// The backend call is best effort; clearing proceeds regardless.
func (s *Session) Logout(ctx context.Context) {
	if err := s.client.Exchange(ctx, http.MethodGet, logoutPath, nil, nil); err != nil {
		s.logger.Warn("logout request failed", "error", err)
	}
	s.clearCredential()
}

// Refresh implements api.TokenSource. At most one refresh request is in
// flight at a time: the first caller performs it, every concurrent
// caller is queued and released in arrival order with the shared
// outcome. On success the new credential is stored before any waiter is
// released; on failure the whole batch fails, local state is cleared,
// and the forced-logout signal fires once.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.refreshing {
		ch := make(chan refreshResult, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case res := <-ch:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	s.refreshing = true
	s.mu.Unlock()

	// The outcome is shared by the whole batch, so the refresh request
	// is detached from the leader's context: one caller's cancellation
	// must not end the session for everyone. The client's own request
	// timeout still bounds the call.
	token, err := s.refreshOnce(context.WithoutCancel(ctx))

	// Settle shared state before releasing anyone, so every replayed
	// request already sees the outcome.
	if err != nil {
		s.clearCredential()
	} else {
		s.setCredential(token)
	}

	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.refreshing = false
	forced := append([]func(){}, s.forced...)
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}

	if err != nil {
		s.logger.Warn("credential refresh failed, ending session", "error", err)
		for _, fn := range forced {
			fn()
		}
		return "", err
	}
	return token, nil
}

// refreshOnce performs the actual refresh request. It authenticates via
// the HttpOnly cookie the login response set, so the expired access
// token in the Authorization header is irrelevant.
func (s *Session) refreshOnce(ctx context.Context) (string, error) {
	var resp refreshResponse
	if err := s.client.Exchange(ctx, http.MethodGet, refreshPath, nil, &resp); err != nil {
		return "", fmt.Errorf("refreshing credential: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("refresh response missing access token")
	}
	return resp.AccessToken, nil
}

// setCredential stores the token in memory and persists it.
func (s *Session) setCredential(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	if err := credential.SaveToken(s.storage, token); err != nil {
		s.logger.Warn("persisting credential", "error", err)
	}
}

// setUser caches the profile in memory and persists it.
func (s *Session) setUser(user *model.User) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()

	if err := credential.SaveProfile(s.storage, user); err != nil {
		s.logger.Warn("persisting profile", "error", err)
	}
}

// clearCredential wipes the in-memory and persisted session state.
func (s *Session) clearCredential() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()

	if err := credential.DeleteToken(s.storage); err != nil {
		s.logger.Warn("clearing persisted credential", "error", err)
	}
	if err := credential.DeleteProfile(s.storage); err != nil {
		s.logger.Warn("clearing cached profile", "error", err)
	}
}
