package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/progresstrack/internal/api"
	"github.com/nhle/progresstrack/internal/auth"
	"github.com/nhle/progresstrack/internal/credential"
	"github.com/nhle/progresstrack/internal/model"
	"github.com/nhle/progresstrack/internal/notifications"
	"github.com/nhle/progresstrack/internal/realtime"
	"github.com/nhle/progresstrack/internal/store"
	appsync "github.com/nhle/progresstrack/internal/sync"
)

// ErrLoginRequired is returned by Start when no usable session exists,
// signaling the caller to present its login flow.
var ErrLoginRequired = errors.New("login required")

// App wires the client core together: configuration, credential
// storage, the authenticated API client, the notification state store
// with its local cache, and the realtime channel with its polling
// fallback. UI layers consume it through the Session and Notifications
// accessors and the subscription callbacks.
type App struct {
	cfg     *model.AppConfig
	logger  *slog.Logger
	client  *api.Client
	session *auth.Session
	store   *notifications.Store
	channel *realtime.Channel
	poller  *appsync.Poller
	cache   *store.SQLiteStore

	unsubscribe []func()
}

// New assembles the client from configuration and credential storage.
func New(cfg *model.AppConfig, storage credential.Storage, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := api.NewClient(cfg.Server.BaseURL)
	session := auth.NewSession(client, storage, logger)
	client.SetTokenSource(session)

	var cache *store.SQLiteStore
	if cfg.Notifications.CachePath != "" {
		var err error
		cache, err = store.NewSQLiteStore(cfg.Notifications.CachePath)
		if err != nil {
			return nil, fmt.Errorf("opening notification cache: %w", err)
		}
	}

	var cacheIface store.Store
	if cache != nil {
		cacheIface = cache
	}
	notifStore := notifications.New(client, cacheIface, logger)

	channel := realtime.NewChannel(realtime.Config{
		URL:                  cfg.WebsocketURL(),
		ReconnectDelay:       time.Duration(cfg.Realtime.ReconnectDelaySec) * time.Second,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
	}, session, logger)

	poller := appsync.New(notifStore, channel,
		time.Duration(cfg.Notifications.PollIntervalSec)*time.Second, logger)

	a := &App{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		session: session,
		store:   notifStore,
		channel: channel,
		poller:  poller,
		cache:   cache,
	}

	// An unrecoverable refresh failure ends everything: the channel
	// comes down and the notification view resets.
	session.OnForcedLogout(func() {
		channel.Disconnect()
		poller.Stop()
		notifStore.Clear()
	})

	return a, nil
}

// Session returns the authentication session.
func (a *App) Session() *auth.Session {
	return a.session
}

// Notifications returns the notification state store.
func (a *App) Notifications() *notifications.Store {
	return a.store
}

// Channel returns the realtime notification channel.
func (a *App) Channel() *realtime.Channel {
	return a.channel
}

// Login authenticates and brings the notification pipeline up.
func (a *App) Login(ctx context.Context, identifier, password string) (*model.User, error) {
	user, err := a.session.Login(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	if err := a.startPipeline(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Start resumes a persisted session and brings the notification
// pipeline up. It returns ErrLoginRequired when no credential is stored,
// and the resume error when the stored session can no longer be used.
func (a *App) Start(ctx context.Context) error {
	if !a.session.Resume() {
		return ErrLoginRequired
	}

	// Hydrate the profile; a stale token recovers through the gateway's
	// transparent refresh, so this either works or the session is dead.
	user, err := a.session.Account(ctx)
	if err != nil {
		return fmt.Errorf("resuming session: %w", err)
	}

	return a.startPipeline(ctx, user)
}

// startPipeline wires channel events into the store, loads initial
// state, and opens the realtime connection. Channel callbacks are
// registered before Connect so no early event is lost.
func (a *App) startPipeline(ctx context.Context, user *model.User) error {
	a.detach()
	a.unsubscribe = append(a.unsubscribe,
		a.channel.OnNotification(a.store.HandleEvent),
		a.channel.OnUnreadCount(a.store.SetUnreadCount),
	)

	a.store.LoadInitial(ctx, user.ID)

	if err := a.channel.Connect(ctx, user.ID); err != nil {
		a.logger.Warn("realtime connect failed, relying on polling fallback", "error", err)
	}
	a.poller.Start(user.ID)
	return nil
}

// Logout ends the backend session, tears the pipeline down, and clears
// local state.
func (a *App) Logout(ctx context.Context) {
	a.channel.Disconnect()
	a.poller.Stop()
	a.detach()
	a.session.Logout(ctx)
	a.store.Clear()
}

// detach removes the channel-to-store wiring, so the next login starts
// with exactly one registration per event.
func (a *App) detach() {
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	a.unsubscribe = nil
}

// Close releases resources without touching the backend session.
func (a *App) Close() error {
	a.channel.Disconnect()
	a.poller.Stop()
	a.detach()
	if a.cache != nil {
		return a.cache.Close()
	}
	return nil
}
