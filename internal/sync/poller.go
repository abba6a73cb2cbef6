package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/progresstrack/internal/model"
	"github.com/nhle/progresstrack/internal/notifications"
)

// fetchTimeout is the maximum time allowed for a single fallback fetch.
const fetchTimeout = 30 * time.Second

// ConnectionReporter exposes the realtime channel's transport status, so
// the poller only works while the push path is down.
type ConnectionReporter interface {
	State() model.ConnectionState
}

// Poller is the degraded-mode companion of the realtime channel: while
// the channel is disconnected (including after its reconnect budget is
// exhausted), it periodically re-fetches notification state over REST so
// the client keeps receiving updates, just slower.
type Poller struct {
	store    *notifications.Store
	channel  ConnectionReporter
	interval time.Duration
	logger   *slog.Logger

	mu      gosync.Mutex
	running bool
	stopCh  chan struct{}
}

// New creates a poller over the given notification store. interval <= 0
// defaults to one minute.
func New(store *notifications.Store, channel ConnectionReporter, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:    store,
		channel:  channel,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the polling loop for the given user. Calling Start on a
// running poller is a no-op.
func (p *Poller) Start(userID string) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	go p.loop(userID, stopCh)
}

// Stop halts the polling loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.stopCh = nil
	p.running = false
}

// loop ticks at the configured interval and refreshes notification
// state whenever the realtime channel is down.
func (p *Poller) loop(userID string, stopCh chan struct{}) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if p.channel != nil && p.channel.State().Connected {
				continue
			}
			p.fetch(userID)
		}
	}
}

// fetch performs a single full refresh of the notification state.
func (p *Poller) fetch(userID string) {
	p.logger.Debug("realtime channel down, polling notifications", "user", userID)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	p.store.LoadInitial(ctx, userID)
}
