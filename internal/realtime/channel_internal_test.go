package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type staticCreds struct {
	token string
}

func (s *staticCreds) Token() string { return s.token }

func (s *staticCreds) Expired() bool { return false }

func (s *staticCreds) Refresh(ctx context.Context) (string, error) {
	return s.token, nil
}

// TestSupersededDialIsAbandoned drives a dial from a stale connection
// generation directly: a reconnect attempt that finishes after a newer
// Connect must close its socket instead of replacing the live one.
func TestSupersededDialIsAbandoned(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := NewChannel(Config{
		URL:                  "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 1,
		HandshakeTimeout:     time.Second,
	}, &staticCreds{token: "tok"}, nil)

	if err := c.Connect(context.Background(), "u-1"); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()

	c.mu.Lock()
	live := c.conn
	c.mu.Unlock()

	staleGeneration := make(chan struct{})
	if err := c.dial(context.Background(), staleGeneration); err != nil {
		t.Fatalf("dial() error = %v", err)
	}

	c.mu.Lock()
	got := c.conn
	connected := c.connected
	c.mu.Unlock()

	if got != live {
		t.Error("superseded dial replaced the live connection")
	}
	if !connected {
		t.Error("channel reported disconnected after superseded dial")
	}
}
