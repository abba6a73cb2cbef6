package notifications_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nhle/progresstrack/internal/api"
	"github.com/nhle/progresstrack/internal/model"
	"github.com/nhle/progresstrack/internal/notifications"
	"github.com/nhle/progresstrack/internal/store"
	"github.com/nhle/progresstrack/tests/testutil"
)

// fakeBackend serves the notification REST endpoints from fixed data.
type fakeBackend struct {
	items       []model.Notification
	unreadCount int
	failList    bool
	failConfirm bool

	confirmed int32
}

func (b *fakeBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case b.failList:
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "backend down"})
		case r.Method == http.MethodPatch:
			atomic.AddInt32(&b.confirmed, 1)
			if b.failConfirm {
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "confirm failed"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/v1/notifications/user/u-1/unread-count":
			_ = json.NewEncoder(w).Encode(map[string]int{"unreadCount": b.unreadCount})
		default:
			_ = json.NewEncoder(w).Encode(b.items)
		}
	})
}

func newStore(t *testing.T, backend *fakeBackend, cache store.Store) *notifications.Store {
	t.Helper()

	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	return notifications.New(api.NewClient(server.URL), cache, nil)
}

func notif(id string, createdAt time.Time, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		Title:     "title " + id,
		Message:   "message " + id,
		Type:      model.NotificationInfo,
		Read:      read,
		CreatedAt: createdAt,
	}
}

// ids extracts the collection order for assertions.
func ids(items []model.Notification) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLoadInitialSortsAndCounts(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	backend := &fakeBackend{
		items: []model.Notification{
			notif("old", base.Add(-2*time.Hour), true),
			notif("newest", base, false),
			notif("middle", base.Add(-time.Hour), false),
		},
		unreadCount: 2,
	}
	s := newStore(t, backend, nil)

	s.LoadInitial(context.Background(), "u-1")

	got := ids(s.Notifications())
	want := []string{"newest", "middle", "old"}
	if !equalIDs(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if s.UnreadCount() != 2 {
		t.Errorf("UnreadCount() = %d, want 2", s.UnreadCount())
	}
}

func TestLoadInitialFailureLeavesStateEmpty(t *testing.T) {
	s := newStore(t, &fakeBackend{failList: true}, nil)

	s.LoadInitial(context.Background(), "u-1")

	if len(s.Notifications()) != 0 {
		t.Errorf("Notifications() = %v, want empty", s.Notifications())
	}
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d, want 0", s.UnreadCount())
	}
}

func TestLoadInitialFallsBackToCache(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	cache := testutil.NewTestCache(t)
	seeded := []model.Notification{
		notif("c-1", base, false),
		notif("c-2", base.Add(-time.Minute), true),
	}
	if err := cache.UpsertNotifications(context.Background(), seeded); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	s := newStore(t, &fakeBackend{failList: true}, cache)

	s.LoadInitial(context.Background(), "u-1")

	got := ids(s.Notifications())
	if !equalIDs(got, []string{"c-1", "c-2"}) {
		t.Errorf("order = %v, want cached [c-1 c-2]", got)
	}
	if s.UnreadCount() != 1 {
		t.Errorf("UnreadCount() = %d, want 1 (derived from cache)", s.UnreadCount())
	}
}

func TestHandleEventKeepsOrderInvariant(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	backend := &fakeBackend{
		items:       []model.Notification{notif("3", base.Add(-time.Hour), false)},
		unreadCount: 1,
	}
	s := newStore(t, backend, nil)
	s.LoadInitial(context.Background(), "u-1")

	// A newer notification lands on top.
	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNewNotification,
		Notification: ptr(notif("5", base, false)),
	})
	if got := ids(s.Notifications()); !equalIDs(got, []string{"5", "3"}) {
		t.Errorf("order = %v, want [5 3]", got)
	}

	// An older one is inserted in time order, not at the front.
	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNewNotification,
		Notification: ptr(notif("1", base.Add(-2*time.Hour), false)),
	})
	if got := ids(s.Notifications()); !equalIDs(got, []string{"5", "3", "1"}) {
		t.Errorf("order = %v, want [5 3 1]", got)
	}
	if s.UnreadCount() != 3 {
		t.Errorf("UnreadCount() = %d, want 3", s.UnreadCount())
	}
}

func TestHandleEventMergesSameID(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	s := newStore(t, &fakeBackend{}, nil)

	event := model.NotificationEvent{
		Action:       model.ActionNewNotification,
		Notification: ptr(notif("n-1", base, false)),
	}
	s.HandleEvent(event)
	s.HandleEvent(event)

	if got := len(s.Notifications()); got != 1 {
		t.Errorf("len(Notifications()) = %d, want 1 (same id must merge)", got)
	}
	if s.UnreadCount() != 1 {
		t.Errorf("UnreadCount() = %d, want 1", s.UnreadCount())
	}
}

func TestAlertOnlyForNewNotifications(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	s := newStore(t, &fakeBackend{}, nil)

	var alerts int32
	s.OnAlert(func(model.Notification) {
		atomic.AddInt32(&alerts, 1)
	})

	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNewNotification,
		Notification: ptr(notif("n-1", base, false)),
	})
	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNotificationRead,
		Notification: &model.Notification{ID: "n-1"},
	})
	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNotificationDeleted,
		Notification: &model.Notification{ID: "n-1"},
	})

	if got := atomic.LoadInt32(&alerts); got != 1 {
		t.Errorf("alerts = %d, want 1 (only NEW_NOTIFICATION)", got)
	}
}

func TestHandleEventReadAndDeleted(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	backend := &fakeBackend{
		items: []model.Notification{
			notif("a", base, false),
			notif("b", base.Add(-time.Minute), false),
		},
		unreadCount: 2,
	}
	s := newStore(t, backend, nil)
	s.LoadInitial(context.Background(), "u-1")

	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNotificationRead,
		Notification: &model.Notification{ID: "a"},
	})
	items := s.Notifications()
	if !items[0].Read {
		t.Error("notification a not patched to read")
	}
	if s.UnreadCount() != 1 {
		t.Errorf("UnreadCount() = %d after read event, want 1", s.UnreadCount())
	}

	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNotificationDeleted,
		Notification: &model.Notification{ID: "b"},
	})
	if got := ids(s.Notifications()); !equalIDs(got, []string{"a"}) {
		t.Errorf("order = %v after delete event, want [a]", got)
	}
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d after delete event, want 0", s.UnreadCount())
	}
}

func TestMarkAsReadFloorsAtZero(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	backend := &fakeBackend{
		items:       []model.Notification{notif("n-1", base, false)},
		unreadCount: 1,
	}
	s := newStore(t, backend, nil)
	s.LoadInitial(context.Background(), "u-1")

	s.MarkAsRead(context.Background(), "n-1")
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d after first mark, want 0", s.UnreadCount())
	}

	// Repeats and unknown ids never push the counter below zero.
	s.MarkAsRead(context.Background(), "n-1")
	s.MarkAsRead(context.Background(), "no-such-id")
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d, want 0", s.UnreadCount())
	}

	if !s.Notifications()[0].Read {
		t.Error("notification not flagged read")
	}
}

func TestMarkAsReadKeepsOptimisticStateOnConfirmFailure(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	backend := &fakeBackend{
		items:       []model.Notification{notif("n-1", base, false)},
		unreadCount: 1,
		failConfirm: true,
	}
	s := newStore(t, backend, nil)
	s.LoadInitial(context.Background(), "u-1")

	s.MarkAsRead(context.Background(), "n-1")

	// No rollback: the local copy stays read even though the backend
	// rejected the confirmation.
	if !s.Notifications()[0].Read {
		t.Error("optimistic read flag rolled back, want kept")
	}
	if s.UnreadCount() != 0 {
		t.Errorf("UnreadCount() = %d, want 0", s.UnreadCount())
	}
	if got := atomic.LoadInt32(&backend.confirmed); got != 1 {
		t.Errorf("confirmation calls = %d, want 1", got)
	}
}

func TestClearResetsView(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	backend := &fakeBackend{
		items:       []model.Notification{notif("n-1", base, false)},
		unreadCount: 1,
	}
	s := newStore(t, backend, nil)
	s.LoadInitial(context.Background(), "u-1")

	s.Clear()

	if len(s.Notifications()) != 0 || s.UnreadCount() != 0 {
		t.Errorf("state after Clear() = %v/%d, want empty/0",
			s.Notifications(), s.UnreadCount())
	}
}

func TestOnChangeSnapshotsAndUnsubscribe(t *testing.T) {
	base := time.Now().UTC().Truncate(time.Second)
	s := newStore(t, &fakeBackend{}, nil)

	var changes int32
	unsubscribe := s.OnChange(func(items []model.Notification, unread int) {
		atomic.AddInt32(&changes, 1)
	})

	s.HandleEvent(model.NotificationEvent{
		Action:       model.ActionNewNotification,
		Notification: ptr(notif("n-1", base, false)),
	})
	if got := atomic.LoadInt32(&changes); got != 1 {
		t.Fatalf("changes = %d, want 1", got)
	}

	unsubscribe()
	s.Clear()
	if got := atomic.LoadInt32(&changes); got != 1 {
		t.Errorf("changes = %d after unsubscribe, want still 1", got)
	}
}

func ptr(n model.Notification) *model.Notification {
	return &n
}
