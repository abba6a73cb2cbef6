package notifications

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/nhle/progresstrack/internal/api"
	"github.com/nhle/progresstrack/internal/model"
	"github.com/nhle/progresstrack/internal/store"
)

// subscriber is one registered callback with its registration id.
type subscriber[T any] struct {
	id int
	fn func(T)
}

// changeSnapshot is what change subscribers receive after a mutation.
type changeSnapshot struct {
	Items  []model.Notification
	Unread int
}

// Store merges notifications from the bulk REST fetch and incremental
// realtime pushes into one consistent view: a collection sorted
// descending by creation time plus an unread counter that never goes
// below zero. An optional local cache keeps the collection readable
// across restarts.
type Store struct {
	client *api.Client
	cache  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	userID string
	items  []model.Notification
	unread int

	cbMu      sync.Mutex
	nextID    int
	changeSub []subscriber[changeSnapshot]
	alertSub  []subscriber[model.Notification]
}

// New creates a notification store. cache may be nil to disable local
// persistence.
func New(client *api.Client, cache store.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		cache:  cache,
		logger: logger,
	}
}

// OnChange registers a callback invoked after every state mutation with
// a snapshot of the collection and the unread count. It returns an
// unsubscribe handle.
func (s *Store) OnChange(fn func([]model.Notification, int)) func() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.nextID++
	id := s.nextID
	s.changeSub = append(s.changeSub, subscriber[changeSnapshot]{id: id, fn: func(snap changeSnapshot) {
		fn(snap.Items, snap.Unread)
	}})
	return func() {
		s.cbMu.Lock()
		defer s.cbMu.Unlock()
		s.changeSub = removeSubscriber(s.changeSub, id)
	}
}

// OnAlert registers a callback invoked only when a brand new
// notification arrives over the realtime channel, for transient
// user-facing alerts. Status updates never trigger it.
func (s *Store) OnAlert(fn func(model.Notification)) func() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.nextID++
	id := s.nextID
	s.alertSub = append(s.alertSub, subscriber[model.Notification]{id: id, fn: fn})
	return func() {
		s.cbMu.Lock()
		defer s.cbMu.Unlock()
		s.alertSub = removeSubscriber(s.alertSub, id)
	}
}

// Notifications returns a copy of the current collection, sorted
// descending by creation time.
func (s *Store) Notifications() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns the current unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// LoadInitial replaces local state with the backend's notification list
// and unread count for the user. A fetch failure is logged and falls
// back to the local cache when one is configured; without a cache the
// state is left empty. It never panics the caller.
func (s *Store) LoadInitial(ctx context.Context, userID string) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	var items []model.Notification
	if err := s.client.Get(ctx, "/api/v1/notifications/user/"+userID, &items); err != nil {
		s.logger.Error("loading notifications", "user", userID, "error", err)
		s.loadFromCache(ctx)
		return
	}

	var count struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := s.client.Get(ctx, "/api/v1/notifications/user/"+userID+"/unread-count", &count); err != nil {
		s.logger.Error("loading unread count", "user", userID, "error", err)
		count.UnreadCount = countUnread(items)
	}

	sortByCreatedDesc(items)

	s.mu.Lock()
	s.items = items
	s.unread = max(0, count.UnreadCount)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.UpsertNotifications(ctx, items); err != nil {
			s.logger.Warn("caching notifications", "error", err)
		}
	}
	s.changed()
}

// loadFromCache restores the last known collection from the local cache,
// so the client still shows something while offline.
func (s *Store) loadFromCache(ctx context.Context) {
	if s.cache == nil {
		return
	}

	items, err := s.cache.GetNotifications(ctx, 0)
	if err != nil {
		s.logger.Warn("reading notification cache", "error", err)
		return
	}
	sortByCreatedDesc(items)

	s.mu.Lock()
	s.items = items
	s.unread = countUnread(items)
	s.mu.Unlock()
	s.changed()
}

// HandleEvent applies one realtime push to local state. New
// notifications are merged by id and trigger the transient alert
// callbacks; read and deleted status updates patch or drop the matching
// entry. The collection is re-sorted after every change.
func (s *Store) HandleEvent(event model.NotificationEvent) {
	switch event.Action {
	case model.ActionNewNotification:
		if event.Notification == nil {
			return
		}
		n := *event.Notification

		s.mu.Lock()
		replaced := false
		for i := range s.items {
			if s.items[i].ID == n.ID {
				s.items[i] = n
				replaced = true
				break
			}
		}
		if !replaced {
			s.items = append(s.items, n)
		}
		sortByCreatedDesc(s.items)
		if event.UnreadCount != nil {
			s.unread = max(0, *event.UnreadCount)
		} else if !replaced && !n.Read {
			s.unread++
		}
		s.mu.Unlock()

		s.cacheUpsert(n)
		s.alert(n)
		s.changed()

	case model.ActionNotificationRead:
		if event.Notification == nil {
			return
		}
		id := event.Notification.ID

		s.mu.Lock()
		for i := range s.items {
			if s.items[i].ID != id {
				continue
			}
			if !s.items[i].Read && event.UnreadCount == nil && s.unread > 0 {
				s.unread--
			}
			s.items[i].Read = true
			break
		}
		if event.UnreadCount != nil {
			s.unread = max(0, *event.UnreadCount)
		}
		sortByCreatedDesc(s.items)
		s.mu.Unlock()

		s.cacheMarkRead(id)
		s.changed()

	case model.ActionNotificationDeleted:
		if event.Notification == nil {
			return
		}
		id := event.Notification.ID

		s.mu.Lock()
		for i := range s.items {
			if s.items[i].ID != id {
				continue
			}
			if !s.items[i].Read && event.UnreadCount == nil && s.unread > 0 {
				s.unread--
			}
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
		if event.UnreadCount != nil {
			s.unread = max(0, *event.UnreadCount)
		}
		sortByCreatedDesc(s.items)
		s.mu.Unlock()

		s.cacheDelete(id)
		s.changed()

	default:
		s.logger.Warn("ignoring unknown notification event", "action", event.Action)
	}
}

// SetUnreadCount overwrites the unread counter with an authoritative
// value pushed by the backend, floored at zero.
func (s *Store) SetUnreadCount(count int) {
	s.mu.Lock()
	s.unread = max(0, count)
	s.mu.Unlock()
	s.changed()
}

// MarkAsRead optimistically flags the notification read, decrements the
// unread counter (floored at zero), then asks the backend to confirm.
// A failed confirmation is logged, not rolled back: the backend copy
// converges on the next full fetch.
func (s *Store) MarkAsRead(ctx context.Context, id string) {
	s.mu.Lock()
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		if !s.items[i].Read && s.unread > 0 {
			s.unread--
		}
		s.items[i].Read = true
		break
	}
	sortByCreatedDesc(s.items)
	s.mu.Unlock()

	s.cacheMarkRead(id)
	s.changed()

	if err := s.client.Patch(ctx, "/api/v1/notifications/"+id+"/read", nil, nil); err != nil {
		s.logger.Error("confirming mark-as-read", "id", id, "error", err)
	}
}

// Clear empties the local view. It is purely a view-level reset: neither
// the backend nor the local cache is touched.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = nil
	s.unread = 0
	s.mu.Unlock()
	s.changed()
}

func (s *Store) cacheUpsert(n model.Notification) {
	if s.cache == nil {
		return
	}
	if err := s.cache.UpsertNotifications(context.Background(), []model.Notification{n}); err != nil {
		s.logger.Warn("caching notification", "id", n.ID, "error", err)
	}
}

func (s *Store) cacheMarkRead(id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkNotificationRead(context.Background(), id); err != nil {
		s.logger.Warn("caching read status", "id", id, "error", err)
	}
}

func (s *Store) cacheDelete(id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteNotification(context.Background(), id); err != nil {
		s.logger.Warn("removing cached notification", "id", id, "error", err)
	}
}

// changed fans the current snapshot out to change subscribers.
func (s *Store) changed() {
	s.mu.Lock()
	snap := changeSnapshot{
		Items:  make([]model.Notification, len(s.items)),
		Unread: s.unread,
	}
	copy(snap.Items, s.items)
	s.mu.Unlock()

	s.cbMu.Lock()
	subs := append([]subscriber[changeSnapshot]{}, s.changeSub...)
	s.cbMu.Unlock()
	for _, sub := range subs {
		s.safeCall(func() { sub.fn(snap) })
	}
}

// alert fans a new notification out to alert subscribers.
func (s *Store) alert(n model.Notification) {
	s.cbMu.Lock()
	subs := append([]subscriber[model.Notification]{}, s.alertSub...)
	s.cbMu.Unlock()
	for _, sub := range subs {
		s.safeCall(func() { sub.fn(n) })
	}
}

// safeCall isolates a subscriber panic so one misbehaving callback
// cannot starve the rest.
func (s *Store) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("notification callback panicked", "panic", r)
		}
	}()
	fn()
}

// sortByCreatedDesc re-sorts the collection newest first. It is applied
// after every mutation rather than assumed from insertion position.
func sortByCreatedDesc(items []model.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// countUnread derives the unread total from the collection itself.
func countUnread(items []model.Notification) int {
	total := 0
	for _, n := range items {
		if !n.Read {
			total++
		}
	}
	return total
}

// removeSubscriber drops the subscriber with the given id, preserving
// registration order.
func removeSubscriber[T any](subs []subscriber[T], id int) []subscriber[T] {
	out := subs[:0]
	for _, sub := range subs {
		if sub.id != id {
			out = append(out, sub)
		}
	}
	return out
}
