package model

import "time"

// NotificationType categorizes a notification for display purposes.
type NotificationType string

const (
	NotificationInfo    NotificationType = "INFO"
	NotificationSuccess NotificationType = "SUCCESS"
	NotificationWarning NotificationType = "WARNING"
	NotificationError   NotificationType = "ERROR"
)

// EventAction identifies what a realtime notification event describes.
type EventAction string

const (
	ActionNewNotification     EventAction = "NEW_NOTIFICATION"
	ActionNotificationRead    EventAction = "NOTIFICATION_READ"
	ActionNotificationDeleted EventAction = "NOTIFICATION_DELETED"
)

// Notification represents a single alert delivered to the user, either
// through the initial REST fetch or as a realtime push. Identity is the
// ID field: the same id arriving over both paths refers to the same
// notification and must merge rather than duplicate.
type Notification struct {
	// ID is the backend-assigned unique identifier.
	ID string `json:"id"`

	// Title is the short headline shown in the notification list.
	Title string `json:"title"`

	// Message is the full notification text.
	Message string `json:"message"`

	// Type categorizes the notification (info, success, warning, error).
	Type NotificationType `json:"type"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"isRead"`

	// CreatedAt is when the backend generated this notification.
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationEvent is a single push received over the realtime channel.
// Depending on Action it either carries a brand new notification or a
// status change for one the client already holds.
type NotificationEvent struct {
	Action EventAction `json:"action"`

	// Notification is the affected notification. For status updates the
	// backend may populate only the id.
	Notification *Notification `json:"notification,omitempty"`

	// UnreadCount, when present, is the authoritative unread total after
	// this event was applied server-side.
	UnreadCount *int `json:"unreadCount,omitempty"`
}

// ConnectionState describes the realtime channel's transport status.
type ConnectionState struct {
	// Connected is true while the websocket handshake is established.
	Connected bool `json:"connected"`

	// ReconnectAttempts counts retries since the last successful
	// connection. Resets to zero on success.
	ReconnectAttempts int `json:"reconnectAttempts"`
}
