package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame types exchanged over the notification socket.
const (
	frameConnect   = "connect"
	frameSubscribe = "subscribe"
	frameMessage   = "message"
)

// Frame is the JSON envelope exchanged over the notification socket.
// The client sends connect and subscribe frames; the server pushes
// message frames addressed to a subscribed destination.
type Frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Per-user topic suffixes.
const (
	topicNotifications = "queue/notifications"
	topicUnreadCount   = "queue/notification-count"
	topicStatusUpdates = "queue/notification-status"
)

// userTopic builds the destination for one of the per-user topics.
func userTopic(userID, suffix string) string {
	return fmt.Sprintf("/user/%s/%s", userID, suffix)
}

// topicSuffix extracts the topic suffix from a destination, so dispatch
// does not depend on the user id segment.
func topicSuffix(destination string) string {
	if idx := strings.Index(destination, "/queue/"); idx >= 0 {
		return destination[idx+1:]
	}
	return destination
}
