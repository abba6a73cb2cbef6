// Package contracts/realtime defines the websocket contract for the
// realtime notification channel.
//
// Endpoint: {wsUrl} (ws/wss derived from the server base URL)
// Auth: Authorization: Bearer <accessToken> on the upgrade request.
package contracts

// Frame is the wire format for every message in both directions.
//
//   { "type": "connect" | "subscribe" | "message",
//     "id": "<uuid>",
//     "destination": "<topic>",
//     "payload": <json> }
//
// Handshake:
//   1. Client sends { type: "connect" } immediately after the upgrade.
//   2. Client subscribes to the three per-user topics:
//        /user/{userId}/queue/notifications        full notification events
//        /user/{userId}/queue/notification-count   unread counter pushes
//        /user/{userId}/queue/notification-status  read/delete status events
//   3. Server pushes { type: "message" } frames on those destinations.
//
// Payloads:
//   notifications / notification-status:
//     { action: NEW_NOTIFICATION | NOTIFICATION_READ | NOTIFICATION_DELETED,
//       notification: { id, title, message, type, isRead, createdAt },
//       unreadCount? }
//   notification-count:
//     { unreadCount }
//
// Reconnection:
//   On an unexpected drop the client retries with delay = baseDelay x
//   attempt, up to maxAttempts, then gives up silently. An explicit
//   disconnect never triggers reconnection. An expired access token is
//   refreshed before dialing, not after a failed upgrade.
