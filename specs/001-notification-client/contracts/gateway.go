// Package contracts defines the backend HTTP contract for the
// progress-tracking client: authentication, session refresh, and the
// notification REST endpoints.
//
// Base URL: {baseUrl}/api/v1/
// Auth: Authorization: Bearer <accessToken>
package contracts

import "context"

// Gateway is the authenticated HTTP surface every API call goes
// through. Implementations attach the Bearer token, intercept 401
// responses, refresh the session once, and replay the original request.
type Gateway interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string) error
}

// Key endpoints:
//
// Login:
//   POST /api/v1/auth/login
//   Body: { identifier, password }
//   Returns: { accessToken, user: { id, email, fullName, role } }
//   Sets an HttpOnly refresh cookie on success.
//
// Refresh:
//   GET /api/v1/auth/refresh
//   Sends the refresh cookie, returns: { accessToken }
//   Never routed through the 401 interceptor (it IS the recovery path).
//
// Logout:
//   GET /api/v1/auth/logout
//   Invalidates the refresh cookie. Best effort on the client.
//
// Account:
//   GET /api/v1/auth/account
//   Returns the authenticated user's profile.
//
// Notification list:
//   GET /api/v1/notifications/user/{userId}
//   Returns the user's notifications, newest first.
//
// Unread count:
//   GET /api/v1/notifications/user/{userId}/unread-count
//   Returns: { unreadCount }
//
// Mark as read:
//   PATCH /api/v1/notifications/{id}/read
//   204 on success. The client applies the read flag optimistically and
//   never rolls back on failure.
//
// Error envelope:
//   { message, code }
//   Known codes: BAD_CREDENTIALS, VERIFYING_EMAIL, ACCOUNT_INACTIVE.
//
// Refresh coordination:
//   At most one refresh request may be in flight per client process.
//   Concurrent 401s queue behind it and share its outcome. A failed
//   refresh fails the whole batch and forces a logout.
