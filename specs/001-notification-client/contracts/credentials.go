// Package contracts/credentials defines the persistent credential
// storage contract.
//
// Backed by the OS keychain where available, with an encrypted file
// fallback under ~/.config/progresstrack/credentials.
package contracts

// Storage is the minimal key-value surface the session layer needs.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Keys:
//
//   access_token   raw JWT access token
//   user_profile   JSON-encoded user profile { id, email, fullName, role }
//
// Semantics:
//   - Get on a missing key returns a sentinel not-found error, never a
//     fabricated zero value.
//   - Delete on a missing key is a no-op.
//   - A cached profile that fails to decode, or decodes without an id,
//     is purged on read and reported as not found.
