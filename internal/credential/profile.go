package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nhle/progresstrack/internal/model"
)

// Storage keys for the persisted session.
const (
	keyAccessToken = "access_token"
	keyUserProfile = "user_profile"
)

// LoadToken returns the persisted access token, or ErrNotFound when the
// user has never logged in (or the session was cleared).
func LoadToken(s Storage) (string, error) {
	return s.Get(keyAccessToken)
}

// SaveToken persists the access token.
func SaveToken(s Storage, token string) error {
	return s.Set(keyAccessToken, token)
}

// DeleteToken removes the persisted access token.
func DeleteToken(s Storage) error {
	return s.Delete(keyAccessToken)
}

// LoadProfile returns the cached user profile. A corrupt cache entry is
// purged and reported as absent rather than surfacing a parse error.
func LoadProfile(s Storage) (*model.User, error) {
	raw, err := s.Get(keyUserProfile)
	if err != nil {
		return nil, err
	}

	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == "" {
		_ = s.Delete(keyUserProfile)
		return nil, fmt.Errorf("%w: %s", ErrNotFound, keyUserProfile)
	}

	return &user, nil
}

// SaveProfile caches the user profile as JSON.
func SaveProfile(s Storage, user *model.User) error {
	if user == nil {
		return errors.New("saving nil profile")
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return s.Set(keyUserProfile, string(data))
}

// DeleteProfile removes the cached user profile.
func DeleteProfile(s Storage) error {
	return s.Delete(keyUserProfile)
}
