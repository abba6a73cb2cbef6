package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// signedToken builds an HS256 JWT with the given expiry. A zero expiry
// omits the exp claim.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()

	claims := jwt.MapClaims{"sub": "u-1"}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return token
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"future expiry", signedToken(t, now.Add(time.Hour)), false},
		{"past expiry", signedToken(t, now.Add(-time.Hour)), true},
		{"expiry within leeway", signedToken(t, now.Add(2*time.Second)), true},
		{"no exp claim", signedToken(t, time.Time{}), false},
		{"garbage", "not-a-jwt", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TokenExpired(tt.token, now); got != tt.want {
				t.Errorf("TokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
