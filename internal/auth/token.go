package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway refreshes slightly early so a connection never opens
// with a token about to lapse mid-handshake.
const expiryLeeway = 10 * time.Second

// TokenExpired reports whether the access token's exp claim has passed.
// The claim is read without signature verification; the client holds no
// verification key and the server remains the authority. A token that
// cannot be parsed is treated as expired so the caller refreshes instead
// of presenting garbage to the server. A token without an exp claim
// never expires locally.
func TokenExpired(token string, now time.Time) bool {
	if token == "" {
		return true
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return true
	}
	if exp == nil {
		return false
	}

	return !now.Add(expiryLeeway).Before(exp.Time)
}
