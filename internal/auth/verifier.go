// Package auth verifies bearer credentials and maps them to trusted user
// identities. Token issuance lives in the account service; the sync engine
// only ever validates.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates HMAC-signed bearer tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the shared signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Claims are the registered claims the sync engine cares about: the subject
// is the user ID.
type Claims struct {
	jwt.RegisteredClaims
}

// Verify parses and validates a bearer token and returns the user ID it was
// issued for. Expired, malformed, or wrongly signed tokens are rejected.
func (v *Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("auth: token missing subject")
	}
	return claims.Subject, nil
}
