package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	userID, err := v.Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("expected user-42, got %q", userID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, "some-other-secret", jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected error for wrongly signed token")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.RegisteredClaims{
		Subject:   "user-42",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})

	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyRejectsMissingSubject(t *testing.T) {
	v := NewVerifier(testSecret)

	token := signToken(t, testSecret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	if _, err := v.Verify(token); err == nil {
		t.Fatal("expected error for token without subject")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	v := NewVerifier(testSecret)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := v.Verify(token); err == nil {
			t.Fatalf("expected error for token %q", token)
		}
	}
}
