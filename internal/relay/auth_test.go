package relay_test

import (
	"testing"
	"time"

	"codeduel/internal/relay"
	pkgerrors "codeduel/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyValidToken(t *testing.T) {
	v := relay.NewHS256Verifier("secret")
	userID, err := v.Verify(signToken(t, "secret", "alice"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if userID != "alice" {
		t.Fatalf("expected subject alice, got %s", userID)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	v := relay.NewHS256Verifier("secret")
	if _, err := v.Verify(signToken(t, "other", "alice")); pkgerrors.GetCode(err) != pkgerrors.SignalingAuthRejected {
		t.Fatalf("expected SignalingAuthRejected, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	v := relay.NewHS256Verifier("secret")
	if _, err := v.Verify(token); pkgerrors.GetCode(err) != pkgerrors.SignalingAuthRejected {
		t.Fatalf("expected SignalingAuthRejected, got %v", err)
	}
}

func TestVerifyMissingSubject(t *testing.T) {
	v := relay.NewHS256Verifier("secret")
	if _, err := v.Verify(signToken(t, "secret", "")); pkgerrors.GetCode(err) != pkgerrors.SignalingAuthRejected {
		t.Fatalf("expected SignalingAuthRejected, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	v := relay.NewHS256Verifier("secret")
	if _, err := v.Verify("not-a-jwt"); pkgerrors.GetCode(err) != pkgerrors.SignalingAuthRejected {
		t.Fatalf("expected SignalingAuthRejected, got %v", err)
	}
}
