// Package relay implements the signaling relay: a websocket hub that
// authenticates clients, pairs them into sessions, and forwards
// offer/answer/candidate messages between two specific peers by identifier.
package relay

import (
	"github.com/golang-jwt/jwt/v5"

	pkgerrors "codeduel/pkg/errors"
)

// TokenVerifier validates the opaque auth token presented as the first
// message on a relay connection and extracts the user id.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}

// HS256Verifier checks HS256 JWTs whose subject claim carries the user id,
// matching what the auth service issues.
type HS256Verifier struct {
	secret []byte
}

// NewHS256Verifier creates a verifier from the shared signing secret.
func NewHS256Verifier(secret string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret)}
}

// Verify parses and validates the token and returns its subject.
func (v *HS256Verifier) Verify(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, pkgerrors.Newf(pkgerrors.SignalingAuthRejected, "unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", pkgerrors.Wrap(err, pkgerrors.SignalingAuthRejected)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", pkgerrors.New(pkgerrors.SignalingAuthRejected).WithMessage("token has no subject")
	}
	return sub, nil
}
