package contextkey

import "context"

// key is a private type to avoid context key collisions across packages.
type key string

const (
	SessionID key = "session_id"
	UserID    key = "user_id"
	Role      key = "role"
)

// WithSession returns a context carrying the match session id and local user id.
func WithSession(ctx context.Context, sessionID, userID string) context.Context {
	ctx = context.WithValue(ctx, SessionID, sessionID)
	return context.WithValue(ctx, UserID, userID)
}

// WithUser returns a context carrying only the local user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserID, userID)
}

// WithRole returns a context carrying the local match role.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, Role, role)
}
