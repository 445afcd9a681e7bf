package middleware

import (
	"context"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// SessionKey is the context key for the caller's session credential
	SessionKey contextKey = "session"

	// SecondaryKeyKey is the context key for a secondary provider key sent with the request
	SecondaryKeyKey contextKey = "secondary_key"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetSessionFromContext retrieves the session credential from context
func GetSessionFromContext(ctx context.Context) string {
	if val := ctx.Value(SessionKey); val != nil {
		if session, ok := val.(string); ok {
			return session
		}
	}
	return ""
}

// WithSession adds the session credential to the context
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// GetSecondaryKeyFromContext retrieves the secondary provider key from context
func GetSecondaryKeyFromContext(ctx context.Context) string {
	if val := ctx.Value(SecondaryKeyKey); val != nil {
		if key, ok := val.(string); ok {
			return key
		}
	}
	return ""
}

// WithSecondaryKey adds a secondary provider key to the context
func WithSecondaryKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, SecondaryKeyKey, key)
}
