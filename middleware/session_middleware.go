package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// DefaultSecondaryKeyHeader carries an optional secondary provider key
const DefaultSecondaryKeyHeader = "X-Yunwu-API-Key"

// SessionMiddleware lifts the caller's credentials out of the request headers.
// It never rejects a request: the session credential is opaque and only the
// upstream can judge it, and a missing one is reported by the handler.
type SessionMiddleware struct {
	keyHeader string
	logger    *zap.Logger
}

// NewSessionMiddleware creates a new SessionMiddleware
func NewSessionMiddleware(keyHeader string, logger *zap.Logger) *SessionMiddleware {
	if keyHeader == "" {
		keyHeader = DefaultSecondaryKeyHeader
	}
	return &SessionMiddleware{
		keyHeader: keyHeader,
		logger:    logger,
	}
}

// KeyHeader returns the header name read for the secondary provider key
func (m *SessionMiddleware) KeyHeader() string {
	return m.keyHeader
}

// ExtractSession stores the bearer session credential and any secondary key in the context
func (m *SessionMiddleware) ExtractSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		session := extractBearerToken(r)
		if session != "" {
			ctx = WithSession(ctx, session)
		}

		if key := strings.TrimSpace(r.Header.Get(m.keyHeader)); key != "" {
			ctx = WithSecondaryKey(ctx, key)
		}

		m.logger.Debug("session extracted",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.Bool("has_session", session != ""),
			zap.Bool("has_secondary_key", GetSecondaryKeyFromContext(ctx) != ""))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Check if it starts with "Bearer "
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
