package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetRequestIDFromContext(ctx))
	assert.Empty(t, GetSessionFromContext(ctx))
	assert.Empty(t, GetSecondaryKeyFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSession(ctx, "session-abc")
	ctx = WithSecondaryKey(ctx, "sk-yunwu")

	assert.Equal(t, "req-1", GetRequestIDFromContext(ctx))
	assert.Equal(t, "session-abc", GetSessionFromContext(ctx))
	assert.Equal(t, "sk-yunwu", GetSecondaryKeyFromContext(ctx))
}

func TestExtractSession(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name          string
		headers       map[string]string
		wantSession   string
		wantSecondary string
	}{
		{
			name:        "bearer token",
			headers:     map[string]string{"Authorization": "Bearer session-abc"},
			wantSession: "session-abc",
		},
		{
			name:        "lowercase scheme",
			headers:     map[string]string{"Authorization": "bearer  session-abc "},
			wantSession: "session-abc",
		},
		{
			name:    "basic auth is ignored",
			headers: map[string]string{"Authorization": "Basic dXNlcjpwYXNz"},
		},
		{
			name:    "no scheme",
			headers: map[string]string{"Authorization": "session-abc"},
		},
		{
			name: "secondary key header",
			headers: map[string]string{
				"Authorization":   "Bearer session-abc",
				"X-Yunwu-API-Key": "sk-yunwu",
			},
			wantSession:   "session-abc",
			wantSecondary: "sk-yunwu",
		},
		{
			name:    "missing headers pass through",
			headers: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewSessionMiddleware("", logger)
			called := false

			handler := m.ExtractSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				assert.Equal(t, tt.wantSession, GetSessionFromContext(r.Context()))
				assert.Equal(t, tt.wantSecondary, GetSecondaryKeyFromContext(r.Context()))
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.True(t, called)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestExtractSession_CustomKeyHeader(t *testing.T) {
	m := NewSessionMiddleware("X-Secondary-Key", zap.NewNop())
	assert.Equal(t, "X-Secondary-Key", m.KeyHeader())

	handler := m.ExtractSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-custom", GetSecondaryKeyFromContext(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Secondary-Key", "sk-custom")
	req.Header.Set("X-Yunwu-API-Key", "sk-ignored")
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestRequestID(t *testing.T) {
	t.Run("generates an id", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestIDFromContext(r.Context())
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
	})

	t.Run("reuses the caller's id", func(t *testing.T) {
		var seen string
		handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "caller-id")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "caller-id", seen)
		assert.Equal(t, "caller-id", w.Header().Get(RequestIDHeader))
	})
}

// MockMetrics is a mock implementation of observability.Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordStage(stage, outcome string, duration time.Duration) {
	m.Called(stage, outcome, duration)
}

func (m *MockMetrics) RecordUpstreamFailure(stage, kind string) {
	m.Called(stage, kind)
}

func (m *MockMetrics) RecordGeneration(stage string, images, realImages int) {
	m.Called(stage, images, realImages)
}

func (m *MockMetrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.Called(method, route, status, duration)
}

func TestRequestLogger_RecordsRoutePattern(t *testing.T) {
	metrics := new(MockMetrics)
	metrics.On("RecordRequest", http.MethodGet, "/items/{id}", http.StatusTeapot, mock.Anything).Once()

	r := chi.NewRouter()
	r.Use(RequestLogger(zap.NewNop(), metrics))
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	metrics.AssertExpectations(t)
}

func TestRequestLogger_DefaultsStatusToOK(t *testing.T) {
	metrics := new(MockMetrics)
	metrics.On("RecordRequest", http.MethodGet, "/plain", http.StatusOK, mock.Anything).Once()

	handler := RequestLogger(zap.NewNop(), metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/plain", nil))

	metrics.AssertExpectations(t)
}
