package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/image-gateway/config"
	"github.com/upb/image-gateway/middleware"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/repositories/memory"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/dispatcher"
	"github.com/upb/image-gateway/services/providers"
	"github.com/upb/image-gateway/utils"
)

// MockDispatcher is a mock implementation of ImageDispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, req *providers.GenerationRequest) (*dispatcher.Outcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dispatcher.Outcome), args.Error(1)
}

var testDefaults = config.RequestDefaults{NumImages: 1, Width: 1080, Height: 1920, MaxNumImages: 10}

func newGenerateRequest(body, session string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/images/generations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.WithRequestID(req.Context(), "req-1")
	if session != "" {
		ctx = middleware.WithSession(ctx, session)
	}
	if key, ok := headers["secondary"]; ok {
		ctx = middleware.WithSecondaryKey(ctx, key)
	}
	return req.WithContext(ctx)
}

func TestHandleGenerate(t *testing.T) {
	logger := zap.NewNop()

	t.Run("forward success", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		handler := NewGenerationHandler(mockDispatcher, memory.NewCredentialRepository(), testDefaults, logger)

		outcome := &dispatcher.Outcome{
			GenerationID: "gen-1",
			Stage:        models.GenerationStageForward,
			Kind:         providers.ResultSuccess,
			Images:       []providers.ImageReference{{URL: "https://real/1.png"}, {URL: "https://real/2.png"}},
			Attempted:    2,
			Succeeded:    2,
		}
		mockDispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(req *providers.GenerationRequest) bool {
			return req.Prompt == "cat" && req.Count == 2 && req.Width == 512 && req.Height == 768 &&
				req.SessionCredential == "session-abc"
		})).Return(outcome, nil)

		w := httptest.NewRecorder()
		handler.HandleGenerate(w, newGenerateRequest(`{"prompt":"cat","num_images":2,"width":512,"height":768}`, "session-abc", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response GenerationResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, outcome.Images, response.Data)
		assert.Equal(t, "success", response.Status)
		assert.Equal(t, "forward", response.Stage)
		assert.Equal(t, "gen-1", response.GenerationID)
		assert.False(t, response.MockMode)
		mockDispatcher.AssertExpectations(t)
	})

	t.Run("defaults fill omitted fields", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		handler := NewGenerationHandler(mockDispatcher, nil, testDefaults, logger)

		mockDispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(req *providers.GenerationRequest) bool {
			return req.Count == 1 && req.Width == 1080 && req.Height == 1920
		})).Return(&dispatcher.Outcome{
			Stage:  models.GenerationStagePlaceholder,
			Images: []providers.ImageReference{{URL: "https://picsum.photos/1080/1920?random=0"}},
		}, nil)

		w := httptest.NewRecorder()
		handler.HandleGenerate(w, newGenerateRequest(`{"prompt":"cat"}`, "session-abc", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		mockDispatcher.AssertExpectations(t)
	})

	t.Run("placeholder batch is marked mock", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		handler := NewGenerationHandler(mockDispatcher, nil, testDefaults, logger)

		mockDispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(&dispatcher.Outcome{
			Stage:    models.GenerationStagePlaceholder,
			Images:   []providers.ImageReference{{URL: "a"}, {URL: "b"}},
			MockMode: true,
		}, nil)

		w := httptest.NewRecorder()
		handler.HandleGenerate(w, newGenerateRequest(`{"prompt":"cat","num_images":2}`, "session-abc", nil))

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, true, response["mock_mode"])
		assert.NotEmpty(t, response["note"])
		assert.NotContains(t, response, "real_generation")
	})

	t.Run("secondary batch reports counts", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		handler := NewGenerationHandler(mockDispatcher, nil, testDefaults, logger)

		mockDispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(&dispatcher.Outcome{
			Stage:     models.GenerationStageSecondary,
			Kind:      providers.ResultPartialSuccess,
			Images:    []providers.ImageReference{{URL: "real"}, {URL: "placeholder"}, {URL: "real"}},
			Attempted: 3,
			Succeeded: 2,
			MockMode:  true,
		}, nil)

		w := httptest.NewRecorder()
		handler.HandleGenerate(w, newGenerateRequest(`{"prompt":"cat","num_images":3}`, "session-abc", nil))

		var response GenerationResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.RealGeneration)
		require.NotNil(t, response.Succeeded)
		require.NotNil(t, response.Attempted)
		assert.Equal(t, 2, *response.Succeeded)
		assert.Equal(t, 3, *response.Attempted)
		assert.Len(t, response.Data, 3)
	})

	t.Run("stores the secondary key for the session", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		creds := memory.NewCredentialRepository()
		handler := NewGenerationHandler(mockDispatcher, creds, testDefaults, logger)

		mockDispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(&dispatcher.Outcome{
			Stage:  models.GenerationStagePlaceholder,
			Images: []providers.ImageReference{{URL: "a"}},
		}, nil)

		w := httptest.NewRecorder()
		handler.HandleGenerate(w, newGenerateRequest(`{"prompt":"cat"}`, "session-abc", map[string]string{"secondary": "sk-yunwu"}))

		assert.Equal(t, http.StatusOK, w.Code)
		key, found, err := creds.Get(context.Background(), "session-abc")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "sk-yunwu", key)
	})

	t.Run("exhausted chain is a 500 with diagnostics", func(t *testing.T) {
		mockDispatcher := new(MockDispatcher)
		handler := NewGenerationHandler(mockDispatcher, nil, testDefaults, logger)

		mockDispatcher.On("Dispatch", mock.Anything, mock.Anything).
			Return(nil, services.ErrExhaustedFallback.WithDetail("forward_url", "http://localhost:3030"))

		w := httptest.NewRecorder()
		handler.HandleGenerate(w, newGenerateRequest(`{"prompt":"cat"}`, "session-abc", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "exhausted_fallback", response.Kind)
		assert.NotEmpty(t, response.Suggestion)
		assert.Equal(t, "http://localhost:3030", response.Details["forward_url"])
	})
}

func TestHandleGenerate_RejectsWithoutDispatching(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		body        string
		session     string
		wantMessage string
	}{
		{
			name:        "missing credential",
			body:        `{"prompt":"cat"}`,
			wantMessage: services.ErrMissingCredential.Message,
		},
		{
			name:        "empty prompt",
			body:        `{"prompt":""}`,
			session:     "session-abc",
			wantMessage: services.ErrMissingPrompt.Message,
		},
		{
			name:        "whitespace prompt",
			body:        `{"prompt":"   "}`,
			session:     "session-abc",
			wantMessage: services.ErrMissingPrompt.Message,
		},
		{
			name:        "empty body",
			body:        ``,
			session:     "session-abc",
			wantMessage: services.ErrMissingPrompt.Message,
		},
		{
			name:        "invalid json",
			body:        `{"prompt":`,
			session:     "session-abc",
			wantMessage: services.ErrInvalidBody.Message,
		},
		{
			name:        "zero images",
			body:        `{"prompt":"cat","num_images":0}`,
			session:     "session-abc",
			wantMessage: "Validation failed",
		},
		{
			name:        "too many images",
			body:        `{"prompt":"cat","num_images":11}`,
			session:     "session-abc",
			wantMessage: services.ErrTooManyImages.Message,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockDispatcher := new(MockDispatcher)
			creds := memory.NewCredentialRepository()
			handler := NewGenerationHandler(mockDispatcher, creds, testDefaults, logger)

			w := httptest.NewRecorder()
			handler.HandleGenerate(w, newGenerateRequest(tt.body, tt.session, map[string]string{"secondary": "sk-yunwu"}))

			assert.Equal(t, http.StatusBadRequest, w.Code)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, "invalid_request", response.Kind)
			assert.Equal(t, tt.wantMessage, response.Message)

			mockDispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
			count, err := creds.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, count, "invalid requests must not touch the credential store")
		})
	}
}

func TestHandleGenerate_DispatchSurvivesClientCancel(t *testing.T) {
	mockDispatcher := new(MockDispatcher)
	handler := NewGenerationHandler(mockDispatcher, nil, testDefaults, zap.NewNop())

	mockDispatcher.On("Dispatch", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(&dispatcher.Outcome{
		Stage:  models.GenerationStagePlaceholder,
		Images: []providers.ImageReference{{URL: "a"}},
	}, nil)

	req := newGenerateRequest(`{"prompt":"cat"}`, "session-abc", nil)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()

	w := httptest.NewRecorder()
	handler.HandleGenerate(w, req.WithContext(ctx))

	mockDispatcher.AssertExpectations(t)
}
