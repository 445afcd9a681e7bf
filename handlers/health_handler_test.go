package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/image-gateway/config"
	"github.com/upb/image-gateway/repositories/memory"
	"github.com/upb/image-gateway/repositories/postgres"
	"github.com/upb/image-gateway/services/providers"
)

type stubStages []providers.StrategyConfig

func (s stubStages) Stages() []providers.StrategyConfig { return s }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 5100},
		Forward: config.ForwardConfig{
			BaseURL:        "http://localhost:3030",
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    600 * time.Second,
		},
		Secondary: config.SecondaryConfig{
			Enabled:   true,
			BaseURL:   "https://yunwu.ai",
			KeyHeader: "X-Yunwu-API-Key",
		},
		Placeholder: config.PlaceholderConfig{Enabled: true, BaseURL: "https://picsum.photos"},
	}
}

func TestHandleHealth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("reports effective configuration", func(t *testing.T) {
		cfg := testConfig()
		cfg.Forward.Enabled = true
		stages := stubStages(cfg.Strategies()[:2])
		handler := NewHealthHandler(cfg, stages, memory.NewCredentialRepository(), nil, logger)

		w := httptest.NewRecorder()
		handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "ok", response.Status)
		assert.Equal(t, ServiceName, response.Service)
		assert.Equal(t, 5100, response.Port)
		assert.True(t, response.ForwardMode)
		require.NotNil(t, response.RealAPIURL)
		assert.Equal(t, "http://localhost:3030", *response.RealAPIURL)
		assert.False(t, response.ForwardSelfSuppressed)
		assert.False(t, response.HasYunwuKey)
		assert.False(t, response.RealGeneration)
		assert.True(t, response.PlaceholderEnabled)

		require.Len(t, response.Stages, 3)
		assert.Equal(t, "forward", response.Stages[0].Name)
		assert.Equal(t, "10s", response.Stages[0].ConnectTimeout)
		assert.Equal(t, "10m0s", response.Stages[0].ReadTimeout)
		assert.Equal(t, "placeholder", response.Stages[2].Name)
	})

	t.Run("stored key enables real generation", func(t *testing.T) {
		creds := memory.NewCredentialRepository()
		require.NoError(t, creds.Put(context.Background(), "session", "sk-yunwu"))
		handler := NewHealthHandler(testConfig(), nil, creds, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.HasYunwuKey)
		assert.True(t, response.RealGeneration)
		assert.Nil(t, response.RealAPIURL)
	})

	t.Run("static key enables real generation", func(t *testing.T) {
		cfg := testConfig()
		cfg.Secondary.APIKey = "sk-static"
		handler := NewHealthHandler(cfg, nil, nil, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.HasYunwuKey)
	})

	t.Run("self forward target is flagged", func(t *testing.T) {
		cfg := testConfig()
		cfg.Forward.Enabled = true
		cfg.Forward.BaseURL = "http://localhost:5100"
		handler := NewHealthHandler(cfg, nil, nil, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		var response HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.True(t, response.ForwardSelfSuppressed)
	})
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	t.Run("healthy when database is available", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		// Expect SELECT 1 query
		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

		pg := postgres.NewDBFromConn(db, logger)
		handler := NewHealthHandler(testConfig(), nil, nil, map[string]HealthCheck{"database": pg.HealthCheck}, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)

		var response ReadinessResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "healthy", response.Checks["database"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unhealthy when a dependency fails", func(t *testing.T) {
		checks := map[string]HealthCheck{
			"database": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
			"skipped":  nil,
		}
		handler := NewHealthHandler(testConfig(), nil, nil, checks, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		var response ReadinessResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "healthy", response.Checks["database"])
		assert.Equal(t, "unhealthy", response.Checks["redis"])
		assert.NotContains(t, response.Checks, "skipped")
	})

	t.Run("healthy with no dependencies", func(t *testing.T) {
		handler := NewHealthHandler(testConfig(), nil, nil, nil, logger)

		w := httptest.NewRecorder()
		handler.HandleReadiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHandleIndex(t *testing.T) {
	handler := NewHealthHandler(testConfig(), nil, nil, nil, zap.NewNop())

	w := httptest.NewRecorder()
	handler.HandleIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, ServiceName, response["service"])
	assert.Equal(t, Version, response["version"])
	assert.Contains(t, response["endpoints"], "POST /v1/images/generations")
}
