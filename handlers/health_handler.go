package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/upb/image-gateway/config"
	"github.com/upb/image-gateway/repositories"
	"github.com/upb/image-gateway/services/providers"
	"github.com/upb/image-gateway/utils"
)

// ServiceName identifies the gateway in health and index responses
const ServiceName = "image-gateway"

// Version is reported by GET /
var Version = "2.0.0"

// StageLister reports the configured upstream stages
type StageLister interface {
	Stages() []providers.StrategyConfig
}

// HealthCheck pings one dependency
type HealthCheck func(ctx context.Context) error

// StageStatus describes one stage of the fallback chain
type StageStatus struct {
	Name           string `json:"name"`
	Enabled        bool   `json:"enabled"`
	Endpoint       string `json:"endpoint,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
	ReadTimeout    string `json:"read_timeout,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status                string        `json:"status"`
	Service               string        `json:"service"`
	Port                  int           `json:"port"`
	Timestamp             string        `json:"timestamp"`
	ForwardMode           bool          `json:"forward_mode"`
	RealAPIURL            *string       `json:"real_api_url"`
	ForwardSelfSuppressed bool          `json:"forward_self_suppressed"`
	RealGeneration        bool          `json:"real_generation"`
	HasYunwuKey           bool          `json:"has_yunwu_key"`
	PlaceholderEnabled    bool          `json:"placeholder_enabled"`
	Stages                []StageStatus `json:"stages"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	cfg         *config.Config
	stages      StageLister
	credentials repositories.CredentialRepository
	checks      map[string]HealthCheck
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler. checks are run by the
// readiness endpoint; nil entries are skipped.
func NewHealthHandler(cfg *config.Config, stages StageLister, credentials repositories.CredentialRepository, checks map[string]HealthCheck, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:         cfg,
		stages:      stages,
		credentials: credentials,
		checks:      checks,
		logger:      logger,
	}
}

// HandleHealth handles GET /health.
// It reports the effective configuration and always returns 200 while the process serves.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	hasKey := h.hasSecondaryKey(r.Context())

	response := HealthResponse{
		Status:                "ok",
		Service:               ServiceName,
		Port:                  h.cfg.Server.Port,
		Timestamp:             time.Now().UTC().Format(time.RFC3339),
		ForwardMode:           h.cfg.Forward.Enabled,
		ForwardSelfSuppressed: h.cfg.Forward.Enabled && h.cfg.ForwardTargetIsSelf(),
		RealGeneration:        h.cfg.Secondary.Enabled && hasKey,
		HasYunwuKey:           hasKey,
		PlaceholderEnabled:    h.cfg.Placeholder.Enabled,
		Stages:                h.stageStatuses(),
	}
	if h.cfg.Forward.Enabled {
		url := h.cfg.Forward.BaseURL
		response.RealAPIURL = &url
	}

	if err := utils.WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}

// HandleReadiness handles GET /health/ready
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	for _, name := range sortedCheckNames(h.checks) {
		check := h.checks[name]
		if check == nil {
			continue
		}
		if err := check(ctx); err != nil {
			h.logger.Warn("dependency health check failed",
				zap.String("dependency", name),
				zap.Error(err))
			checks[name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	// Determine overall status
	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}

	if err := utils.WriteJSON(w, httpStatus, response); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleIndex handles GET /
func (h *HealthHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": ServiceName,
		"version": Version,
		"endpoints": map[string]string{
			"POST /v1/images/generations": "generate images",
			"GET /health":                 "effective configuration",
			"GET /health/ready":           "dependency readiness",
			"GET /metrics":                "prometheus metrics",
		},
		"modes": map[string]string{
			"forward":         "forward the whole batch to the real API (FORWARD_TO_REAL_API=true, REAL_API_BASE_URL)",
			"real_generation": "one image per call from the secondary provider (USE_REAL_GENERATION=true, YUNWU_API_KEY or the " + h.cfg.Secondary.KeyHeader + " header)",
			"placeholder":     "placeholder images when nothing else succeeds (PLACEHOLDER_ENABLED=true)",
		},
	}

	if err := utils.WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("failed to write index response", zap.Error(err))
	}
}

func (h *HealthHandler) hasSecondaryKey(ctx context.Context) bool {
	if h.cfg.Secondary.APIKey != "" {
		return true
	}
	if h.credentials == nil {
		return false
	}
	count, err := h.credentials.Count(ctx)
	if err != nil {
		h.logger.Warn("failed to count stored credentials", zap.Error(err))
		return false
	}
	return count > 0
}

func (h *HealthHandler) stageStatuses() []StageStatus {
	var configs []providers.StrategyConfig
	if h.stages != nil {
		configs = h.stages.Stages()
	}
	if placeholder, ok := h.cfg.Strategy(config.StagePlaceholder); ok {
		configs = append(configs, placeholder)
	}

	statuses := make([]StageStatus, 0, len(configs))
	for _, c := range configs {
		status := StageStatus{
			Name:     c.Name,
			Enabled:  c.Enabled,
			Endpoint: c.Endpoint,
		}
		if c.ConnectTimeout > 0 {
			status.ConnectTimeout = c.ConnectTimeout.String()
		}
		if c.ReadTimeout > 0 {
			status.ReadTimeout = c.ReadTimeout.String()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// sortedCheckNames orders the checks so logs read the same on every call
func sortedCheckNames(checks map[string]HealthCheck) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
