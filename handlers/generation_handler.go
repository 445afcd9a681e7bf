package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/image-gateway/config"
	"github.com/upb/image-gateway/middleware"
	"github.com/upb/image-gateway/models"
	"github.com/upb/image-gateway/repositories"
	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/services/dispatcher"
	"github.com/upb/image-gateway/services/providers"
	"github.com/upb/image-gateway/utils"
)

// maxBodyBytes bounds the generation request body
const maxBodyBytes = 1 << 20

// GenerationRequest is the body of POST /v1/images/generations.
// Omitted numeric fields take the configured defaults.
type GenerationRequest struct {
	Prompt    string `json:"prompt"`
	NumImages *int   `json:"num_images,omitempty" validate:"omitempty,gte=1"`
	Width     *int   `json:"width,omitempty" validate:"omitempty,gte=1,lte=8192"`
	Height    *int   `json:"height,omitempty" validate:"omitempty,gte=1,lte=8192"`
}

// GenerationResponse is the success body. Mock batches carry MockMode and a
// Note; secondary batches report how many real images were produced.
type GenerationResponse struct {
	Data           []providers.ImageReference `json:"data"`
	Status         string                     `json:"status"`
	Message        string                     `json:"message"`
	Stage          string                     `json:"stage"`
	GenerationID   string                     `json:"generation_id"`
	MockMode       bool                       `json:"mock_mode,omitempty"`
	Note           string                     `json:"note,omitempty"`
	RealGeneration bool                       `json:"real_generation,omitempty"`
	Succeeded      *int                       `json:"succeeded,omitempty"`
	Attempted      *int                       `json:"attempted,omitempty"`
}

// ImageDispatcher runs a validated request through the fallback chain
type ImageDispatcher interface {
	Dispatch(ctx context.Context, req *providers.GenerationRequest) (*dispatcher.Outcome, error)
}

// GenerationHandler handles image generation requests
type GenerationHandler struct {
	dispatcher  ImageDispatcher
	credentials repositories.CredentialRepository
	defaults    config.RequestDefaults
	logger      *zap.Logger
}

// NewGenerationHandler creates a new GenerationHandler
func NewGenerationHandler(d ImageDispatcher, credentials repositories.CredentialRepository, defaults config.RequestDefaults, logger *zap.Logger) *GenerationHandler {
	return &GenerationHandler{
		dispatcher:  d,
		credentials: credentials,
		defaults:    defaults,
		logger:      logger,
	}
}

// HandleGenerate handles POST /v1/images/generations
func (h *GenerationHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	// Parse request body; an empty body is an empty request
	var body GenerationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, services.ErrInvalidBody, h.logger)
		return
	}

	// Validate request
	if err := utils.ValidateStruct(&body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	req := h.toGenerationRequest(&body, middleware.GetSessionFromContext(ctx))
	if err := req.Validate(); err != nil {
		h.logger.Warn("rejected generation request",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}
	if req.Count > h.defaults.MaxNumImages {
		HandleServiceError(w, services.ErrTooManyImages.
			WithDetail("num_images", req.Count).
			WithDetail("max_num_images", h.defaults.MaxNumImages), h.logger)
		return
	}

	h.rememberSecondaryKey(ctx, req.SessionCredential)

	// The chain runs to completion even if the caller goes away
	outcome, err := h.dispatcher.Dispatch(context.WithoutCancel(ctx), req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteJSON(w, http.StatusOK, buildResponse(outcome)); err != nil {
		h.logger.Error("failed to write generation response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

func (h *GenerationHandler) toGenerationRequest(body *GenerationRequest, session string) *providers.GenerationRequest {
	req := &providers.GenerationRequest{
		Prompt:            body.Prompt,
		Count:             h.defaults.NumImages,
		Width:             h.defaults.Width,
		Height:            h.defaults.Height,
		SessionCredential: session,
	}
	if body.NumImages != nil {
		req.Count = *body.NumImages
	}
	if body.Width != nil {
		req.Width = *body.Width
	}
	if body.Height != nil {
		req.Height = *body.Height
	}
	return req
}

// rememberSecondaryKey stores a secondary key sent with the request for later
// requests of the same session. A storage failure only costs the caller the
// stored key, so it is logged and the request proceeds.
func (h *GenerationHandler) rememberSecondaryKey(ctx context.Context, session string) {
	key := middleware.GetSecondaryKeyFromContext(ctx)
	if key == "" || h.credentials == nil {
		return
	}
	if err := h.credentials.Put(ctx, session, key); err != nil {
		h.logger.Warn("failed to store secondary key",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("session", providers.MaskSecret(session)),
			zap.Error(err))
		return
	}
	h.logger.Info("stored secondary key for session",
		zap.String("session", providers.MaskSecret(session)),
		zap.String("key", providers.MaskSecret(key)))
}

func buildResponse(out *dispatcher.Outcome) GenerationResponse {
	resp := GenerationResponse{
		Data:         out.Images,
		Status:       "success",
		Stage:        string(out.Stage),
		GenerationID: out.GenerationID,
	}

	switch out.Stage {
	case models.GenerationStageForward:
		resp.Message = fmt.Sprintf("generated %d images", len(out.Images))
		if out.MockMode {
			resp.MockMode = true
			resp.Message = fmt.Sprintf("generated %d images (%d from the upstream, rest are placeholders)", len(out.Images), out.Succeeded)
			resp.Note = "the upstream returned fewer images than requested; placeholders fill the remainder"
		}
	case models.GenerationStageSecondary:
		resp.RealGeneration = true
		resp.Succeeded = &out.Succeeded
		resp.Attempted = &out.Attempted
		resp.MockMode = out.MockMode
		resp.Message = fmt.Sprintf("generated %d images (%d real)", len(out.Images), out.Succeeded)
		if out.MockMode {
			resp.Note = "some images failed to generate and were replaced with placeholders"
		}
	default:
		resp.MockMode = true
		resp.Message = fmt.Sprintf("generated %d images (placeholder mode)", len(out.Images))
		resp.Note = "these are placeholder images; configure a secondary provider key to generate real images"
	}
	return resp
}
