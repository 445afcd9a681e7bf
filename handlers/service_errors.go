package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/image-gateway/services"
	"github.com/upb/image-gateway/utils"
)

// HandleServiceError maps domain errors to HTTP responses.
// Request problems are 400; everything else, including an exhausted
// fallback chain, is a 500 carrying the kind and an actionable suggestion.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	resp := utils.ErrorResponse{
		Message:    err.Error(),
		Kind:       string(errType),
		Suggestion: services.GetSuggestion(err),
		Details:    services.GetErrorDetails(err),
	}
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		resp.Message = domainErr.Message
	}

	status := http.StatusInternalServerError
	switch {
	case services.IsInvalidRequestError(err):
		status = http.StatusBadRequest
		resp.Error = "bad_request"

	case services.IsExhaustedFallbackError(err):
		logger.Error("generation failed, fallback chain exhausted",
			zap.Error(err),
			zap.Any("details", resp.Details))
		resp.Error = string(services.ErrorTypeExhaustedFallback)

	case services.IsUpstreamError(err):
		logger.Error("upstream error reached the caller", zap.Error(err))
		resp.Error = string(errType)

	default:
		// Unknown errors keep their text out of the response
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(errType)))
		resp.Error = "internal_error"
		resp.Message = "An unexpected error occurred"
		resp.Kind = string(services.ErrorTypeInternal)
		resp.Details = nil
	}

	if err := utils.WriteErrorResponse(w, status, resp); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}

	// Log error details for debugging
	if domainErr != nil {
		logger.Debug("handled service error",
			zap.String("type", string(domainErr.Type)),
			zap.String("message", domainErr.Message),
			zap.Any("details", domainErr.Details))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	details := make(map[string]interface{})
	message := err.Error()
	if utils.IsValidationError(err) {
		for k, v := range utils.GetValidationFields(err) {
			details[k] = v
		}
		message = "Validation failed"
	}

	if err := utils.WriteErrorResponse(w, http.StatusBadRequest, utils.ErrorResponse{
		Error:      "bad_request",
		Message:    message,
		Kind:       string(services.ErrorTypeInvalidRequest),
		Suggestion: services.DefaultSuggestion(services.ErrorTypeInvalidRequest),
		Details:    details,
	}); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
