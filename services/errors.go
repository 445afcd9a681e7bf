package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a gateway failure
type ErrorType string

const (
	ErrorTypeInvalidRequest          ErrorType = "invalid_request"
	ErrorTypeUpstreamConnectFailure  ErrorType = "upstream_connect_failure"
	ErrorTypeUpstreamTimeout         ErrorType = "upstream_timeout"
	ErrorTypeUpstreamAuthFailure     ErrorType = "upstream_auth_failure"
	ErrorTypeUpstreamProtocolFailure ErrorType = "upstream_protocol_failure"
	ErrorTypeUpstreamProviderError   ErrorType = "upstream_provider_error"
	ErrorTypeExhaustedFallback       ErrorType = "exhausted_fallback"
	ErrorTypeInternal                ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type       ErrorType
	Message    string
	Suggestion string
	Err        error
	Details    map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on error type so wrapped sentinels compare equal
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && (t.Message == "" || e.Message == t.Message)
}

// WithDetail returns a copy of the error carrying an extra detail.
// Sentinels are shared, so they are never mutated in place.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	clone := *e
	clone.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		clone.Details[k] = v
	}
	clone.Details[key] = value
	return &clone
}

// WithSuggestion returns a copy of the error with a different suggestion
func (e *DomainError) WithSuggestion(suggestion string) *DomainError {
	clone := *e
	clone.Suggestion = suggestion
	return &clone
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:       errType,
		Message:    message,
		Suggestion: DefaultSuggestion(errType),
		Err:        err,
	}
}

// DefaultSuggestion returns the operator-facing hint shown for an error type
func DefaultSuggestion(errType ErrorType) string {
	switch errType {
	case ErrorTypeInvalidRequest:
		return "check the request: send 'Authorization: Bearer <session id>' and a non-empty prompt"
	case ErrorTypeUpstreamAuthFailure:
		return "check credential validity: the session id may be expired or lack permission"
	case ErrorTypeUpstreamConnectFailure:
		return "check upstream address and that the upstream service is running"
	case ErrorTypeUpstreamTimeout:
		return "check network connectivity or raise the connect/read timeouts"
	case ErrorTypeUpstreamProtocolFailure:
		return "check that the upstream speaks the /v1/images/generations contract"
	case ErrorTypeUpstreamProviderError:
		return "check the upstream provider logs for the reported error"
	case ErrorTypeExhaustedFallback:
		return "enable the placeholder stage (PLACEHOLDER_ENABLED=true) or fix the upstream configuration"
	default:
		return "check the gateway logs for details"
	}
}

var (
	// Request validation
	ErrMissingCredential = NewDomainError(ErrorTypeInvalidRequest, "missing session credential, provide 'Authorization: Bearer <SESSION_ID>'", nil)
	ErrMissingPrompt     = NewDomainError(ErrorTypeInvalidRequest, "missing prompt, provide a non-empty 'prompt' in the request body", nil)
	ErrInvalidBody       = NewDomainError(ErrorTypeInvalidRequest, "request body is not valid JSON", nil)
	ErrInvalidDimensions = NewDomainError(ErrorTypeInvalidRequest, "num_images, width and height must be positive", nil)
	ErrTooManyImages     = NewDomainError(ErrorTypeInvalidRequest, "num_images exceeds the configured maximum", nil)

	// Chain exhaustion is only reachable when the placeholder stage is disabled
	ErrExhaustedFallback = NewDomainError(ErrorTypeExhaustedFallback, "no generation stage produced images", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// IsInvalidRequestError checks if an error is a request validation error
func IsInvalidRequestError(err error) bool {
	return GetErrorType(err) == ErrorTypeInvalidRequest
}

// IsExhaustedFallbackError checks if an error reports an exhausted stage chain
func IsExhaustedFallbackError(err error) bool {
	return GetErrorType(err) == ErrorTypeExhaustedFallback
}

// IsUpstreamError checks if an error originated at an upstream provider
func IsUpstreamError(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeUpstreamConnectFailure, ErrorTypeUpstreamTimeout, ErrorTypeUpstreamAuthFailure,
		ErrorTypeUpstreamProtocolFailure, ErrorTypeUpstreamProviderError:
		return true
	}
	return false
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetSuggestion returns the suggestion of a domain error
func GetSuggestion(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Suggestion
	}
	return DefaultSuggestion(ErrorTypeInternal)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}
