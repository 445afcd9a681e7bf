package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/upb/image-gateway/services"
)

// Client invokes a single upstream image generation provider.
// Implementations never return Go errors: every failure is folded into a
// classified StrategyResult so the dispatcher can apply one policy to all providers.
type Client interface {
	// Name returns the provider name (e.g., "jimeng", "yunwu")
	Name() string

	// Config returns the immutable stage configuration the client was built from
	Config() StrategyConfig

	// Generate requests req.Count images from the provider using credential as bearer token
	Generate(ctx context.Context, req *GenerationRequest, credential string) StrategyResult
}

// GenerationRequest is the provider-neutral image generation request
type GenerationRequest struct {
	Prompt            string
	Count             int
	Width             int
	Height            int
	SessionCredential string
}

// Validate checks the request invariants without contacting any upstream
func (r *GenerationRequest) Validate() error {
	if strings.TrimSpace(r.SessionCredential) == "" {
		return services.ErrMissingCredential
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return services.ErrMissingPrompt
	}
	if r.Count < 1 || r.Width <= 0 || r.Height <= 0 {
		return services.ErrInvalidDimensions.
			WithDetail("num_images", r.Count).
			WithDetail("width", r.Width).
			WithDetail("height", r.Height)
	}
	return nil
}

// ImageReference points at one generated (or synthetic) image
type ImageReference struct {
	URL string `json:"url"`
}

// IsAbsoluteURL reports whether raw is an absolute URI usable as an ImageReference
func IsAbsoluteURL(raw string) bool {
	if strings.TrimSpace(raw) != raw || raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && (u.Host != "" || u.Opaque != "")
}

// ResultKind tags the StrategyResult variant
type ResultKind int

const (
	ResultFailure ResultKind = iota
	ResultSuccess
	ResultPartialSuccess
)

// String returns the result kind label used in logs and metrics
func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultPartialSuccess:
		return "partial_success"
	default:
		return "failure"
	}
}

// StrategyResult is the outcome of one stage attempt.
// Exactly one of Images (Success, PartialSuccess) or Failure (Failure) is meaningful.
type StrategyResult struct {
	Kind      ResultKind
	Images    []ImageReference
	Attempted int
	Succeeded int
	Failure   *Failure
}

// Success builds a fully successful result
func Success(images []ImageReference) StrategyResult {
	return StrategyResult{
		Kind:      ResultSuccess,
		Images:    images,
		Attempted: len(images),
		Succeeded: len(images),
	}
}

// PartialSuccess builds a result mixing real and synthetic images
func PartialSuccess(images []ImageReference, attempted, succeeded int) StrategyResult {
	return StrategyResult{
		Kind:      ResultPartialSuccess,
		Images:    images,
		Attempted: attempted,
		Succeeded: succeeded,
	}
}

// Fail builds a failed result
func Fail(kind ErrorKind, detail string) StrategyResult {
	return StrategyResult{Kind: ResultFailure, Failure: &Failure{Kind: kind, Detail: detail}}
}

// FailWith wraps an already classified failure
func FailWith(f *Failure) StrategyResult {
	return StrategyResult{Kind: ResultFailure, Failure: f}
}

// OK reports whether the result carries images
func (r StrategyResult) OK() bool {
	return r.Kind != ResultFailure
}

// ErrorKind classifies why a single upstream call failed
type ErrorKind string

const (
	ErrorKindConnectTimeout    ErrorKind = "connect_timeout"
	ErrorKindReadTimeout       ErrorKind = "read_timeout"
	ErrorKindUnreachable       ErrorKind = "unreachable"
	ErrorKindInvalidCredential ErrorKind = "invalid_credential"
	ErrorKindForbidden         ErrorKind = "forbidden"
	ErrorKindUpstreamError     ErrorKind = "upstream_error"
	ErrorKindMalformedResponse ErrorKind = "malformed_response"
	ErrorKindEmptyResult       ErrorKind = "empty_result"
)

// Category maps an upstream failure kind onto the gateway error taxonomy
func (k ErrorKind) Category() services.ErrorType {
	switch k {
	case ErrorKindConnectTimeout, ErrorKindReadTimeout:
		return services.ErrorTypeUpstreamTimeout
	case ErrorKindUnreachable:
		return services.ErrorTypeUpstreamConnectFailure
	case ErrorKindInvalidCredential, ErrorKindForbidden:
		return services.ErrorTypeUpstreamAuthFailure
	case ErrorKindMalformedResponse, ErrorKindEmptyResult:
		return services.ErrorTypeUpstreamProtocolFailure
	case ErrorKindUpstreamError:
		return services.ErrorTypeUpstreamProviderError
	default:
		return services.ErrorTypeInternal
	}
}

// Failure is a classified upstream failure
type Failure struct {
	Kind       ErrorKind
	Detail     string
	StatusCode int
	Cause      error
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", f.Kind, f.StatusCode, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Unwrap implements error unwrapping
func (f *Failure) Unwrap() error {
	return f.Cause
}

// DomainError converts the failure into the caller-facing error taxonomy
func (f *Failure) DomainError() *services.DomainError {
	err := services.NewDomainError(f.Kind.Category(), f.Detail, f).
		WithDetail("kind", string(f.Kind))
	if f.StatusCode != 0 {
		err = err.WithDetail("status_code", f.StatusCode)
	}
	return err
}

// StrategyConfig describes one stage of the fallback chain.
// It is built once from process configuration and never mutated.
type StrategyConfig struct {
	Name           string        `json:"name" yaml:"name"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Endpoint       string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ConnectTimeout time.Duration `json:"-" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `json:"-" yaml:"read_timeout"`
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 600 * time.Second
)

// WithDefaults fills zero timeouts with the gateway defaults
func (c StrategyConfig) WithDefaults() StrategyConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	return c
}
