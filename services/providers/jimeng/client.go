package jimeng

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/upb/image-gateway/services/providers"
)

const (
	// Name identifies the forward stage in logs, metrics and responses
	Name = "jimeng"

	generationsPath = "/v1/images/generations"
)

// generationRequest is the body of POST /v1/images/generations
type generationRequest struct {
	Prompt    string `json:"prompt"`
	NumImages int    `json:"num_images"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// generationResponse is the subset of the upstream response the gateway reads
type generationResponse struct {
	Created int64 `json:"created,omitempty"`
	Data    []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Client forwards generation requests to an upstream speaking the
// /v1/images/generations contract, authenticating with the caller's session id.
type Client struct {
	config providers.StrategyConfig
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a forward client for the given stage configuration
func NewClient(config providers.StrategyConfig, logger *zap.Logger) *Client {
	config = config.WithDefaults()
	if config.Name == "" {
		config.Name = Name
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config: config,
		http: resty.NewWithClient(providers.NewHTTPClient(config)).
			SetBaseURL(config.Endpoint).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		logger: logger.With(zap.String("provider", Name)),
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return Name
}

// Config returns the stage configuration
func (c *Client) Config() providers.StrategyConfig {
	return c.config
}

// Generate issues one upstream call for req.Count images.
// The session credential is sent as the bearer token.
func (c *Client) Generate(ctx context.Context, req *providers.GenerationRequest, credential string) providers.StrategyResult {
	if !strings.HasPrefix(c.config.Endpoint, "http://") && !strings.HasPrefix(c.config.Endpoint, "https://") {
		return providers.Fail(providers.ErrorKindUnreachable,
			fmt.Sprintf("invalid upstream address %q", c.config.Endpoint))
	}

	c.logger.Info("forwarding generation request",
		zap.String("endpoint", c.config.Endpoint+generationsPath),
		zap.String("credential", providers.MaskSecret(credential)),
		zap.Int("num_images", req.Count),
		zap.Int("width", req.Width),
		zap.Int("height", req.Height),
	)

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetBody(generationRequest{
			Prompt:    req.Prompt,
			NumImages: req.Count,
			Width:     req.Width,
			Height:    req.Height,
		}).
		Post(generationsPath)
	if err != nil {
		failure := providers.ClassifyTransportError(err, c.config.Endpoint)
		c.logger.Warn("forward request failed",
			zap.String("kind", string(failure.Kind)),
			zap.Error(err),
		)
		return providers.FailWith(failure)
	}

	if failure := providers.ClassifyStatus(resp.StatusCode(), resp.Body()); failure != nil {
		c.logger.Warn("forward upstream returned an error status",
			zap.Int("status", resp.StatusCode()),
			zap.String("kind", string(failure.Kind)),
		)
		return providers.FailWith(failure)
	}

	var parsed generationResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return providers.FailWith(&providers.Failure{
			Kind:       providers.ErrorKindMalformedResponse,
			Detail:     "upstream response is not valid JSON",
			StatusCode: resp.StatusCode(),
			Cause:      err,
		})
	}

	images := make([]providers.ImageReference, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		if !providers.IsAbsoluteURL(item.URL) {
			if item.URL != "" {
				c.logger.Debug("dropping image entry with a non-absolute url", zap.String("url", item.URL))
			}
			continue
		}
		images = append(images, providers.ImageReference{URL: item.URL})
	}
	if len(images) == 0 {
		return providers.Fail(providers.ErrorKindEmptyResult, "upstream returned no image URLs")
	}

	c.logger.Info("forward generation succeeded", zap.Int("images", len(images)))
	return providers.Success(images)
}

// Ensure interface compliance.
var _ providers.Client = (*Client)(nil)
