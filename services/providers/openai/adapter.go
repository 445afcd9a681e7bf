package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/upb/image-gateway/services/providers"
)

const (
	// Name identifies the secondary stage in logs, metrics and responses
	Name = "yunwu"

	defaultBaseURL = "https://yunwu.ai"
	defaultModel   = "sora_image"
	temperature    = 0.7
)

var markdownImage = regexp.MustCompile(`!\[.*?\]\((.*?)\)`)

// ChatImageAdapter generates single images through an OpenAI compatible
// chat completions endpoint whose model answers with an image link.
type ChatImageAdapter struct {
	config     providers.StrategyConfig
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewChatImageAdapter creates the secondary stage adapter.
// The API key is supplied per call, so only transport settings are fixed here.
func NewChatImageAdapter(config providers.StrategyConfig, model string, logger *zap.Logger) *ChatImageAdapter {
	if config.Endpoint == "" {
		config.Endpoint = defaultBaseURL
	}
	config = config.WithDefaults()
	if config.Name == "" {
		config.Name = "secondary"
	}
	if model == "" {
		model = defaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ChatImageAdapter{
		config:     config,
		model:      model,
		httpClient: providers.NewHTTPClient(config),
		logger:     logger.With(zap.String("provider", Name)),
	}
}

// Name returns the provider name
func (a *ChatImageAdapter) Name() string {
	return Name
}

// Config returns the stage configuration
func (a *ChatImageAdapter) Config() providers.StrategyConfig {
	return a.config
}

// Model returns the configured chat model
func (a *ChatImageAdapter) Model() string {
	return a.model
}

// Generate produces exactly one image; req.Count is ignored and the caller
// loops once per wanted image.
func (a *ChatImageAdapter) Generate(ctx context.Context, req *providers.GenerationRequest, apiKey string) providers.StrategyResult {
	conf := goopenai.DefaultConfig(apiKey)
	conf.BaseURL = a.config.Endpoint + "/v1"
	conf.HTTPClient = a.httpClient
	client := goopenai.NewClientWithConfig(conf)

	resp, err := client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: a.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: BuildPrompt(req.Prompt, req.Width, req.Height)},
		},
		Temperature: temperature,
	})
	if err != nil {
		failure := a.classifyError(err)
		a.logger.Warn("secondary generation failed",
			zap.String("kind", string(failure.Kind)),
			zap.Int("status", failure.StatusCode),
			zap.Error(err),
		)
		return providers.FailWith(failure)
	}

	if len(resp.Choices) == 0 {
		return providers.Fail(providers.ErrorKindEmptyResult, "chat completion returned no choices")
	}

	url := ExtractImageURL(resp.Choices[0].Message.Content)
	if url == "" {
		return providers.Fail(providers.ErrorKindEmptyResult, "chat completion did not contain an image link")
	}

	a.logger.Debug("secondary generation succeeded", zap.String("url", url))
	return providers.Success([]providers.ImageReference{{URL: url}})
}

func (a *ChatImageAdapter) classifyError(err error) *providers.Failure {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		if f := providers.ClassifyStatus(apiErr.HTTPStatusCode, []byte(apiErr.Message)); f != nil {
			return f
		}
	}

	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		// Bodies that are not the OpenAI error envelope are kept raw in Body
		body := reqErr.Body
		if len(bytes.TrimSpace(body)) == 0 && reqErr.Err != nil {
			body = []byte(reqErr.Err.Error())
		}
		if f := providers.ClassifyStatus(reqErr.HTTPStatusCode, body); f != nil {
			return f
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &providers.Failure{
			Kind:   providers.ErrorKindMalformedResponse,
			Detail: "chat completion response is not valid JSON",
			Cause:  err,
		}
	}

	return providers.ClassifyTransportError(err, a.config.Endpoint)
}

// AspectRatio returns the ratio tag the image model understands for the
// requested size: square within 10%, otherwise portrait or landscape.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}
	ratio := float64(width) / float64(height)
	switch {
	case math.Abs(ratio-1) < 0.1:
		return "1:1"
	case ratio < 1:
		return "2:3"
	default:
		return "3:2"
	}
}

// BuildPrompt appends the aspect ratio tag to the user prompt
func BuildPrompt(prompt string, width, height int) string {
	return fmt.Sprintf("%s【%s】", prompt, AspectRatio(width, height))
}

// ExtractImageURL pulls the image link out of a chat completion.
// Markdown image syntax wins, then a JSON object with url or image_url,
// then a bare http link. It returns "" when nothing matches.
func ExtractImageURL(content string) string {
	content = strings.TrimSpace(content)
	if m := markdownImage.FindStringSubmatch(content); len(m) == 2 && m[1] != "" {
		return m[1]
	}

	if strings.HasPrefix(content, "{") {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(content), &payload); err == nil {
			for _, key := range []string{"url", "image_url"} {
				if s, ok := payload[key].(string); ok && s != "" {
					return s
				}
			}
		}
	}

	if strings.HasPrefix(content, "http") {
		return content
	}
	return ""
}

// Ensure interface compliance.
var _ providers.Client = (*ChatImageAdapter)(nil)
