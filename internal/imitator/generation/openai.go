package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bdobrica/Mimic/common/spec/backend"
)

const (
	defaultOpenAIBase  = "https://api.openai.com/v1/"
	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIConfig configures the OpenAI (or compatible) backend.
type OpenAIConfig struct {
	// BaseURL overrides the API endpoint, e.g. a local OpenAI-compatible
	// server. Defaults to https://api.openai.com/v1/.
	BaseURL string
	Model   string
	// Timeout bounds each call. Zero leaves the caller's context in charge.
	Timeout time.Duration
	// HTTPClient is used instead of the default client when set.
	HTTPClient *http.Client
}

// OpenAI generates replies through the chat completions API.
type OpenAI struct {
	cfg    OpenAIConfig
	creds  Credentials
	client openai.Client
}

var _ Backend = (*OpenAI)(nil)

// NewOpenAI returns a backend authenticating with creds.
func NewOpenAI(cfg OpenAIConfig, creds Credentials) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}

	opts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		// Retrying is decided here, not inside the SDK.
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{cfg: cfg, creds: creds, client: openai.NewClient(opts...)}
}

// Name implements Backend.
func (o *OpenAI) Name() backend.Kind { return backend.OpenAI }

// Generate implements Backend.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	system, err := FormatPrompt(req.SystemPromptTemplate, req.ChatHistory, req.UserMessage)
	if err != nil {
		return "", err
	}
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	return callWithRefresh(ctx, o.creds, func(ctx context.Context, token string) (string, error) {
		resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(req.UserMessage),
			},
			Model:       o.cfg.Model,
			MaxTokens:   openai.Int(defaultMaxTokens),
			Temperature: openai.Float(defaultTemperature),
		}, option.WithAPIKey(token))
		if err != nil {
			return "", classifyOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", generationFailed("openai: no choices returned")
		}
		return cleanReply("openai", resp.Choices[0].Message.Content)
	})
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatus("openai", apiErr.StatusCode, apiErr.Message)
	}
	// Transport failures, timeouts and cancellation.
	return fmt.Errorf("%w: openai: %w", ErrUnavailable, err)
}
