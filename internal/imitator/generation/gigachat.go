package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/bdobrica/Mimic/common/spec/backend"
)

const (
	defaultGigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	defaultGigaChatBase     = "https://gigachat.devices.sberbank.ru/api/v1"
	defaultGigaChatModel    = "GigaChat"
	defaultGigaChatScope    = "GIGACHAT_API_PERS"

	// gigaChatTokenLifetime applies when the OAuth response carries no expiry.
	gigaChatTokenLifetime = 30 * time.Minute
)

// GigaChatConfig configures the GigaChat backend.
type GigaChatConfig struct {
	// AuthKey is the base64 "client_id:client_secret" authorization key
	// issued in the developer console.
	AuthKey  string
	Scope    string
	OAuthURL string
	BaseURL  string
	Model    string
	// CACertFile is a PEM bundle trusted in addition to the system roots.
	// The public GigaChat endpoints are signed by the Russian Trusted Root CA.
	CACertFile string
	Timeout    time.Duration
}

func (c *GigaChatConfig) defaults() {
	if c.Scope == "" {
		c.Scope = defaultGigaChatScope
	}
	if c.OAuthURL == "" {
		c.OAuthURL = defaultGigaChatOAuthURL
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultGigaChatBase
	}
	if c.Model == "" {
		c.Model = defaultGigaChatModel
	}
}

func newGigaChatHTTP(cfg GigaChatConfig) (*resty.Client, error) {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.CACertFile != "" {
		pem, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("gigachat: read CA bundle: %w", err)
		}
		client.SetRootCertificateFromString(string(pem))
	}
	return client, nil
}

type gigaChatTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix milliseconds
}

// GigaChatCredentials obtains OAuth access tokens with the client-credentials
// flow. Tokens are cached until shortly before expiry.
type GigaChatCredentials struct {
	cfg   GigaChatConfig
	http  *resty.Client
	cache tokenCache
}

// NewGigaChatCredentials returns credentials for cfg.AuthKey.
func NewGigaChatCredentials(cfg GigaChatConfig) (*GigaChatCredentials, error) {
	if cfg.AuthKey == "" {
		return nil, errors.New("gigachat: auth key is required")
	}
	cfg.defaults()
	client, err := newGigaChatHTTP(cfg)
	if err != nil {
		return nil, err
	}
	c := &GigaChatCredentials{cfg: cfg, http: client}
	c.cache.fetch = c.fetch
	return c, nil
}

// Token returns the cached access token, fetching one when none is valid.
func (c *GigaChatCredentials) Token(ctx context.Context) (string, error) {
	return c.cache.Token(ctx)
}

// Refresh fetches a new access token.
func (c *GigaChatCredentials) Refresh(ctx context.Context) (string, error) {
	return c.cache.Refresh(ctx)
}

func (c *GigaChatCredentials) fetch(ctx context.Context) (*oauth2.Token, error) {
	var out gigaChatTokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Basic "+c.cfg.AuthKey).
		SetHeader("RqUID", uuid.NewString()).
		SetFormData(map[string]string{"scope": c.cfg.Scope}).
		SetResult(&out).
		Post(c.cfg.OAuthURL)
	if err != nil {
		return nil, fmt.Errorf("gigachat: oauth request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("gigachat: oauth: HTTP %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if out.AccessToken == "" {
		return nil, errors.New("gigachat: oauth: response has no access_token")
	}

	expiry := time.Now().Add(gigaChatTokenLifetime)
	if out.ExpiresAt > 0 {
		expiry = time.UnixMilli(out.ExpiresAt)
	}
	return &oauth2.Token{AccessToken: out.AccessToken, TokenType: "Bearer", Expiry: expiry}, nil
}

type gigaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type gigaChatRequest struct {
	Model       string            `json:"model"`
	Messages    []gigaChatMessage `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
}

type gigaChatResponse struct {
	Choices []struct {
		Message      gigaChatMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
}

// GigaChat generates replies through the GigaChat chat completions API.
type GigaChat struct {
	cfg   GigaChatConfig
	creds Credentials
	http  *resty.Client
}

var _ Backend = (*GigaChat)(nil)

// NewGigaChat returns a GigaChat backend authenticating with creds.
func NewGigaChat(cfg GigaChatConfig, creds Credentials) (*GigaChat, error) {
	cfg.defaults()
	client, err := newGigaChatHTTP(cfg)
	if err != nil {
		return nil, err
	}
	client.SetHeader("Content-Type", "application/json")
	return &GigaChat{cfg: cfg, creds: creds, http: client}, nil
}

// Name implements Backend.
func (g *GigaChat) Name() backend.Kind { return backend.GigaChat }

// Generate implements Backend.
func (g *GigaChat) Generate(ctx context.Context, req Request) (string, error) {
	system, err := FormatPrompt(req.SystemPromptTemplate, req.ChatHistory, req.UserMessage)
	if err != nil {
		return "", err
	}
	body := gigaChatRequest{
		Model: g.cfg.Model,
		Messages: []gigaChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.UserMessage},
		},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}

	return callWithRefresh(ctx, g.creds, func(ctx context.Context, token string) (string, error) {
		var out gigaChatResponse
		resp, err := g.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(body).
			SetResult(&out).
			Post("/chat/completions")
		if err != nil {
			return "", fmt.Errorf("%w: gigachat: %w", ErrUnavailable, err)
		}
		if resp.StatusCode() != http.StatusOK {
			return "", classifyStatus("gigachat", resp.StatusCode(), resp.String())
		}
		if len(out.Choices) == 0 {
			return "", generationFailed("gigachat: no choices returned")
		}
		return cleanReply("gigachat", out.Choices[0].Message.Content)
	})
}
