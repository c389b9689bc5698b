// Package generate produces contract and clause text from a prompt. The
// OpenAI client makes exactly one call per request; retrying is left to the
// caller.
package generate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

var (
	ErrEmptyCompletion = errors.New("generate: empty completion")
	ErrNoAPIKey        = errors.New("generate: api key not configured")
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

const systemPrompt = "You draft legal contract text. Reply with plain text only, without markdown."

// Config mirrors the generator section of the service configuration.
type Config struct {
	BaseURL   string
	Model     string
	APIKeyEnv string
	Timeout   time.Duration
}

// Client calls the OpenAI Responses API through the official SDK.
type Client struct {
	baseURL   string
	model     string
	apiKeyEnv string
	timeout   time.Duration
	api       openai.Client
}

func NewClient(cfg Config) *Client {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	opts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if base != "" {
		opts = append(opts, option.WithBaseURL(base+"/"))
	}
	return &Client{
		baseURL:   base,
		model:     model,
		apiKeyEnv: cfg.APIKeyEnv,
		timeout:   timeout,
		api:       openai.NewClient(opts...),
	}
}

// Generate reads the API key from the environment on every call so a key can
// be rotated without a restart.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	key := strings.TrimSpace(os.Getenv(c.apiKeyEnv))
	if c.apiKeyEnv == "" || key == "" {
		return "", ErrNoAPIKey
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("generate: base url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.Responses.New(ctx, responses.ResponseNewParams{
		Model:           shared.ResponsesModel(c.model),
		Instructions:    openai.String(systemPrompt),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(prompt)},
		MaxOutputTokens: openai.Int(2000),
	}, option.WithAPIKey(key))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			msg := apiErr.Message
			if msg == "" {
				msg = apiErr.Error()
			}
			return "", fmt.Errorf("generate: upstream status %d: %s", apiErr.StatusCode, msg)
		}
		return "", fmt.Errorf("generate: call: %w", err)
	}

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
