// Package classifier asks an OpenAI-compatible chat completion service for the
// ICD-10 code of an indication.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dailymed-etl/internal/config"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"golang.org/x/time/rate"
)

// ErrNoCode is returned when the service answers without usable content.
var ErrNoCode = errors.New("classifier returned no code")

const promptTemplate = `Given the following medical indications, provide the most appropriate ICD-10 code:

Indication: %s
Description: %s

Return only ICD-10 code without any other information.`

// Client classifies one indication per call. It holds no per-call state and
// is safe for concurrent use.
type Client struct {
	api         openai.Client
	model       string
	temperature float64
	topP        float64
	maxTokens   int64
	timeout     time.Duration
	limiter     *rate.Limiter
}

// New builds a client from configuration. Extra request options (for example
// a custom HTTP client in tests) are appended after the configured ones.
func New(cfg config.ClassifierConfig, opts ...option.RequestOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("classifier: API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("classifier: model is required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	reqOpts = append(reqOpts, opts...)

	c := &Client{
		api:         openai.NewClient(reqOpts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c, nil
}

// Prompt renders the question sent for one indication.
func Prompt(title, text string) string {
	return fmt.Sprintf(promptTemplate, title, text)
}

// Classify returns the code the service assigns to title and text. Sampling
// uses the configured temperature, so repeated calls may disagree.
func (c *Client) Classify(ctx context.Context, title, text string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(Prompt(title, text)),
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.topP > 0 {
		params.TopP = openai.Float(c.topP)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrNoCode
	}

	code := strings.TrimSpace(completion.Choices[0].Message.Content)
	if code == "" {
		return "", ErrNoCode
	}
	return code, nil
}
