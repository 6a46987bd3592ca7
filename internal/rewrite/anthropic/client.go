// Package anthropic implements rewrite.Generator with the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/JakeFAU/localnews-pipeline/internal/rewrite"
)

const (
	defaultModel   = "claude-sonnet-4-5"
	defaultTimeout = 60 * time.Second
	jsonDirective  = "Réponds uniquement avec un objet JSON valide, sans texte autour."
)

// Config controls the Messages API client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// Client implements rewrite.Generator.
type Client struct {
	messages *anthropic.MessageService
}

var _ rewrite.Generator = (*Client)(nil)

// New builds a client from configuration.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &Client{messages: &client.Messages}, nil
}

// Generate sends the prompt as a single user message. JSON mode is requested through the system prompt.
func (c *Client) Generate(ctx context.Context, req rewrite.GenerateRequest) (rewrite.GenerateResponse, error) {
	model := req.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = defaultModel
	}
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\n" + jsonDirective)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(req.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return rewrite.GenerateResponse{}, fmt.Errorf("create message: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return rewrite.GenerateResponse{}, fmt.Errorf("message returned no text")
	}
	return rewrite.GenerateResponse{
		Text:       text.String(),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}
