// Package rewrite turns scraped articles into structured, SEO-oriented rewrites through a text generator.
package rewrite

import "context"

// GenerateRequest is a single prompt sent to a text generator.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider to constrain output to a JSON object when it supports it.
	JSON bool
}

// GenerateResponse is the raw completion and its token usage.
type GenerateResponse struct {
	Text       string
	TokensUsed int
}

// Generator is implemented by each model provider adapter.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}
