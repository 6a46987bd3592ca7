package rewrite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/metrics"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

const (
	defaultContentBudget = 3000
	defaultTemperature   = 0.7
	defaultMaxTokens     = 2500
	defaultMaxLinks      = 2
	defaultMinWords      = 600
	defaultLocality      = "Lyon"
)

// Config controls prompting and post-processing.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	ContentBudget int
	MinWords      int
	Locality      string
	LocalKeywords []string
	Links         []Link
	MaxLinks      int
}

// Service implements news.Rewriter on top of a Generator.
type Service struct {
	gen    Generator
	cfg    Config
	logger *zap.Logger
}

var _ news.Rewriter = (*Service)(nil)

// New builds a rewrite service, filling unset knobs with defaults.
func New(gen Generator, cfg Config, logger *zap.Logger) (*Service, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentBudget <= 0 {
		cfg.ContentBudget = defaultContentBudget
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = defaultMaxLinks
	}
	if cfg.MinWords <= 0 {
		cfg.MinWords = defaultMinWords
	}
	if cfg.Locality == "" {
		cfg.Locality = defaultLocality
	}
	metrics.Init()
	return &Service{gen: gen, cfg: cfg, logger: logger}, nil
}

// Rewrite asks the generator for a rewrite of in. Any error means no usable result.
func (s *Service) Rewrite(ctx context.Context, in news.RewriteInput) (news.Rewrite, error) {
	system, prompt, err := s.buildPrompt(in.Title, in.Content, in.PublishedAt)
	if err != nil {
		return news.Rewrite{}, err
	}

	start := time.Now()
	resp, err := s.gen.Generate(ctx, GenerateRequest{
		Model:       s.cfg.Model,
		System:      system,
		Prompt:      prompt,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		metrics.ObserveRewrite(s.cfg.Model, "error", 0, time.Since(start))
		return news.Rewrite{}, fmt.Errorf("generate rewrite: %w", err)
	}

	out, err := Parse(resp.Text)
	if err != nil {
		metrics.ObserveRewrite(s.cfg.Model, "invalid", resp.TokensUsed, time.Since(start))
		s.logger.Warn("unusable rewrite output",
			zap.String("title", in.Title),
			zap.Int("tokens", resp.TokensUsed),
			zap.Error(err),
		)
		return news.Rewrite{}, err
	}
	out.TokensUsed = resp.TokensUsed
	out.Content = InsertLinks(out.Content, s.cfg.Links, s.cfg.MaxLinks)

	metrics.ObserveRewrite(s.cfg.Model, "ok", resp.TokensUsed, time.Since(start))
	s.logger.Debug("article rewritten",
		zap.String("title", out.Title),
		zap.String("category", out.Category),
		zap.Float64("confidence", out.Confidence),
		zap.Int("tokens", out.TokensUsed),
	)
	return out, nil
}
