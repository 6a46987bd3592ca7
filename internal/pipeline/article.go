package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/metrics"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// processCandidate runs one candidate through dedupe, persistence, rewrite and gating.
// Every failure here is logged and confined to the candidate. It reports false when the
// candidate was already stored and nothing was attempted.
func (o *Orchestrator) processCandidate(
	ctx context.Context,
	src news.Source,
	c news.Candidate,
	threshold float64,
	res *sourceResult,
	logger *zap.Logger,
) bool {
	link := c.Link
	if normalized, err := news.NormalizeURL(link); err == nil {
		link = normalized
	}
	logger = logger.With(zap.String("url", link))

	exists, err := o.deps.Store.ArticleExists(ctx, link)
	if err != nil {
		logger.Warn("dedupe check failed", zap.Error(err))
		return true
	}
	if exists {
		metrics.ObserveArticle("duplicate")
		return false
	}

	if src.Kind == news.SourceKindFeed {
		c = o.enrich(ctx, c, logger)
	}

	now := o.deps.Clock.Now()
	published := now
	if c.PublishedAt != nil {
		published = *c.PublishedAt
	}
	fingerprint, err := o.fingerprint(link, c.Title)
	if err != nil {
		logger.Warn("fingerprint failed", zap.Error(err))
		return true
	}
	id, err := o.deps.IDs.NewID()
	if err != nil {
		logger.Warn("generate article id failed", zap.Error(err))
		return true
	}
	slug := news.ArticleSlug(c.Title, published)

	stored := o.deps.Images.Capture(ctx, news.ImageRequest{
		URL:  c.ImageURL,
		Slug: slug,
		Seed: seedFrom(fingerprint),
	})

	article := news.Article{
		ID:                  id,
		SourceName:          src.Name,
		SourceURL:           src.URL,
		OriginalURL:         link,
		OriginalTitle:       c.Title,
		OriginalContent:     c.Content,
		OriginalExcerpt:     c.Excerpt,
		OriginalImageURL:    c.ImageURL,
		OriginalPublishDate: published,
		Fingerprint:         fingerprint,
		Slug:                slug,
		StoredImageURL:      stored,
		Status:              news.StatusScraped,
		ScrapedAt:           now,
	}
	inserted, err := o.deps.Store.InsertArticle(ctx, article)
	if err != nil {
		logger.Warn("insert article failed", zap.Error(err))
		return true
	}
	if !inserted {
		metrics.ObserveArticle("duplicate")
		return false
	}
	res.counts.Scraped++
	metrics.ObserveArticle(string(news.StatusScraped))

	status, ok := o.rewriteArticle(ctx, article, threshold)
	if !ok {
		return true
	}
	switch status {
	case news.StatusPublished:
		res.counts.Published++
	case news.StatusRewritten:
		res.rewritten++
	}
	return true
}

// rewriteArticle rewrites a scraped article, decides its status and saves it.
// It reports false when the article stays scraped.
func (o *Orchestrator) rewriteArticle(ctx context.Context, article news.Article, threshold float64) (news.Status, bool) {
	logger := o.logger.With(zap.String("article_id", article.ID), zap.String("title", article.OriginalTitle))

	rw, err := o.deps.Rewriter.Rewrite(ctx, news.RewriteInput{
		Title:       article.OriginalTitle,
		Content:     article.OriginalContent,
		PublishedAt: article.OriginalPublishDate,
	})
	if err != nil {
		metrics.ObserveArticle("rewrite_failed")
		logger.Warn("rewrite failed, article stays scraped", zap.Error(err))
		return news.StatusScraped, false
	}

	validationErr := o.deps.Validator.Validate(rw)
	status := o.decide(rw.Confidence, validationErr, threshold)
	if validationErr != nil {
		logger.Info("rewrite not publish-ready", zap.Error(validationErr))
	}

	at := o.deps.Clock.Now()
	if err := o.deps.Store.SaveRewrite(ctx, article.ID, rw, status, at); err != nil {
		logger.Warn("save rewrite failed", zap.String("status", string(status)), zap.Error(err))
		return news.StatusScraped, false
	}
	metrics.ObserveArticle(string(status))
	logger.Info("article rewritten",
		zap.String("status", string(status)),
		zap.Float64("confidence", rw.Confidence),
		zap.Int("tokens", rw.TokensUsed),
	)

	if status == news.StatusPublished {
		o.publish(ctx, article, rw, at, logger)
	}
	return status, true
}

// decide maps a rewrite to its next status.
func (o *Orchestrator) decide(confidence float64, validationErr error, threshold float64) news.Status {
	if o.cfg.RejectBelow > 0 && confidence < o.cfg.RejectBelow {
		return news.StatusRejected
	}
	if validationErr == nil && o.cfg.AutoPublish && confidence >= threshold {
		return news.StatusPublished
	}
	return news.StatusRewritten
}

func (o *Orchestrator) publish(ctx context.Context, article news.Article, rw news.Rewrite, at time.Time, logger *zap.Logger) {
	if o.deps.Publisher == nil {
		return
	}
	ev := news.Event{
		Type:        EventArticlePublished,
		ArticleID:   article.ID,
		Slug:        article.Slug,
		Title:       rw.Title,
		Category:    rw.Category,
		OriginalURL: article.OriginalURL,
		ImageURL:    article.StoredImageURL,
		Confidence:  rw.Confidence,
		At:          at,
	}
	if _, err := o.deps.Publisher.Publish(ctx, EventArticlePublished, ev); err != nil {
		logger.Warn("publish event failed", zap.Error(err))
	}
}

// enrich replaces short feed content with the full article text when enabled.
func (o *Orchestrator) enrich(ctx context.Context, c news.Candidate, logger *zap.Logger) news.Candidate {
	if !o.cfg.EnrichFromArticle || utf8.RuneCountInString(strings.TrimSpace(c.Content)) >= o.cfg.EnrichMinChars {
		return c
	}
	if o.deps.Limiter != nil {
		if err := o.deps.Limiter.Wait(ctx, c.Link); err != nil {
			return c
		}
	}
	page, err := o.deps.Pages.FetchArticle(ctx, c.Link)
	if err != nil {
		logger.Debug("article enrichment failed, keeping feed content", zap.Error(err))
		return c
	}
	if text := strings.TrimSpace(page.Text); text != "" {
		c.Content = text
	}
	if c.ImageURL == "" && len(page.Images) > 0 {
		c.ImageURL = page.Images[0].Src
	}
	return c
}

// fingerprint hashes the link, or the title when the link is empty.
func (o *Orchestrator) fingerprint(link, title string) (string, error) {
	key := link
	if key == "" {
		key = title
	}
	return o.deps.Hasher.Hash([]byte(key))
}

// seedFrom derives a stable default-image seed from a hex fingerprint.
func seedFrom(fingerprint string) int64 {
	raw, err := hex.DecodeString(fingerprint)
	if err != nil || len(raw) < 8 {
		return int64(len(fingerprint))
	}
	return int64(binary.BigEndian.Uint64(raw[:8])) //nolint:gosec // wraparound is fine for a seed
}
