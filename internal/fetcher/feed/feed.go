// Package feed parses RSS and Atom feeds into candidate articles.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

const httpPrefix = "http"

// Config controls the feed fetcher.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements news.FeedFetcher using gofeed.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Fetch downloads and parses feedURL, returning one candidate per usable item in feed order.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]news.Candidate, error) {
	parser := gofeed.NewParser()
	parser.Client = f.client
	if f.cfg.UserAgent != "" {
		parser.UserAgent = f.cfg.UserAgent
	}

	parsed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	candidates := make([]news.Candidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		candidate, ok := toCandidate(feedURL, item)
		if !ok {
			f.logger.Debug("feed item skipped",
				zap.String("feed", feedURL),
				zap.String("title", item.Title),
				zap.String("guid", item.GUID),
			)
			continue
		}
		candidates = append(candidates, candidate)
	}
	f.logger.Debug("feed parsed",
		zap.String("feed", feedURL),
		zap.Int("items", len(parsed.Items)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

func toCandidate(feedURL string, item *gofeed.Item) (news.Candidate, bool) {
	if item == nil {
		return news.Candidate{}, false
	}
	title := strings.TrimSpace(item.Title)
	link := news.ResolveURL(feedURL, extractLink(item))
	if title == "" || link == "" {
		return news.Candidate{}, false
	}

	content := item.Content
	if strings.TrimSpace(content) == "" {
		content = item.Description
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}

	return news.Candidate{
		Title:       title,
		Link:        link,
		Content:     strings.TrimSpace(content),
		Excerpt:     markupText(item.Description),
		PublishedAt: published,
		ImageURL:    news.ResolveURL(feedURL, leadImage(item)),
	}, true
}

// extractLink prefers the explicit link and falls back to a GUID that looks like a URL.
func extractLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	for _, l := range item.Links {
		if strings.TrimSpace(l) != "" {
			return strings.TrimSpace(l)
		}
	}
	if strings.HasPrefix(item.GUID, httpPrefix) {
		return item.GUID
	}
	return ""
}

// leadImage walks the image sources in priority order and returns the first hit.
func leadImage(item *gofeed.Item) string {
	sources := []func(*gofeed.Item) string{
		enclosureImage,
		mediaImage("content"),
		mediaImage("thumbnail"),
		itemImage,
		func(it *gofeed.Item) string { return firstImg(it.Description) },
		func(it *gofeed.Item) string { return firstImg(it.Content) },
	}
	for _, source := range sources {
		if u := strings.TrimSpace(source(item)); u != "" {
			return u
		}
	}
	return ""
}

func enclosureImage(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if enc.Type == "" || strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

func mediaImage(name string) func(*gofeed.Item) string {
	return func(item *gofeed.Item) string {
		media, ok := item.Extensions["media"]
		if !ok {
			return ""
		}
		if u := firstExtensionURL(media[name]); u != "" {
			return u
		}
		for _, group := range media["group"] {
			if u := firstExtensionURL(group.Children[name]); u != "" {
				return u
			}
		}
		return ""
	}
}

func firstExtensionURL(entries []ext.Extension) string {
	for _, e := range entries {
		if u := e.Attrs["url"]; u != "" {
			return u
		}
	}
	return ""
}

func itemImage(item *gofeed.Item) string {
	if item.Image == nil {
		return ""
	}
	return item.Image.URL
}

func firstImg(markup string) string {
	if !strings.Contains(markup, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	var src string
	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src = s.AttrOr("src", s.AttrOr("data-src", ""))
		return strings.TrimSpace(src) == ""
	})
	return src
}

func markupText(markup string) string {
	markup = strings.TrimSpace(markup)
	if markup == "" || !strings.Contains(markup, "<") {
		return markup
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return markup
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
