// Package extract turns rendered HTML into candidates and article pages using selector cascades.
package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// DefaultMaxItems caps the number of listing candidates when no limit is supplied.
const DefaultMaxItems = 10

const (
	defaultItem    = "article"
	defaultTitle   = "h2, h3, h1"
	defaultLink    = "a[href]"
	defaultImage   = "img"
	defaultDate    = "time, .date"
	defaultExcerpt = ".excerpt, .summary, p"
)

var genericContainers = []string{
	".articles",
	".news-list",
	"main article",
	`[role="main"] article`,
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
	"02.01.2006",
}

// Listing extracts up to maxItems candidates from a rendered listing page.
// Items without both a title and a link are discarded.
func Listing(markup, pageURL string, sel news.Selectors, maxItems int) ([]news.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	itemSel := firstNonEmpty(sel.Item, defaultItem)
	seen := make(map[string]struct{})
	out := make([]news.Candidate, 0, maxItems)

	for _, item := range listingItems(doc, sel.Container, itemSel) {
		if len(out) >= maxItems {
			break
		}
		candidate, ok := listingCandidate(item, pageURL, sel)
		if !ok {
			continue
		}
		if _, dup := seen[candidate.Link]; dup {
			continue
		}
		seen[candidate.Link] = struct{}{}
		out = append(out, candidate)
	}
	return out, nil
}

// containers walks the container cascade and returns the first selector that matches.
func containers(doc *goquery.Document, configured string) *goquery.Selection {
	cascade := make([]string, 0, len(genericContainers)+1)
	if configured != "" {
		cascade = append(cascade, configured)
	}
	cascade = append(cascade, genericContainers...)
	for _, selector := range cascade {
		if found := doc.Find(selector); found.Length() > 0 {
			return found
		}
	}
	return doc.Find(defaultItem)
}

func listingItems(doc *goquery.Document, container, itemSel string) []*goquery.Selection {
	var items []*goquery.Selection
	containers(doc, container).Each(func(_ int, c *goquery.Selection) {
		if c.Is(itemSel) {
			items = append(items, c)
			return
		}
		children := c.Find(itemSel)
		if children.Length() == 0 {
			items = append(items, c)
			return
		}
		children.Each(func(_ int, s *goquery.Selection) {
			items = append(items, s)
		})
	})
	return items
}

func listingCandidate(item *goquery.Selection, pageURL string, sel news.Selectors) (news.Candidate, bool) {
	title := fieldText(item, sel.Title, defaultTitle)
	link := news.ResolveURL(pageURL, linkHref(item, sel.Link))
	if title == "" || link == "" {
		return news.Candidate{}, false
	}
	excerpt := fieldText(item, sel.Excerpt, defaultExcerpt)
	return news.Candidate{
		Title:       title,
		Link:        link,
		Content:     excerpt,
		Excerpt:     excerpt,
		PublishedAt: fieldDate(item, sel.Date),
		ImageURL:    news.ResolveURL(pageURL, fieldImage(item, sel.Image)),
	}, true
}

// fieldText tries the configured selector before the generic one.
func fieldText(item *goquery.Selection, configured, fallback string) string {
	for _, selector := range []string{configured, fallback} {
		if selector == "" {
			continue
		}
		if text := cleanText(item.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func linkHref(item *goquery.Selection, configured string) string {
	if item.Is("a[href]") {
		return strings.TrimSpace(item.AttrOr("href", ""))
	}
	for _, selector := range []string{configured, defaultLink} {
		if selector == "" {
			continue
		}
		if href := strings.TrimSpace(item.Find(selector).First().AttrOr("href", "")); href != "" {
			return href
		}
	}
	return ""
}

func fieldImage(item *goquery.Selection, configured string) string {
	for _, selector := range []string{configured, defaultImage} {
		if selector == "" {
			continue
		}
		if src := imageSrc(item.Find(selector).First()); src != "" {
			return src
		}
	}
	return ""
}

func fieldDate(item *goquery.Selection, configured string) *time.Time {
	for _, selector := range []string{configured, defaultDate} {
		if selector == "" {
			continue
		}
		node := item.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		raw := strings.TrimSpace(node.AttrOr("datetime", ""))
		if raw == "" {
			raw = cleanText(node.Text())
		}
		if parsed, ok := ParseDate(raw); ok {
			return &parsed
		}
	}
	return nil
}

// ParseDate parses the date formats commonly found on listing pages.
func ParseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func imageSrc(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	if src := strings.TrimSpace(s.AttrOr("src", "")); src != "" && !strings.HasPrefix(src, "data:") {
		return src
	}
	return strings.TrimSpace(s.AttrOr("data-src", ""))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
