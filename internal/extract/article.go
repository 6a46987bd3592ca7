package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

var contentSelectors = []string{
	"article",
	`[role="main"]`,
	".article-content",
	".entry-content",
	".post-content",
	".content-article",
	"main article",
	"#content",
}

const junkSelector = `script, style, iframe, nav, .ads, .advertisement, .social-share, .comments, ` +
	`.related-articles, .newsletter, [class*="share"], [class*="comment"]`

// Article extracts the main content of a rendered article page.
// Selector misses degrade to readability and finally to the page title and body text.
func Article(markup, pageURL string) (news.ArticlePage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return news.ArticlePage{}, fmt.Errorf("parse article html: %w", err)
	}

	if page, ok := fromSelectors(doc, pageURL); ok {
		return page, nil
	}
	if page, ok := fromReadability(markup, pageURL); ok {
		return page, nil
	}
	return news.ArticlePage{
		URL:   pageURL,
		Title: cleanText(doc.Find("title").First().Text()),
		Text:  cleanText(doc.Find("body").Text()),
	}, nil
}

func fromSelectors(doc *goquery.Document, pageURL string) (news.ArticlePage, bool) {
	for _, selector := range contentSelectors {
		node := doc.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		content := node.Clone()
		content.Find(junkSelector).Remove()

		text := cleanText(content.Text())
		if text == "" {
			continue
		}
		body, err := content.Html()
		if err != nil {
			continue
		}
		return news.ArticlePage{
			URL:    pageURL,
			Title:  articleTitle(doc, content),
			HTML:   strings.TrimSpace(body),
			Text:   text,
			Images: articleImages(content, pageURL),
		}, true
	}
	return news.ArticlePage{}, false
}

func fromReadability(markup, pageURL string) (news.ArticlePage, bool) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return news.ArticlePage{}, false
	}
	article, err := readability.FromReader(strings.NewReader(markup), parsed)
	if err != nil {
		return news.ArticlePage{}, false
	}
	text := cleanText(article.TextContent)
	if text == "" {
		return news.ArticlePage{}, false
	}
	page := news.ArticlePage{
		URL:   pageURL,
		Title: strings.TrimSpace(article.Title),
		HTML:  strings.TrimSpace(article.Content),
		Text:  text,
	}
	if body, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); err == nil {
		page.Images = articleImages(body.Selection, pageURL)
	}
	return page, true
}

func articleTitle(doc *goquery.Document, content *goquery.Selection) string {
	if title := cleanText(content.Find("h1").First().Text()); title != "" {
		return title
	}
	if title := cleanText(doc.Find("h1").First().Text()); title != "" {
		return title
	}
	return cleanText(doc.Find("title").First().Text())
}

func articleImages(content *goquery.Selection, pageURL string) []news.ArticleImage {
	var images []news.ArticleImage
	content.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := news.ResolveURL(pageURL, imageSrc(s))
		if src == "" {
			return
		}
		images = append(images, news.ArticleImage{
			Src:     src,
			Alt:     strings.TrimSpace(s.AttrOr("alt", "")),
			Caption: cleanText(s.Closest("figure").Find("figcaption").First().Text()),
		})
	})
	return images
}
