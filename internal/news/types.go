// Package news defines the domain types and ports shared across the ingestion pipeline.
package news

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores when a lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change would move an article backward.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// SourceKind selects which fetcher handles a source.
type SourceKind string

// Supported source kinds.
const (
	SourceKindFeed SourceKind = "feed"
	SourceKindPage SourceKind = "page"
)

// Status is the lifecycle state of a persisted article.
type Status string

// Article status values persisted in the store.
const (
	StatusScraped   Status = "scraped"
	StatusRewritten Status = "rewritten"
	StatusPublished Status = "published"
	StatusRejected  Status = "rejected"
)

// CanTransition reports whether an article may move from s to next.
// Articles never move backward and terminal states are final.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusScraped:
		return next == StatusRewritten || next == StatusPublished || next == StatusRejected
	case StatusRewritten:
		return next == StatusRejected
	default:
		return false
	}
}

// Selectors configures the CSS selectors used to scrape listing pages.
// Empty fields fall back to generic defaults.
type Selectors struct {
	Container string `json:"container,omitempty" mapstructure:"container"`
	Item      string `json:"item,omitempty" mapstructure:"item"`
	Title     string `json:"title,omitempty" mapstructure:"title"`
	Link      string `json:"link,omitempty" mapstructure:"link"`
	Image     string `json:"image,omitempty" mapstructure:"image"`
	Date      string `json:"date,omitempty" mapstructure:"date"`
	Excerpt   string `json:"excerpt,omitempty" mapstructure:"excerpt"`
}

// Source is a configured origin polled by the pipeline.
type Source struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	Kind                 SourceKind `json:"type"`
	URL                  string     `json:"url"`
	Selectors            Selectors  `json:"selectors"`
	Active               bool       `json:"is_active"`
	LastScrapedAt        *time.Time `json:"last_scraped_at,omitempty"`
	TotalArticlesScraped int        `json:"total_articles_scraped"`
	FrequencyMinutes     int        `json:"frequency_minutes"`
	MaxArticlesPerRun    int        `json:"max_articles_per_run"`
	ConsecutiveErrors    int        `json:"consecutive_errors"`
	LastError            string     `json:"last_error,omitempty"`
	PublishThreshold     *float64   `json:"publish_threshold,omitempty"`
}

// Candidate is a transient article extracted from a feed or page.
type Candidate struct {
	Title       string
	Link        string
	Content     string
	Excerpt     string
	PublishedAt *time.Time
	ImageURL    string
}

// ArticleImage is an image found inside an article body.
type ArticleImage struct {
	Src     string `json:"src"`
	Alt     string `json:"alt,omitempty"`
	Caption string `json:"caption,omitempty"`
}

// ArticlePage is the cleaned content of a single article page.
type ArticlePage struct {
	URL    string
	Title  string
	HTML   string
	Text   string
	Images []ArticleImage
}

// Rewrite is the structured output of the rewrite stage.
type Rewrite struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Content         string   `json:"content"`
	Excerpt         string   `json:"excerpt"`
	Keywords        []string `json:"keywords"`
	Category        string   `json:"category"`
	Confidence      float64  `json:"confidence"`
	TokensUsed      int      `json:"tokens_used"`
}

// RewriteInput is what the rewrite stage needs from an article.
type RewriteInput struct {
	Title       string
	Content     string
	PublishedAt time.Time
}

// Article is the durable unit persisted by the pipeline.
type Article struct {
	ID                  string     `json:"id"`
	SourceName          string     `json:"source_name"`
	SourceURL           string     `json:"source_url"`
	OriginalURL         string     `json:"original_url"`
	OriginalTitle       string     `json:"original_title"`
	OriginalContent     string     `json:"original_content"`
	OriginalExcerpt     string     `json:"original_excerpt"`
	OriginalImageURL    string     `json:"original_image_url,omitempty"`
	OriginalPublishDate time.Time  `json:"original_publish_date"`
	Fingerprint         string     `json:"fingerprint"`
	Slug                string     `json:"slug"`
	StoredImageURL      string     `json:"stored_image_url"`
	Rewrite             *Rewrite   `json:"rewrite,omitempty"`
	Status              Status     `json:"status"`
	ScrapedAt           time.Time  `json:"scraped_at"`
	RewrittenAt         *time.Time `json:"rewritten_at,omitempty"`
	PublishedAt         *time.Time `json:"published_at,omitempty"`
}

// ImageRequest asks the image capture service for a durable image URL.
type ImageRequest struct {
	URL      string
	Slug     string
	Category string
	Seed     int64
}

// SourceRun is the bookkeeping written back to a source after it is processed.
type SourceRun struct {
	At      time.Time
	Scraped int
	Err     error
}

// Counts is the result of processing one or more sources.
type Counts struct {
	Scraped   int `json:"scraped_count"`
	Published int `json:"published_count"`
}

// Add accumulates other into c.
func (c *Counts) Add(other Counts) {
	c.Scraped += other.Scraped
	c.Published += other.Published
}

// RunLog summarizes a full ProcessAll run.
type RunLog struct {
	ID                string    `json:"id"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	SourcesProcessed  int       `json:"sources_processed"`
	SourcesSkipped    int       `json:"sources_skipped"`
	ArticlesScraped   int       `json:"articles_scraped"`
	ArticlesRewritten int       `json:"articles_rewritten"`
	ArticlesPublished int       `json:"articles_published"`
	Errors            []string  `json:"errors,omitempty"`
}

// RunResult is returned by ProcessAll.
type RunResult struct {
	Counts
	Run RunLog `json:"run"`
}

// SweepResult reports a retention sweep over stored images.
type SweepResult struct {
	Scanned int `json:"scanned"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Event is published when an article reaches a notable state.
type Event struct {
	Type        string    `json:"type"`
	ArticleID   string    `json:"article_id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	OriginalURL string    `json:"original_url"`
	ImageURL    string    `json:"image_url"`
	Confidence  float64   `json:"confidence"`
	At          time.Time `json:"at"`
}
