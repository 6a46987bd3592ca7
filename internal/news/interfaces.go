package news

import (
	"context"
	"io"
	"time"
)

// FeedFetcher parses a syndication feed into candidates.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]Candidate, error)
}

// PageFetcher renders listing and article pages with a browser.
type PageFetcher interface {
	FetchListing(ctx context.Context, pageURL string, selectors Selectors) ([]Candidate, error)
	FetchArticle(ctx context.Context, articleURL string) (ArticlePage, error)
}

// ImageCapturer resolves a durable image URL. It never fails; it falls back to a default image.
type ImageCapturer interface {
	Capture(ctx context.Context, req ImageRequest) string
}

// Rewriter turns an original article into a structured rewrite.
type Rewriter interface {
	Rewrite(ctx context.Context, in RewriteInput) (Rewrite, error)
}

// Validator decides whether a rewrite is publish-ready.
type Validator interface {
	Validate(r Rewrite) error
}

// SourceStore reads and updates configured sources.
type SourceStore interface {
	ListActiveSources(ctx context.Context) ([]Source, error)
	GetSource(ctx context.Context, id string) (Source, error)
	RecordSourceRun(ctx context.Context, id string, run SourceRun) error
}

// ArticleStore persists articles. InsertArticle reports false when the original URL already exists.
type ArticleStore interface {
	ArticleExists(ctx context.Context, originalURL string) (bool, error)
	InsertArticle(ctx context.Context, article Article) (bool, error)
	SaveRewrite(ctx context.Context, id string, rewrite Rewrite, status Status, at time.Time) error
	ListPendingRewrite(ctx context.Context, limit int) ([]Article, error)
}

// RunLogStore records run summaries.
type RunLogStore interface {
	InsertRunLog(ctx context.Context, run RunLog) error
}

// Store is the full persistence port used by the orchestrator.
type Store interface {
	SourceStore
	ArticleStore
	RunLogStore
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Name    string
	Created time.Time
	Size    int64
}

// PutOptions carries optional object metadata.
type PutOptions struct {
	CacheControl string
}

// ObjectStore is durable storage for captured images.
type ObjectStore interface {
	// Find looks for an object under prefix whose base name starts with namePrefix.
	Find(ctx context.Context, prefix, namePrefix string) (string, bool, error)
	Put(ctx context.Context, path, contentType string, r io.Reader, opts PutOptions) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RateLimiter throttles outbound requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces article and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
