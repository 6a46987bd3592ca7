package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// ErrHeadlessDisabled is returned by Noop for every call.
var ErrHeadlessDisabled = errors.New("headless fetcher disabled")

// Noop implements news.PageFetcher when no browser is available.
// Page sources fail at the source level instead of silently returning nothing.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// FetchListing always fails with ErrHeadlessDisabled.
func (Noop) FetchListing(_ context.Context, _ string, _ news.Selectors) ([]news.Candidate, error) {
	return nil, ErrHeadlessDisabled
}

// FetchArticle always fails with ErrHeadlessDisabled.
func (Noop) FetchArticle(_ context.Context, _ string) (news.ArticlePage, error) {
	return news.ArticlePage{}, ErrHeadlessDisabled
}
