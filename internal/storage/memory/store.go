package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// Store implements news.Store in memory. Source order follows insertion.
type Store struct {
	mu       sync.RWMutex
	order    []string
	sources  map[string]news.Source
	articles map[string]news.Article
	byURL    map[string]string
	inserted []string
	runs     []news.RunLog
}

// NewStore constructs a Store seeded with sources.
func NewStore(sources ...news.Source) *Store {
	s := &Store{
		sources:  make(map[string]news.Source),
		articles: make(map[string]news.Article),
		byURL:    make(map[string]string),
	}
	for _, src := range sources {
		s.PutSource(src)
	}
	return s
}

// PutSource inserts or replaces a source.
func (s *Store) PutSource(src news.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; !ok {
		s.order = append(s.order, src.ID)
	}
	s.sources[src.ID] = src
}

// ListActiveSources returns active sources in insertion order.
func (s *Store) ListActiveSources(_ context.Context) ([]news.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Source, 0, len(s.order))
	for _, id := range s.order {
		if src := s.sources[id]; src.Active {
			out = append(out, src)
		}
	}
	return out, nil
}

// GetSource fetches a source by ID.
func (s *Store) GetSource(_ context.Context, id string) (news.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return news.Source{}, fmt.Errorf("source %s: %w", id, news.ErrNotFound)
	}
	return src, nil
}

// RecordSourceRun updates the scrape bookkeeping of a source.
func (s *Store) RecordSourceRun(_ context.Context, id string, run news.SourceRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, news.ErrNotFound)
	}
	at := run.At
	src.LastScrapedAt = &at
	src.TotalArticlesScraped += run.Scraped
	if run.Err != nil {
		src.ConsecutiveErrors++
		src.LastError = run.Err.Error()
	} else {
		src.ConsecutiveErrors = 0
		src.LastError = ""
	}
	s.sources[id] = src
	return nil
}

// ArticleExists reports whether an article with originalURL is stored.
func (s *Store) ArticleExists(_ context.Context, originalURL string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[originalURL]
	return ok, nil
}

// InsertArticle stores article unless its original URL is already present.
func (s *Store) InsertArticle(_ context.Context, article news.Article) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[article.OriginalURL]; ok {
		return false, nil
	}
	s.articles[article.ID] = article
	s.byURL[article.OriginalURL] = article.ID
	s.inserted = append(s.inserted, article.ID)
	return true, nil
}

// SaveRewrite attaches a rewrite and moves the article forward to status.
func (s *Store) SaveRewrite(_ context.Context, id string, rewrite news.Rewrite, status news.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return fmt.Errorf("article %s: %w", id, news.ErrNotFound)
	}
	if !article.Status.CanTransition(status) {
		return fmt.Errorf("article %s %s->%s: %w", id, article.Status, status, news.ErrInvalidTransition)
	}
	rw := rewrite
	rw.Keywords = append([]string(nil), rewrite.Keywords...)
	ts := at
	article.Rewrite = &rw
	article.Status = status
	article.RewrittenAt = &ts
	if status == news.StatusPublished {
		article.PublishedAt = &ts
	}
	s.articles[id] = article
	return nil
}

// ListPendingRewrite returns scraped articles without a rewrite, oldest first.
func (s *Store) ListPendingRewrite(_ context.Context, limit int) ([]news.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []news.Article
	for _, id := range s.inserted {
		article := s.articles[id]
		if article.Status == news.StatusScraped && article.Rewrite == nil {
			out = append(out, article)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScrapedAt.Before(out[j].ScrapedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertRunLog appends a run summary.
func (s *Store) InsertRunLog(_ context.Context, run news.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run.Errors = append([]string(nil), run.Errors...)
	s.runs = append(s.runs, run)
	return nil
}

// Articles returns stored articles in insertion order.
func (s *Store) Articles() []news.Article {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]news.Article, 0, len(s.inserted))
	for _, id := range s.inserted {
		out = append(out, s.articles[id])
	}
	return out
}

// RunLogs returns recorded run summaries.
func (s *Store) RunLogs() []news.RunLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]news.RunLog(nil), s.runs...)
}
