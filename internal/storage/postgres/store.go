// Package postgres provides the Postgres-backed pipeline store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

//go:embed schema.sql
var schemaSQL string

var allStatuses = []news.Status{
	news.StatusScraped,
	news.StatusRewritten,
	news.StatusPublished,
	news.StatusRejected,
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of pgxpool.Pool used by Store, satisfied by pgxmock in tests.
type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements news.Store on Postgres.
type Store struct {
	pool dbPool
}

// New connects to Postgres using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const sourceColumns = `id, name, type, url, selectors, is_active, last_scraped_at, total_articles_scraped,
	frequency_minutes, max_articles_per_run, consecutive_errors, last_error, publish_threshold`

const listActiveSourcesSQL = `SELECT ` + sourceColumns + ` FROM sources WHERE is_active ORDER BY name`

const getSourceSQL = `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

// ListActiveSources returns active sources ordered by name.
func (s *Store) ListActiveSources(ctx context.Context) ([]news.Source, error) {
	rows, err := s.pool.Query(ctx, listActiveSourcesSQL)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []news.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// GetSource fetches one source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (news.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx, getSourceSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return news.Source{}, fmt.Errorf("source %s: %w", id, news.ErrNotFound)
	}
	return src, err
}

func scanSource(row pgx.Row) (news.Source, error) {
	var (
		src       news.Source
		kind      string
		selectors []byte
		lastError *string
	)
	err := row.Scan(
		&src.ID,
		&src.Name,
		&kind,
		&src.URL,
		&selectors,
		&src.Active,
		&src.LastScrapedAt,
		&src.TotalArticlesScraped,
		&src.FrequencyMinutes,
		&src.MaxArticlesPerRun,
		&src.ConsecutiveErrors,
		&lastError,
		&src.PublishThreshold,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return news.Source{}, err
		}
		return news.Source{}, fmt.Errorf("scan source: %w", err)
	}
	src.Kind = news.SourceKind(kind)
	if lastError != nil {
		src.LastError = *lastError
	}
	if len(selectors) > 0 {
		if err := json.Unmarshal(selectors, &src.Selectors); err != nil {
			return news.Source{}, fmt.Errorf("decode selectors for %s: %w", src.ID, err)
		}
	}
	return src, nil
}

const upsertSourceSQL = `
INSERT INTO sources (id, name, type, url, selectors, is_active, frequency_minutes, max_articles_per_run, publish_threshold)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	url = EXCLUDED.url,
	selectors = EXCLUDED.selectors,
	is_active = EXCLUDED.is_active,
	frequency_minutes = EXCLUDED.frequency_minutes,
	max_articles_per_run = EXCLUDED.max_articles_per_run,
	publish_threshold = EXCLUDED.publish_threshold`

// UpsertSource inserts or updates the configuration of a source, keeping its run bookkeeping.
func (s *Store) UpsertSource(ctx context.Context, src news.Source) error {
	selectors, err := json.Marshal(src.Selectors)
	if err != nil {
		return fmt.Errorf("encode selectors: %w", err)
	}
	_, err = s.pool.Exec(ctx, upsertSourceSQL,
		src.ID,
		src.Name,
		string(src.Kind),
		src.URL,
		selectors,
		src.Active,
		src.FrequencyMinutes,
		src.MaxArticlesPerRun,
		src.PublishThreshold,
	)
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", src.ID, err)
	}
	return nil
}

const recordSourceRunSQL = `
UPDATE sources SET
	last_scraped_at = $2,
	total_articles_scraped = total_articles_scraped + $3,
	consecutive_errors = CASE WHEN $4::text IS NULL THEN 0 ELSE consecutive_errors + 1 END,
	last_error = $4
WHERE id = $1`

// RecordSourceRun writes run bookkeeping. A failed run increments consecutive_errors; a clean one resets it.
func (s *Store) RecordSourceRun(ctx context.Context, id string, run news.SourceRun) error {
	var lastError *string
	if run.Err != nil {
		msg := run.Err.Error()
		lastError = &msg
	}
	tag, err := s.pool.Exec(ctx, recordSourceRunSQL, id, run.At, run.Scraped, lastError)
	if err != nil {
		return fmt.Errorf("record source run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %s: %w", id, news.ErrNotFound)
	}
	return nil
}

const articleExistsSQL = `SELECT EXISTS (SELECT 1 FROM articles WHERE original_url = $1)`

// ArticleExists reports whether an article with originalURL is stored.
func (s *Store) ArticleExists(ctx context.Context, originalURL string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, articleExistsSQL, originalURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("check article exists: %w", err)
	}
	return exists, nil
}

const insertArticleSQL = `
INSERT INTO articles (
	id,
	source_name,
	source_url,
	original_url,
	original_title,
	original_content,
	original_excerpt,
	original_image_url,
	original_publish_date,
	fingerprint,
	slug,
	stored_image_url,
	status,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (original_url) DO NOTHING`

// InsertArticle stores article. It reports false when original_url already exists.
func (s *Store) InsertArticle(ctx context.Context, article news.Article) (bool, error) {
	if article.ID == "" {
		return false, fmt.Errorf("article id is required")
	}
	tag, err := s.pool.Exec(ctx, insertArticleSQL,
		article.ID,
		article.SourceName,
		article.SourceURL,
		article.OriginalURL,
		article.OriginalTitle,
		article.OriginalContent,
		article.OriginalExcerpt,
		article.OriginalImageURL,
		article.OriginalPublishDate,
		article.Fingerprint,
		article.Slug,
		article.StoredImageURL,
		string(article.Status),
		article.ScrapedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert article: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const saveRewriteSQL = `
UPDATE articles SET
	rewritten_title = $2,
	rewritten_content = $3,
	rewritten_excerpt = $4,
	rewritten_meta_description = $5,
	keywords = $6,
	category = $7,
	confidence_score = $8,
	tokens_used = $9,
	status = $10,
	rewritten_at = $11,
	published_at = CASE WHEN $10 = 'published' THEN $11 ELSE published_at END
WHERE id = $1 AND status = ANY($12)`

const articleStatusSQL = `SELECT status FROM articles WHERE id = $1`

// SaveRewrite attaches rewrite and moves the article to status. Backward moves are rejected.
func (s *Store) SaveRewrite(ctx context.Context, id string, rewrite news.Rewrite, status news.Status, at time.Time) error {
	allowed := allowedFrom(status)
	tag, err := s.pool.Exec(ctx, saveRewriteSQL,
		id,
		rewrite.Title,
		rewrite.Content,
		rewrite.Excerpt,
		rewrite.MetaDescription,
		rewrite.Keywords,
		rewrite.Category,
		rewrite.Confidence,
		rewrite.TokensUsed,
		string(status),
		at,
		allowed,
	)
	if err != nil {
		return fmt.Errorf("save rewrite %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, articleStatusSQL, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("article %s: %w", id, news.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load article status %s: %w", id, err)
	}
	return fmt.Errorf("article %s %s->%s: %w", id, current, status, news.ErrInvalidTransition)
}

func allowedFrom(next news.Status) []string {
	var out []string
	for _, from := range allStatuses {
		if from.CanTransition(next) {
			out = append(out, string(from))
		}
	}
	return out
}

const listPendingRewriteSQL = `
SELECT id, source_name, source_url, original_url, original_title, original_content, original_excerpt,
	original_image_url, original_publish_date, fingerprint, slug, stored_image_url, status, scraped_at
FROM articles
WHERE status = 'scraped' AND rewritten_title IS NULL
ORDER BY scraped_at ASC
LIMIT $1`

// ListPendingRewrite returns scraped articles that never received a rewrite, oldest first.
func (s *Store) ListPendingRewrite(ctx context.Context, limit int) ([]news.Article, error) {
	rows, err := s.pool.Query(ctx, listPendingRewriteSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending articles: %w", err)
	}
	defer rows.Close()

	var out []news.Article
	for rows.Next() {
		var (
			a      news.Article
			status string
		)
		if err := rows.Scan(
			&a.ID,
			&a.SourceName,
			&a.SourceURL,
			&a.OriginalURL,
			&a.OriginalTitle,
			&a.OriginalContent,
			&a.OriginalExcerpt,
			&a.OriginalImageURL,
			&a.OriginalPublishDate,
			&a.Fingerprint,
			&a.Slug,
			&a.StoredImageURL,
			&status,
			&a.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending article: %w", err)
		}
		a.Status = news.Status(status)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending articles: %w", err)
	}
	return out, nil
}

const insertRunLogSQL = `
INSERT INTO scraping_runs (
	id,
	started_at,
	finished_at,
	sources_processed,
	sources_skipped,
	articles_scraped,
	articles_rewritten,
	articles_published,
	errors
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

// InsertRunLog records a run summary.
func (s *Store) InsertRunLog(ctx context.Context, run news.RunLog) error {
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}
	_, err := s.pool.Exec(ctx, insertRunLogSQL,
		run.ID,
		run.StartedAt,
		run.FinishedAt,
		run.SourcesProcessed,
		run.SourcesSkipped,
		run.ArticlesScraped,
		run.ArticlesRewritten,
		run.ArticlesPublished,
		errs,
	)
	if err != nil {
		return fmt.Errorf("insert run log: %w", err)
	}
	return nil
}
