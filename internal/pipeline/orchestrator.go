// Package pipeline coordinates fetching, deduplication, image capture, rewriting and publishing per source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/metrics"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
	"github.com/JakeFAU/localnews-pipeline/internal/telemetry"
)

// ErrRunInProgress is returned when a run is triggered while another one is executing.
var ErrRunInProgress = errors.New("pipeline run in progress")

// EventArticlePublished is the event type emitted when an article is auto-published.
const EventArticlePublished = "article.published"

const defaultBatchSize = 5

// Config tunes orchestration. A zero PublishThreshold publishes every valid rewrite.
type Config struct {
	Concurrency          int
	BatchSize            int
	PublishThreshold     float64
	RejectBelow          float64
	AutoPublish          bool
	MaxConsecutiveErrors int
	RunTimeout           time.Duration
	EnrichFromArticle    bool
	EnrichMinChars       int
}

// Deps are the collaborators used by the orchestrator. Publisher and Limiter are optional.
type Deps struct {
	Store     news.Store
	Feeds     news.FeedFetcher
	Pages     news.PageFetcher
	Images    news.ImageCapturer
	Rewriter  news.Rewriter
	Validator news.Validator
	Publisher news.Publisher
	Limiter   news.RateLimiter
	Hasher    news.Hasher
	IDs       news.IDGenerator
	Clock     news.Clock
}

// Orchestrator runs the ingestion pipeline. Only one run executes at a time.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	running atomic.Bool
}

// New validates dependencies and fills config defaults.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required")
	case deps.Feeds == nil:
		return nil, fmt.Errorf("feed fetcher is required")
	case deps.Pages == nil:
		return nil, fmt.Errorf("page fetcher is required")
	case deps.Images == nil:
		return nil, fmt.Errorf("image capturer is required")
	case deps.Rewriter == nil:
		return nil, fmt.Errorf("rewriter is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("validator is required")
	case deps.Hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	case deps.IDs == nil:
		return nil, fmt.Errorf("id generator is required")
	case deps.Clock == nil:
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PublishThreshold < 0 || cfg.PublishThreshold > 1 {
		return nil, fmt.Errorf("publish threshold %v outside [0,1]", cfg.PublishThreshold)
	}
	metrics.Init()
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger}, nil
}

// sourceResult is the outcome of one source within a run.
type sourceResult struct {
	counts    news.Counts
	rewritten int
	err       error
	skipped   bool
}

// ProcessAll processes every active, due source. Only a failure to list sources aborts the run.
func (o *Orchestrator) ProcessAll(ctx context.Context) (news.RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return news.RunResult{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	start := o.deps.Clock.Now()
	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return news.RunResult{}, fmt.Errorf("generate run id: %w", err)
	}

	ctx, cancel := o.withRunTimeout(ctx)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.ProcessAll")
	defer span.End()

	sources, err := o.deps.Store.ListActiveSources(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list sources")
		return news.RunResult{}, fmt.Errorf("list active sources: %w", err)
	}

	run := news.RunLog{ID: runID, StartedAt: start}
	due := make([]news.Source, 0, len(sources))
	for _, src := range sources {
		if reason := o.skipReason(src, start); reason != "" {
			o.logger.Info("source skipped", zap.String("source", src.Name), zap.String("reason", reason))
			metrics.ObserveSourceRun(src.URL, "skipped")
			run.SourcesSkipped++
			continue
		}
		due = append(due, src)
	}

	results := o.fanOut(ctx, due)

	var total news.Counts
	for i, res := range results {
		if res.skipped {
			run.SourcesSkipped++
			continue
		}
		run.SourcesProcessed++
		run.ArticlesRewritten += res.rewritten
		total.Add(res.counts)
		if res.err != nil {
			run.Errors = append(run.Errors, fmt.Sprintf("%s: %v", due[i].Name, res.err))
		}
	}
	run.ArticlesScraped = total.Scraped
	run.ArticlesPublished = total.Published
	run.FinishedAt = o.deps.Clock.Now()

	// The run context may be expired; the log is written regardless.
	if err := o.deps.Store.InsertRunLog(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error("insert run log failed", zap.String("run_id", runID), zap.Error(err))
	}
	metrics.ObserveRun(run.FinishedAt.Sub(start))
	span.SetAttributes(
		attribute.Int("sources.processed", run.SourcesProcessed),
		attribute.Int("articles.scraped", total.Scraped),
		attribute.Int("articles.published", total.Published),
	)
	o.logger.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("sources_processed", run.SourcesProcessed),
		zap.Int("sources_skipped", run.SourcesSkipped),
		zap.Int("scraped", total.Scraped),
		zap.Int("published", total.Published),
		zap.Int("errors", len(run.Errors)),
	)
	return news.RunResult{Counts: total, Run: run}, nil
}

// ProcessSource processes a single source immediately, ignoring frequency and error gating.
func (o *Orchestrator) ProcessSource(ctx context.Context, sourceID string) (news.Counts, error) {
	if !o.running.CompareAndSwap(false, true) {
		return news.Counts{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	ctx, cancel := o.withRunTimeout(ctx)
	defer cancel()
	src, err := o.deps.Store.GetSource(ctx, sourceID)
	if err != nil {
		return news.Counts{}, fmt.Errorf("get source %s: %w", sourceID, err)
	}
	res := o.runSource(ctx, src)
	if res.err != nil {
		return res.counts, fmt.Errorf("process source %s: %w", src.Name, res.err)
	}
	return res.counts, nil
}

// RetryPending re-runs rewrite, validation and gating for articles left in scraped status.
func (o *Orchestrator) RetryPending(ctx context.Context, limit int) (news.Counts, error) {
	if !o.running.CompareAndSwap(false, true) {
		return news.Counts{}, ErrRunInProgress
	}
	defer o.running.Store(false)

	ctx, cancel := o.withRunTimeout(ctx)
	defer cancel()
	pending, err := o.deps.Store.ListPendingRewrite(ctx, limit)
	if err != nil {
		return news.Counts{}, fmt.Errorf("list pending articles: %w", err)
	}
	var counts news.Counts
	for _, article := range pending {
		if ctx.Err() != nil {
			break
		}
		status, ok := o.rewriteArticle(ctx, article, o.cfg.PublishThreshold)
		if ok && status == news.StatusPublished {
			counts.Published++
		}
	}
	o.logger.Info("pending rewrites retried", zap.Int("pending", len(pending)), zap.Int("published", counts.Published))
	return counts, nil
}

// withRunTimeout bounds a run by RunTimeout when one is configured.
func (o *Orchestrator) withRunTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.RunTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.RunTimeout)
	}
	return context.WithCancel(ctx)
}

// fanOut runs sources over a bounded worker pool. Sources not started before ctx ends are marked skipped.
func (o *Orchestrator) fanOut(ctx context.Context, sources []news.Source) []sourceResult {
	results := make([]sourceResult, len(sources))
	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := min(o.cfg.Concurrency, len(sources))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if ctx.Err() != nil {
					results[i] = sourceResult{skipped: true}
					continue
				}
				metrics.IncActiveWorkers()
				results[i] = o.runSource(ctx, sources[i])
				metrics.DecActiveWorkers()
			}
		}()
	}
	for i := range sources {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

func (o *Orchestrator) skipReason(src news.Source, now time.Time) string {
	if o.cfg.MaxConsecutiveErrors > 0 && src.ConsecutiveErrors >= o.cfg.MaxConsecutiveErrors {
		return "too many consecutive errors"
	}
	if src.FrequencyMinutes > 0 && src.LastScrapedAt != nil &&
		now.Sub(*src.LastScrapedAt) < time.Duration(src.FrequencyMinutes)*time.Minute {
		return "not due"
	}
	return ""
}

// runSource fetches and processes one source, then records bookkeeping whatever the outcome.
func (o *Orchestrator) runSource(ctx context.Context, src news.Source) sourceResult {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.source")
	defer span.End()
	span.SetAttributes(attribute.String("source.id", src.ID), attribute.String("source.kind", string(src.Kind)))

	logger := o.logger.With(zap.String("source", src.Name), zap.String("source_id", src.ID))
	var res sourceResult

	candidates, err := o.fetch(ctx, src)
	if err != nil {
		res.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch")
		logger.Warn("source fetch failed", zap.String("url", src.URL), zap.Error(err))
	} else {
		limit := o.cfg.BatchSize
		if src.MaxArticlesPerRun > 0 {
			limit = src.MaxArticlesPerRun
		}
		threshold := o.cfg.PublishThreshold
		if src.PublishThreshold != nil {
			threshold = *src.PublishThreshold
		}
		// Known articles do not count against the limit, so a backlog drains over later runs.
		attempted := 0
		for _, c := range candidates {
			if attempted >= limit || ctx.Err() != nil {
				break
			}
			if o.processCandidate(ctx, src, c, threshold, &res, logger) {
				attempted++
			}
		}
	}

	outcome := "ok"
	if res.err != nil {
		outcome = "error"
	}
	metrics.ObserveSourceRun(src.URL, outcome)

	run := news.SourceRun{At: o.deps.Clock.Now(), Scraped: res.counts.Scraped, Err: res.err}
	if err := o.deps.Store.RecordSourceRun(context.WithoutCancel(ctx), src.ID, run); err != nil {
		logger.Error("record source run failed", zap.Error(err))
	}
	logger.Info("source processed",
		zap.Int("scraped", res.counts.Scraped),
		zap.Int("published", res.counts.Published),
		zap.Bool("failed", res.err != nil),
	)
	return res
}

func (o *Orchestrator) fetch(ctx context.Context, src news.Source) ([]news.Candidate, error) {
	if o.deps.Limiter != nil {
		if err := o.deps.Limiter.Wait(ctx, src.URL); err != nil {
			return nil, err
		}
	}
	switch src.Kind {
	case news.SourceKindFeed:
		items, err := o.deps.Feeds.Fetch(ctx, src.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch feed: %w", err)
		}
		return items, nil
	case news.SourceKindPage:
		items, err := o.deps.Pages.FetchListing(ctx, src.URL, src.Selectors)
		if err != nil {
			return nil, fmt.Errorf("fetch listing: %w", err)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", src.Kind)
	}
}
