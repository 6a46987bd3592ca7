// Package headless renders JavaScript-heavy pages via chromedp and hands the DOM to extract.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/extract"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

const (
	defaultNavTimeout    = 30 * time.Second
	defaultContainerWait = 10 * time.Second
	networkIdleEvent     = "networkIdle"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	ContainerWait     time.Duration
	MaxItems          int
}

// renderFunc loads url and returns the rendered outer HTML.
type renderFunc func(ctx context.Context, url, waitFor string) (string, error)

// Fetcher implements news.PageFetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	render      renderFunc
	logger      *zap.Logger
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	f := &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
	f.render = f.renderChrome
	return f, nil
}

// Close cancels the allocator context and shuts the browser down.
func (f *Fetcher) Close() {
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// FetchListing renders a listing page and extracts up to MaxItems candidates.
func (f *Fetcher) FetchListing(ctx context.Context, pageURL string, selectors news.Selectors) ([]news.Candidate, error) {
	html, err := f.fetch(ctx, pageURL, selectors.Container)
	if err != nil {
		return nil, err
	}
	candidates, err := extract.Listing(html, pageURL, selectors, f.maxItems())
	if err != nil {
		return nil, fmt.Errorf("extract listing %s: %w", pageURL, err)
	}
	f.logger.Debug("listing rendered",
		zap.String("url", pageURL),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// FetchArticle renders a single article and extracts its main content.
func (f *Fetcher) FetchArticle(ctx context.Context, articleURL string) (news.ArticlePage, error) {
	html, err := f.fetch(ctx, articleURL, "")
	if err != nil {
		return news.ArticlePage{}, err
	}
	article, err := extract.Article(html, articleURL)
	if err != nil {
		return news.ArticlePage{}, fmt.Errorf("extract article %s: %w", articleURL, err)
	}
	return article, nil
}

func (f *Fetcher) fetch(ctx context.Context, url, waitFor string) (string, error) {
	if err := f.acquire(ctx); err != nil {
		return "", err
	}
	defer f.release()

	start := time.Now()
	html, err := f.render(ctx, url, waitFor)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	f.logger.Debug("page rendered",
		zap.String("url", url),
		zap.Duration("duration", time.Since(start)),
		zap.Int("bytes", len(html)),
	)
	return html, nil
}

func (f *Fetcher) renderChrome(ctx context.Context, url, waitFor string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	// Parent cancellation must still reach the tab.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	// Start the tab on the undeadlined context so later timeouts only abort actions.
	if err := chromedp.Run(taskCtx); err != nil {
		return "", fmt.Errorf("chromedp start: %w", err)
	}

	idle := make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(taskCtx, func(ev any) {
		if e, ok := ev.(*page.EventLifecycleEvent); ok && e.Name == networkIdleEvent {
			once.Do(func() { close(idle) })
		}
	})

	navCtx, navCancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer navCancel()

	setup := chromedp.ActionFunc(func(ctx context.Context) error {
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
	if err := chromedp.Run(navCtx, setup, chromedp.Navigate(url)); err != nil {
		return "", fmt.Errorf("chromedp navigate: %w", err)
	}

	select {
	case <-idle:
	case <-navCtx.Done():
		if ctx.Err() != nil {
			return "", fmt.Errorf("render canceled: %w", ctx.Err())
		}
		f.logger.Debug("network idle not reached", zap.String("url", url))
	}

	if waitFor != "" {
		f.waitForContainer(taskCtx, url, waitFor)
	}

	snapCtx, snapCancel := context.WithTimeout(taskCtx, f.navTimeout())
	defer snapCancel()

	var html string
	if err := chromedp.Run(snapCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("chromedp outer html: %w", err)
	}
	return html, nil
}

// waitForContainer gives the configured container a bounded chance to appear. Misses are not fatal.
func (f *Fetcher) waitForContainer(ctx context.Context, url, selector string) {
	waitCtx, cancel := context.WithTimeout(ctx, f.containerWait())
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		f.logger.Debug("container not visible",
			zap.String("url", url),
			zap.String("selector", selector),
			zap.Error(err),
		)
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

func (f *Fetcher) containerWait() time.Duration {
	if f.cfg.ContainerWait > 0 {
		return f.cfg.ContainerWait
	}
	return defaultContainerWait
}

func (f *Fetcher) maxItems() int {
	if f.cfg.MaxItems > 0 {
		return f.cfg.MaxItems
	}
	return extract.DefaultMaxItems
}
