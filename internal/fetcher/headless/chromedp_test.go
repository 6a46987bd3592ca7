package headless

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

func stubFetcher(t *testing.T, cfg Config, render renderFunc) *Fetcher {
	t.Helper()
	f, err := NewChromedp(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(f.Close)
	f.render = render
	return f
}

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewChromedp(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	fetcher, err := NewChromedp(Config{MaxParallel: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer fetcher.Close()
	if cap(fetcher.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(fetcher.limiter))
	}
}

func TestFetcherTimeoutDefaults(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	require.Equal(t, 30*time.Second, fetcher.navTimeout())
	require.Equal(t, 10*time.Second, fetcher.containerWait())
	require.Equal(t, 10, fetcher.maxItems())

	fetcher.cfg = Config{NavigationTimeout: time.Second, ContainerWait: 2 * time.Second, MaxItems: 3}
	require.Equal(t, time.Second, fetcher.navTimeout())
	require.Equal(t, 2*time.Second, fetcher.containerWait())
	require.Equal(t, 3, fetcher.maxItems())
}

func TestFetchListingExtractsRenderedDOM(t *testing.T) {
	t.Parallel()

	var gotWait string
	f := stubFetcher(t, Config{MaxItems: 1}, func(_ context.Context, url, waitFor string) (string, error) {
		gotWait = waitFor
		require.Equal(t, "https://www.example.com/lyon", url)
		return `<div class="news">
			<article><h2>Premier</h2><a href="/1">x</a></article>
			<article><h2>Second</h2><a href="/2">x</a></article>
		</div>`, nil
	})

	got, err := f.FetchListing(context.Background(), "https://www.example.com/lyon", news.Selectors{Container: ".news"})
	require.NoError(t, err)
	require.Equal(t, ".news", gotWait)
	require.Len(t, got, 1)
	require.Equal(t, "https://www.example.com/1", got[0].Link)
}

func TestFetchArticleExtractsContent(t *testing.T) {
	t.Parallel()

	f := stubFetcher(t, Config{}, func(_ context.Context, _, waitFor string) (string, error) {
		require.Empty(t, waitFor)
		return `<html><body><article><h1>Titre</h1><p>Corps du texte</p></article></body></html>`, nil
	})

	got, err := f.FetchArticle(context.Background(), "https://www.example.com/a")
	require.NoError(t, err)
	require.Equal(t, "Titre", got.Title)
	require.Contains(t, got.Text, "Corps du texte")
}

func TestFetchRenderErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	f := stubFetcher(t, Config{MaxParallel: 1}, func(context.Context, string, string) (string, error) {
		calls.Add(1)
		return "", context.DeadlineExceeded
	})

	for i := 0; i < 3; i++ {
		_, err := f.FetchListing(context.Background(), "https://www.example.com", news.Selectors{})
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}
	require.Equal(t, int32(3), calls.Load())
	require.Empty(t, f.limiter)
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	f := &Fetcher{limiter: make(chan struct{}, 1)}
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	fetcher := NewNoop()
	_, err := fetcher.FetchListing(context.Background(), "https://www.example.com", news.Selectors{})
	require.True(t, errors.Is(err, ErrHeadlessDisabled))
	_, err = fetcher.FetchArticle(context.Background(), "https://www.example.com")
	require.ErrorIs(t, err, ErrHeadlessDisabled)
}
