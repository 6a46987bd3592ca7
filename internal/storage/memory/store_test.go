package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/localnews-pipeline/internal/clock"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

func TestStoreSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore(
		news.Source{ID: "b", Name: "B", Active: true},
		news.Source{ID: "a", Name: "A", Active: false},
		news.Source{ID: "c", Name: "C", Active: true},
	)

	active, err := store.ListActiveSources(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	require.Equal(t, "b", active[0].ID)
	require.Equal(t, "c", active[1].ID)

	_, err = store.GetSource(ctx, "zzz")
	require.ErrorIs(t, err, news.ErrNotFound)

	at := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordSourceRun(ctx, "b", news.SourceRun{At: at, Err: errors.New("timeout")}))
	require.NoError(t, store.RecordSourceRun(ctx, "b", news.SourceRun{At: at, Err: errors.New("timeout")}))
	src, err := store.GetSource(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, 2, src.ConsecutiveErrors)
	require.Equal(t, "timeout", src.LastError)

	require.NoError(t, store.RecordSourceRun(ctx, "b", news.SourceRun{At: at.Add(time.Hour), Scraped: 3}))
	src, err = store.GetSource(ctx, "b")
	require.NoError(t, err)
	require.Zero(t, src.ConsecutiveErrors)
	require.Empty(t, src.LastError)
	require.Equal(t, 3, src.TotalArticlesScraped)
	require.Equal(t, at.Add(time.Hour), *src.LastScrapedAt)

	require.ErrorIs(t, store.RecordSourceRun(ctx, "zzz", news.SourceRun{}), news.ErrNotFound)
}

func TestStoreArticleLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	inserted, err := store.InsertArticle(ctx, news.Article{ID: "2", OriginalURL: "https://x/2", Status: news.StatusScraped, ScrapedAt: base.Add(time.Minute)})
	require.NoError(t, err)
	require.True(t, inserted)
	inserted, err = store.InsertArticle(ctx, news.Article{ID: "1", OriginalURL: "https://x/1", Status: news.StatusScraped, ScrapedAt: base})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.InsertArticle(ctx, news.Article{ID: "dup", OriginalURL: "https://x/1"})
	require.NoError(t, err)
	require.False(t, inserted)

	exists, err := store.ArticleExists(ctx, "https://x/1")
	require.NoError(t, err)
	require.True(t, exists)

	pending, err := store.ListPendingRewrite(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "1", pending[0].ID)

	rw := news.Rewrite{Title: "T", Keywords: []string{"a"}, Confidence: 0.9}
	require.NoError(t, store.SaveRewrite(ctx, "1", rw, news.StatusPublished, base.Add(time.Hour)))
	err = store.SaveRewrite(ctx, "1", rw, news.StatusRewritten, base)
	require.ErrorIs(t, err, news.ErrInvalidTransition)
	require.ErrorIs(t, store.SaveRewrite(ctx, "nope", rw, news.StatusPublished, base), news.ErrNotFound)

	articles := store.Articles()
	require.Len(t, articles, 2)
	require.Equal(t, news.StatusPublished, articles[1].Status)
	require.NotNil(t, articles[1].PublishedAt)
	require.Equal(t, "T", articles[1].Rewrite.Title)

	pending, err = store.ListPendingRewrite(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "2", pending[0].ID)
}

func TestStoreRunLogs(t *testing.T) {
	t.Parallel()

	store := NewStore()
	run := news.RunLog{ID: "r1", Errors: []string{"boom"}}
	require.NoError(t, store.InsertRunLog(context.Background(), run))
	run.Errors[0] = "mutated"
	require.Equal(t, "boom", store.RunLogs()[0].Errors[0])
}

func TestObjectStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	store := NewObjectStore("https://img.example.com/", clk)

	url, err := store.Put(ctx, "2024/03/tram-1a2b3c4d.jpg", "image/jpeg", bytes.NewReader([]byte("v1")), news.PutOptions{})
	require.NoError(t, err)
	require.Equal(t, "https://img.example.com/2024/03/tram-1a2b3c4d.jpg", url)
	_, err = store.Put(ctx, "2024/03/tram-1a2b3c4d.jpg", "image/png", bytes.NewReader([]byte("v2")), news.PutOptions{})
	require.NoError(t, err)

	data, contentType, ok := store.Get("2024/03/tram-1a2b3c4d.jpg")
	require.True(t, ok)
	require.Equal(t, []byte("v2"), data)
	require.Equal(t, "image/png", contentType)
	require.Equal(t, 2, store.Puts())

	name, found, err := store.Find(ctx, "2024/03/", "tram-1a2b")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2024/03/tram-1a2b3c4d.jpg", name)

	_, found, err = store.Find(ctx, "2024/03/", "1a2b")
	require.NoError(t, err)
	require.False(t, found)

	store.SetCreated(name, clk.Now().Add(-time.Hour))
	objects, err := store.List(ctx, "2024/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	require.Equal(t, clk.Now().Add(-time.Hour), objects[0].Created)

	require.NoError(t, store.Delete(ctx, name))
	objects, err = store.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, objects)

	_, err = store.Put(ctx, "", "image/png", bytes.NewReader(nil), news.PutOptions{})
	require.Error(t, err)
}
