package imagecapture

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/clock"
	"github.com/JakeFAU/localnews-pipeline/internal/fetcher/static"
	"github.com/JakeFAU/localnews-pipeline/internal/hash/md5"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
	"github.com/JakeFAU/localnews-pipeline/internal/storage/memory"
)

var captureTime = time.Date(2024, time.March, 5, 10, 0, 0, 0, time.UTC)

type fakeDownloader struct {
	downloads map[string]static.Download
	err       error
	calls     int
}

func (f *fakeDownloader) Download(_ context.Context, rawURL string) (static.Download, error) {
	f.calls++
	if f.err != nil {
		return static.Download{}, f.err
	}
	d, ok := f.downloads[rawURL]
	if !ok {
		return static.Download{URL: rawURL, StatusCode: http.StatusNotFound}, nil
	}
	return d, nil
}

func newService(dl Downloader) (*Service, *memory.ObjectStore, *clock.Fixed) {
	clk := clock.NewFixed(captureTime)
	store := memory.NewObjectStore("https://img.example.com", clk)
	return New(store, dl, clk, Config{}, zap.NewNop()), store, clk
}

func isDefault(url string) bool {
	for _, candidate := range DefaultPool()[DefaultCategory] {
		if candidate == url {
			return true
		}
	}
	return false
}

func TestCaptureStoresImage(t *testing.T) {
	t.Parallel()

	src := "https://cdn.example.com/tram.png"
	dl := &fakeDownloader{downloads: map[string]static.Download{
		src: {URL: src, StatusCode: http.StatusOK, ContentType: "image/png; charset=binary", Body: []byte("png")},
	}}
	svc, store, _ := newService(dl)

	got := svc.Capture(context.Background(), news.ImageRequest{URL: src, Slug: "tram-t7-2024-03-05", Seed: 1})
	key := "2024/03/tram-t7-2024-03-05-" + md5.Short(src, 8) + ".png"
	require.Equal(t, "https://img.example.com/"+key, got)

	data, contentType, ok := store.Get(key)
	require.True(t, ok)
	require.Equal(t, []byte("png"), data)
	require.Equal(t, "image/png", contentType)
}

func TestCaptureCacheHitUploadsOnce(t *testing.T) {
	t.Parallel()

	src := "https://cdn.example.com/a.webp"
	dl := &fakeDownloader{downloads: map[string]static.Download{
		src: {StatusCode: http.StatusOK, ContentType: "image/webp", Body: []byte("webp")},
	}}
	svc, store, _ := newService(dl)
	req := news.ImageRequest{URL: src, Slug: "fete"}

	first := svc.Capture(context.Background(), req)
	second := svc.Capture(context.Background(), req)
	require.Equal(t, first, second)
	require.True(t, strings.HasSuffix(first, ".webp"))
	require.Equal(t, 1, store.Puts())
}

func TestCaptureNotFoundFallsBackWithoutUpload(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{}
	svc, store, _ := newService(dl)

	got := svc.Capture(context.Background(), news.ImageRequest{URL: "https://cdn.example.com/gone.jpg", Slug: "x", Seed: 42})
	require.True(t, isDefault(got))
	require.Equal(t, 0, store.Puts())
	require.Equal(t, got, svc.Default("", 42))
}

func TestCaptureFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		dl   *fakeDownloader
		url  string
	}{
		{name: "empty url", dl: &fakeDownloader{}, url: ""},
		{name: "download error", dl: &fakeDownloader{err: errors.New("reset")}, url: "https://cdn.example.com/a.jpg"},
		{
			name: "html instead of image",
			dl: &fakeDownloader{downloads: map[string]static.Download{
				"https://cdn.example.com/a.jpg": {StatusCode: http.StatusOK, ContentType: "text/html", Body: []byte("<html>")},
			}},
			url: "https://cdn.example.com/a.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc, store, _ := newService(tt.dl)
			got := svc.Capture(context.Background(), news.ImageRequest{URL: tt.url, Slug: "s", Seed: 7})
			require.True(t, isDefault(got))
			require.Zero(t, store.Puts())
		})
	}
}

func TestCaptureEmptyURLSkipsDownload(t *testing.T) {
	t.Parallel()

	dl := &fakeDownloader{}
	svc, _, _ := newService(dl)
	svc.Capture(context.Background(), news.ImageRequest{})
	require.Zero(t, dl.calls)
}

type failingPutStore struct {
	*memory.ObjectStore
}

func (failingPutStore) Put(context.Context, string, string, io.Reader, news.PutOptions) (string, error) {
	return "", errors.New("bucket missing")
}

func TestCaptureUploadFailureFallsBack(t *testing.T) {
	t.Parallel()

	src := "https://cdn.example.com/a.jpg"
	dl := &fakeDownloader{downloads: map[string]static.Download{
		src: {StatusCode: http.StatusOK, ContentType: "image/jpeg", Body: []byte("jpg")},
	}}
	clk := clock.NewFixed(captureTime)
	svc := New(failingPutStore{memory.NewObjectStore("", clk)}, dl, clk, Config{}, zap.NewNop())

	got := svc.Capture(context.Background(), news.ImageRequest{URL: src, Slug: "a", Category: "sport", Seed: 5})
	require.True(t, isDefault(got))
}

func TestCaptureWithStaticDownloader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("GIF89a"))
	}))
	t.Cleanup(srv.Close)

	svc, store, _ := newService(static.New(static.Config{UserAgent: "test", Timeout: time.Second}))

	got := svc.Capture(context.Background(), news.ImageRequest{URL: srv.URL + "/ok.gif", Slug: "ok"})
	require.True(t, strings.HasSuffix(got, ".gif"))
	require.Equal(t, 1, store.Puts())

	got = svc.Capture(context.Background(), news.ImageRequest{URL: srv.URL + "/missing.jpg", Slug: "ko"})
	require.True(t, isDefault(got))
	require.Equal(t, 1, store.Puts())
}

func TestExtension(t *testing.T) {
	t.Parallel()

	require.Equal(t, "jpg", extension("image/jpeg"))
	require.Equal(t, "jpg", extension("image/jpg"))
	require.Equal(t, "avif", extension("image/avif"))
	require.Equal(t, "svg", extension("image/svg+xml"))
	require.Equal(t, "jpg", extension("image/tiff"))
	require.Equal(t, "image/png", mediaType("Image/PNG; charset=binary"))
}

func TestPickDefaultDeterministic(t *testing.T) {
	t.Parallel()

	pool := MergePool(map[string][]string{"Culture": {"https://img.example.com/c1.jpg"}})
	require.Equal(t, "https://img.example.com/c1.jpg", PickDefault(pool, "culture", 3))
	require.Equal(t, PickDefault(pool, "sport", 99), PickDefault(pool, "sport", 99))
	require.True(t, isDefault(PickDefault(pool, "sport", 99)))
	require.Empty(t, PickDefault(map[string][]string{}, "x", 1))

	seen := map[string]bool{}
	for seed := int64(0); seed < 64; seed++ {
		seen[PickDefault(pool, DefaultCategory, seed)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	svc, store, clk := newService(&fakeDownloader{})
	ctx := context.Background()
	for _, key := range []string{"2024/01/old-1.jpg", "2024/02/old-2.jpg", "2024/03/new.jpg"} {
		_, err := store.Put(ctx, key, "image/jpeg", strings.NewReader("x"), news.PutOptions{})
		require.NoError(t, err)
	}
	store.SetCreated("2024/01/old-1.jpg", clk.Now().Add(-60*24*time.Hour))
	store.SetCreated("2024/02/old-2.jpg", clk.Now().Add(-31*24*time.Hour))

	result, err := svc.Sweep(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, news.SweepResult{Scanned: 3, Deleted: 2}, result)

	remaining, err := store.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "2024/03/new.jpg", remaining[0].Name)
}

type brokenStore struct {
	*memory.ObjectStore
	listErr   error
	deleteErr error
}

func (b brokenStore) List(ctx context.Context, prefix string) ([]news.ObjectInfo, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.ObjectStore.List(ctx, prefix)
}

func (b brokenStore) Delete(context.Context, string) error {
	return b.deleteErr
}

func TestSweepErrors(t *testing.T) {
	t.Parallel()

	clk := clock.NewFixed(captureTime)
	mem := memory.NewObjectStore("", clk)
	_, err := mem.Put(context.Background(), "2023/01/a.jpg", "image/jpeg", strings.NewReader("x"), news.PutOptions{})
	require.NoError(t, err)
	mem.SetCreated("2023/01/a.jpg", captureTime.AddDate(-1, 0, 0))

	svc := New(brokenStore{ObjectStore: mem, deleteErr: errors.New("denied")}, &fakeDownloader{}, clk, Config{}, nil)
	result, err := svc.Sweep(context.Background(), 30*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Zero(t, result.Deleted)

	svc = New(brokenStore{ObjectStore: mem, listErr: errors.New("offline")}, &fakeDownloader{}, clk, Config{}, nil)
	_, err = svc.Sweep(context.Background(), time.Hour)
	require.Error(t, err)
}
