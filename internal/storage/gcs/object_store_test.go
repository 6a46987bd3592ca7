package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

const bucketName = "test-bucket"

// fakeGCS simulates the subset of the GCS JSON API used by ObjectStore.
type fakeGCS struct {
	mu      sync.Mutex
	uploads []string
	deleted []string
	objects []string
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/b/"+bucketName+"/o"):
		body, _ := io.ReadAll(r.Body)
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "unknown"
		}
		f.uploads = append(f.uploads, string(body))
		fmt.Fprintf(w, `{"name":%q,"bucket":%q}`, name, bucketName)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/b/"+bucketName+"/o"):
		prefix := r.URL.Query().Get("prefix")
		var items []string
		for _, name := range f.objects {
			if strings.HasPrefix(name, prefix) {
				items = append(items, fmt.Sprintf(
					`{"name":%q,"bucket":%q,"timeCreated":"2024-01-15T10:00:00Z","size":"42"}`, name, bucketName))
			}
		}
		fmt.Fprintf(w, `{"kind":"storage#objects","items":[%s]}`, strings.Join(items, ","))
	case r.Method == http.MethodDelete:
		name := r.URL.Path[strings.LastIndex(r.URL.Path, "/o/")+3:]
		if strings.Contains(name, "missing") {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"code":404,"message":"Not Found"}}`)
			return
		}
		f.deleted = append(f.deleted, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newTestStore(t *testing.T, fake *fakeGCS, cfg Config) *ObjectStore {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg.Bucket = bucketName
	store, err := New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.Error(t, err)
}

func TestObjectStorePut(t *testing.T) {
	t.Parallel()

	fake := &fakeGCS{}
	store := newTestStore(t, fake, Config{})

	url, err := store.Put(context.Background(), "2024/03/tram-1a2b3c4d.jpg", "image/jpeg",
		bytes.NewReader([]byte("jpeg-bytes")), news.PutOptions{CacheControl: "public, max-age=3600"})
	require.NoError(t, err)
	require.Equal(t, "https://storage.googleapis.com/test-bucket/2024/03/tram-1a2b3c4d.jpg", url)

	require.Len(t, fake.uploads, 1)
	require.Contains(t, fake.uploads[0], "jpeg-bytes")
	require.Contains(t, fake.uploads[0], "public, max-age=3600")
	require.Contains(t, fake.uploads[0], "image/jpeg")

	_, err = store.Put(context.Background(), " ", "image/jpeg", bytes.NewReader(nil), news.PutOptions{})
	require.Error(t, err)
}

func TestObjectStoreFind(t *testing.T) {
	t.Parallel()

	fake := &fakeGCS{objects: []string{"2024/03/tram-1a2b3c4d.png", "2024/03/other-00000000.jpg"}}
	store := newTestStore(t, fake, Config{})

	name, ok, err := store.Find(context.Background(), "2024/03/", "tram-1a2b3c4d")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024/03/tram-1a2b3c4d.png", name)

	_, ok, err = store.Find(context.Background(), "2024/04/", "tram-1a2b3c4d")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestObjectStoreListAndDelete(t *testing.T) {
	t.Parallel()

	fake := &fakeGCS{objects: []string{"2024/01/a-11111111.jpg", "2024/02/b-22222222.jpg"}}
	store := newTestStore(t, fake, Config{PublicBaseURL: "https://img.example.com/"})

	objects, err := store.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	require.Equal(t, int64(42), objects[0].Size)
	require.Equal(t, 2024, objects[0].Created.Year())

	require.NoError(t, store.Delete(context.Background(), "2024/01/a-11111111.jpg"))
	require.NoError(t, store.Delete(context.Background(), "2024/01/missing.jpg"))
	require.Len(t, fake.deleted, 1)

	require.Equal(t, "https://img.example.com/2024/01/a.jpg", store.PublicURL("/2024/01/a.jpg"))
}
