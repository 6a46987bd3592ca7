// Package gcs provides an image ObjectStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL prefixes object keys in returned URLs. Defaults to the public storage host.
	PublicBaseURL string
}

// ObjectStore writes images to a configured GCS bucket.
type ObjectStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

// New creates a GCS-backed object store.
func New(client *storage.Client, cfg Config) (*ObjectStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &ObjectStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: base,
	}, nil
}

// Put uploads data to path, replacing any existing object, and returns its public URL.
func (s *ObjectStore) Put(
	ctx context.Context,
	path, contentType string,
	r io.Reader,
	opts news.PutOptions,
) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if opts.CacheControl != "" {
		writer.CacheControl = opts.CacheControl
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.PublicURL(path), nil
}

// Find returns the first object under prefix whose base name starts with namePrefix.
func (s *ObjectStore) Find(ctx context.Context, prefix, namePrefix string) (string, bool, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix + namePrefix})
	attrs, err := it.Next()
	if errors.Is(err, iterator.Done) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find object %s%s: %w", prefix, namePrefix, err)
	}
	return attrs.Name, true, nil
}

// List returns every object under prefix.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]news.ObjectInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []news.ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		out = append(out, news.ObjectInfo{
			Name:    attrs.Name,
			Created: attrs.Created,
			Size:    attrs.Size,
		})
	}
}

// Delete removes path. Deleting a missing object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the externally reachable URL for path.
func (s *ObjectStore) PublicURL(path string) string {
	return s.baseURL + "/" + strings.TrimLeft(path, "/")
}
