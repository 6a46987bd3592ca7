// Package imagecapture copies article lead images into durable object storage.
package imagecapture

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/localnews-pipeline/internal/fetcher/static"
	"github.com/JakeFAU/localnews-pipeline/internal/hash/md5"
	"github.com/JakeFAU/localnews-pipeline/internal/metrics"
	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

const (
	defaultCacheControl = "public, max-age=3600"
	hashLen             = 8
)

var extensions = map[string]string{
	"image/jpeg":    "jpg",
	"image/jpg":     "jpg",
	"image/png":     "png",
	"image/webp":    "webp",
	"image/gif":     "gif",
	"image/avif":    "avif",
	"image/svg+xml": "svg",
}

// Downloader fetches raw image bytes.
type Downloader interface {
	Download(ctx context.Context, rawURL string) (static.Download, error)
}

// Config controls image capture.
type Config struct {
	CacheControl string
	Pool         map[string][]string
}

// Service implements news.ImageCapturer.
type Service struct {
	store      news.ObjectStore
	downloader Downloader
	clock      news.Clock
	pool       map[string][]string
	cache      string
	logger     *zap.Logger
}

// New constructs the capture service.
func New(store news.ObjectStore, downloader Downloader, clock news.Clock, cfg Config, logger *zap.Logger) *Service {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := cfg.Pool
	if len(pool) == 0 {
		pool = DefaultPool()
	}
	cacheControl := cfg.CacheControl
	if cacheControl == "" {
		cacheControl = defaultCacheControl
	}
	return &Service{
		store:      store,
		downloader: downloader,
		clock:      clock,
		pool:       pool,
		cache:      cacheControl,
		logger:     logger,
	}
}

// Capture stores req.URL and returns its durable URL. Every failure degrades to a default image.
func (s *Service) Capture(ctx context.Context, req news.ImageRequest) string {
	if strings.TrimSpace(req.URL) == "" {
		return s.fallback(req, "no image url", nil)
	}

	download, err := s.downloader.Download(ctx, req.URL)
	if err != nil {
		return s.fallback(req, "download failed", err)
	}
	if !download.OK() {
		return s.fallback(req, "unexpected status", fmt.Errorf("status %d", download.StatusCode))
	}
	contentType := mediaType(download.ContentType)
	if !strings.HasPrefix(contentType, "image/") {
		return s.fallback(req, "not an image", fmt.Errorf("content type %q", download.ContentType))
	}

	dir, name := s.objectKey(req)
	if existing, ok, err := s.store.Find(ctx, dir, name); err != nil {
		s.logger.Warn("image lookup failed", zap.String("url", req.URL), zap.Error(err))
	} else if ok {
		metrics.ObserveImage("cached")
		return s.store.PublicURL(existing)
	}

	key := dir + name + "." + extension(contentType)
	url, err := s.store.Put(ctx, key, contentType, bytes.NewReader(download.Body), news.PutOptions{CacheControl: s.cache})
	if err != nil {
		return s.fallback(req, "upload failed", err)
	}
	metrics.ObserveImage("stored")
	s.logger.Debug("image stored", zap.String("url", req.URL), zap.String("key", key))
	return url
}

// Default returns the deterministic fallback image for a request.
func (s *Service) Default(category string, seed int64) string {
	return PickDefault(s.pool, category, seed)
}

// Sweep deletes stored images created before now minus olderThan.
// Delete failures are counted, only a listing failure is returned.
func (s *Service) Sweep(ctx context.Context, olderThan time.Duration) (news.SweepResult, error) {
	objects, err := s.store.List(ctx, "")
	if err != nil {
		return news.SweepResult{}, fmt.Errorf("list images: %w", err)
	}
	cutoff := s.clock.Now().Add(-olderThan)
	result := news.SweepResult{Scanned: len(objects)}
	for _, obj := range objects {
		if !obj.Created.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, obj.Name); err != nil {
			result.Failed++
			s.logger.Warn("image delete failed", zap.String("key", obj.Name), zap.Error(err))
			continue
		}
		result.Deleted++
	}
	metrics.ObserveImagesSwept(result.Deleted)
	s.logger.Info("image sweep finished",
		zap.Int("scanned", result.Scanned),
		zap.Int("deleted", result.Deleted),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// objectKey returns the YYYY/MM/ directory and the slug-hash8 base name.
func (s *Service) objectKey(req news.ImageRequest) (string, string) {
	now := s.clock.Now()
	slug := req.Slug
	if slug == "" {
		slug = "image"
	}
	return fmt.Sprintf("%04d/%02d/", now.Year(), int(now.Month())), slug + "-" + md5.Short(req.URL, hashLen)
}

func (s *Service) fallback(req news.ImageRequest, reason string, err error) string {
	fields := []zap.Field{zap.String("url", req.URL), zap.String("reason", reason)}
	if err != nil {
		fields = append(fields, zap.Error(err))
		s.logger.Warn("image capture fell back to default", fields...)
	} else {
		s.logger.Debug("image capture fell back to default", fields...)
	}
	metrics.ObserveImage("default")
	return s.Default(req.Category, req.Seed)
}

func mediaType(contentType string) string {
	parsed, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return parsed
}

func extension(contentType string) string {
	if ext, ok := extensions[contentType]; ok {
		return ext
	}
	return "jpg"
}
