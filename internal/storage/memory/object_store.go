// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

type object struct {
	data         []byte
	contentType  string
	cacheControl string
	created      time.Time
}

// ObjectStore stores images in-memory and returns pseudo URLs.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]object
	puts    int
	baseURL string
	now     func() time.Time
}

// NewObjectStore creates a new in-memory object store. A nil clock uses wall time.
func NewObjectStore(baseURL string, clock news.Clock) *ObjectStore {
	now := time.Now
	if clock != nil {
		now = clock.Now
	}
	if baseURL == "" {
		baseURL = "memory://images"
	}
	return &ObjectStore{
		objects: make(map[string]object),
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     now,
	}
}

// Put persists the content, replacing any previous object at path.
func (s *ObjectStore) Put(_ context.Context, p, contentType string, data io.Reader, opts news.PutOptions) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("path is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[p] = object{
		data:         body,
		contentType:  contentType,
		cacheControl: opts.CacheControl,
		created:      s.now(),
	}
	s.puts++
	return s.PublicURL(p), nil
}

// Find returns the first stored key under prefix whose base name starts with namePrefix.
func (s *ObjectStore) Find(_ context.Context, prefix, namePrefix string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range s.sortedKeys() {
		if strings.HasPrefix(key, prefix) && strings.HasPrefix(path.Base(key), namePrefix) {
			return key, true, nil
		}
	}
	return "", false, nil
}

// List returns every object under prefix in key order.
func (s *ObjectStore) List(_ context.Context, prefix string) ([]news.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []news.ObjectInfo
	for _, key := range s.sortedKeys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj := s.objects[key]
		out = append(out, news.ObjectInfo{Name: key, Created: obj.created, Size: int64(len(obj.data))})
	}
	return out, nil
}

// Delete removes path if present.
func (s *ObjectStore) Delete(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, p)
	return nil
}

// PublicURL returns the pseudo URL for path.
func (s *ObjectStore) PublicURL(p string) string {
	return s.baseURL + "/" + strings.TrimLeft(p, "/")
}

// Get returns the stored bytes and content type for path.
func (s *ObjectStore) Get(p string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[p]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// Puts reports how many writes the store has accepted.
func (s *ObjectStore) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}

// SetCreated overrides the creation time of an object.
func (s *ObjectStore) SetCreated(p string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[p]; ok {
		obj.created = at
		s.objects[p] = obj
	}
}

func (s *ObjectStore) sortedKeys() []string {
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
