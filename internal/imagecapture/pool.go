package imagecapture

import (
	"math/rand/v2"
	"strings"
)

// DefaultCategory keys the fallback pool used when a category has no images of its own.
const DefaultCategory = "default"

// DefaultPool is the built-in set of Lyon images served when a capture fails.
func DefaultPool() map[string][]string {
	return map[string][]string{
		DefaultCategory: {
			"https://images.unsplash.com/photo-1524484485831-a92ffc0de03f?w=1200",
			"https://images.unsplash.com/photo-1582806988429-d451912c0e1f?w=1200",
			"https://images.unsplash.com/photo-1513635269975-59663e0ac1ad?w=1200",
			"https://images.unsplash.com/photo-1609770231080-e321deccc34c?w=1200",
			"https://images.unsplash.com/photo-1563373960-57e7ce1097d0?w=1200",
			"https://images.unsplash.com/photo-1584265549884-cb8ea486a613?w=1200",
			"https://images.unsplash.com/photo-1568792556814-51b7a62ddaef?w=1200",
			"https://images.unsplash.com/photo-1600168985025-38c73e8bc9f1?w=1200",
		},
	}
}

// MergePool overlays configured categories onto the built-in pool.
func MergePool(overrides map[string][]string) map[string][]string {
	pool := DefaultPool()
	for category, urls := range overrides {
		if len(urls) == 0 {
			continue
		}
		pool[strings.ToLower(category)] = append([]string(nil), urls...)
	}
	return pool
}

// PickDefault deterministically picks an image for category from pool.
// The same seed always yields the same image.
func PickDefault(pool map[string][]string, category string, seed int64) string {
	images := pool[strings.ToLower(category)]
	if len(images) == 0 {
		images = pool[DefaultCategory]
	}
	if len(images) == 0 {
		return ""
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	return images[rng.IntN(len(images))]
}
