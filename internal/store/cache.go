package store

import (
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// TextCache is an LRU of file contents keyed by absolute path and bounded
// by the total number of bytes held. Values larger than the capacity are
// never cached.
type TextCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, string]
	capacity int64
	size     int64
}

// NewTextCache creates a text cache holding at most capacity bytes.
func NewTextCache(capacity int64) *TextCache {
	c := &TextCache{capacity: capacity}
	// The entry count is unbounded; eviction is driven by size.
	l, _ := simplelru.NewLRU[string, string](math.MaxInt32, func(_ string, v string) {
		c.size -= int64(len(v))
	})
	c.lru = l
	return c
}

// Get returns the cached contents of path.
func (c *TextCache) Get(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(path)
}

// Put stores the contents of path, evicting least recently used entries
// until the cache fits its capacity again.
func (c *TextCache) Put(path, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(path)
	if int64(len(text)) > c.capacity {
		return
	}
	c.lru.Add(path, text)
	c.size += int64(len(text))
	for c.size > c.capacity {
		if _, _, ok := c.lru.RemoveOldest(); !ok {
			break
		}
	}
}

// Invalidate drops path from the cache.
func (c *TextCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(path)
}

// Size returns the number of bytes currently cached.
func (c *TextCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// recordCache holds decoded sidecars keyed by the sidecar's absolute path
// and counts lookups per record kind.
type recordCache[T any] struct {
	kind string
	lru  *lru.Cache[string, T]
}

func newRecordCache[T any](kind string, size int) *recordCache[T] {
	l, err := lru.New[string, T](size)
	if err != nil {
		// Only a non-positive size fails.
		l, _ = lru.New[string, T](1)
	}
	return &recordCache[T]{kind: kind, lru: l}
}

func (c *recordCache[T]) get(path string) (T, bool) {
	v, ok := c.lru.Get(path)
	if ok {
		cacheLookups.WithLabelValues(c.kind, resultHit).Inc()
	} else {
		cacheLookups.WithLabelValues(c.kind, resultMiss).Inc()
	}
	return v, ok
}

func (c *recordCache[T]) put(path string, v T) {
	c.lru.Add(path, v)
}

func (c *recordCache[T]) invalidate(path string) {
	c.lru.Remove(path)
}
