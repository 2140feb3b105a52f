// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package physical

import (
	"context"
	"strings"
	"sync/atomic"

	metrics "github.com/hashicorp/go-metrics/compat"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/stephnangue/jwtsecrets/logger"
)

const (
	// DefaultCacheSize is used if no cache size is specified for NewCache
	DefaultCacheSize = 128 * 1024
)

// cacheExceptionsPaths are key suffixes that always go to the backend.
// The active signing key pointer is shared by every server using the same
// storage, so a rotation on one must be visible to the others.
var cacheExceptionsPaths = []string{
	"config/current",
}

type refreshCacheKey struct{}

// CacheRefreshContext returns a context that makes reads through a Cache
// bypass the cached copy and repopulate it from the backend.
func CacheRefreshContext(ctx context.Context, refresh bool) context.Context {
	return context.WithValue(ctx, refreshCacheKey{}, refresh)
}

func cacheRefreshFromContext(ctx context.Context) bool {
	r, ok := ctx.Value(refreshCacheKey{}).(bool)
	return ok && r
}

// Cache is a Storage with a read-through LRU in front of it.
type Cache interface {
	Storage
	SetEnabled(enabled bool)
	GetEnabled() bool
	ShouldCache(key string) bool
	Invalidate(ctx context.Context, key string)
	Purge(ctx context.Context)
}

type cache struct {
	backend Storage
	lru     *lru.Cache[string, *Entry]
	locks   []*LockEntry
	size    int
	enabled *uint32
	logger  *logger.GatedLogger
	sink    metrics.MetricSink
}

var _ Cache = (*cache)(nil)

// NewCache wraps backend with an LRU of at most size entries. The cache
// starts disabled.
func NewCache(backend Storage, size int, log *logger.GatedLogger, sink metrics.MetricSink) Cache {
	return newCache(backend, size, log, sink)
}

func newCache(backend Storage, size int, log *logger.GatedLogger, sink metrics.MetricSink) Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if sink == nil {
		sink = &metrics.BlackholeSink{}
	}

	l, _ := lru.New[string, *Entry](size)
	log.Debug("creating storage cache", logger.Int("size", size))

	return &cache{
		backend: backend,
		lru:     l,
		locks:   CreateLocks(),
		size:    size,
		enabled: new(uint32),
		logger:  log,
		sink:    sink,
	}
}

func (c *cache) SetEnabled(enabled bool) {
	if enabled {
		atomic.StoreUint32(c.enabled, 1)
		return
	}
	atomic.StoreUint32(c.enabled, 0)
}

func (c *cache) GetEnabled() bool {
	return atomic.LoadUint32(c.enabled) == 1
}

func (c *cache) ShouldCache(key string) bool {
	if !c.GetEnabled() {
		return false
	}
	for _, suffix := range cacheExceptionsPaths {
		if strings.HasSuffix(key, suffix) {
			return false
		}
	}
	return true
}

func (c *cache) Purge(ctx context.Context) {
	for _, l := range c.locks {
		l.Lock()
		defer l.Unlock()
	}
	c.lru.Purge()
}

func (c *cache) Invalidate(ctx context.Context, key string) {
	l := LockForKey(c.locks, key)
	l.Lock()
	defer l.Unlock()
	c.lru.Remove(key)
}

func (c *cache) Put(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}
	if !c.ShouldCache(entry.Key) {
		return c.backend.Put(ctx, entry)
	}

	l := LockForKey(c.locks, entry.Key)
	l.Lock()
	defer l.Unlock()

	if err := c.backend.Put(ctx, entry); err != nil {
		return err
	}
	c.lru.Add(entry.Key, cloneEntry(entry))
	c.sink.IncrCounter([]string{"cache", "write"}, 1)
	return nil
}

func (c *cache) Get(ctx context.Context, key string) (*Entry, error) {
	if !c.ShouldCache(key) {
		return c.backend.Get(ctx, key)
	}

	l := LockForKey(c.locks, key)
	l.RLock()
	defer l.RUnlock()

	if !cacheRefreshFromContext(ctx) {
		if e, ok := c.lru.Get(key); ok {
			c.sink.IncrCounter([]string{"cache", "hit"}, 1)
			if e == nil {
				return nil, nil
			}
			return cloneEntry(e), nil
		}
	}

	c.sink.IncrCounter([]string{"cache", "miss"}, 1)

	ent, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ent != nil {
		c.lru.Add(key, cloneEntry(ent))
	}
	return ent, nil
}

func (c *cache) Delete(ctx context.Context, key string) error {
	if !c.ShouldCache(key) {
		return c.backend.Delete(ctx, key)
	}

	l := LockForKey(c.locks, key)
	l.Lock()
	defer l.Unlock()

	if err := c.backend.Delete(ctx, key); err != nil {
		return err
	}
	c.lru.Remove(key)
	return nil
}

func (c *cache) List(ctx context.Context, prefix string) ([]string, error) {
	return c.backend.List(ctx, prefix)
}

func (c *cache) ListPage(ctx context.Context, prefix string, after string, limit int) ([]string, error) {
	return c.backend.ListPage(ctx, prefix, after, limit)
}

func cloneEntry(e *Entry) *Entry {
	out := &Entry{Key: e.Key}
	if e.Value != nil {
		out.Value = make([]byte, len(e.Value))
		copy(out.Value, e.Value)
	}
	return out
}
