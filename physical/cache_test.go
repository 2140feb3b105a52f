package physical

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	metrics "github.com/hashicorp/go-metrics/compat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stephnangue/jwtsecrets/logger"
)

func newTestCache(t *testing.T, size int) (Cache, *memStorage, *metrics.InmemSink) {
	t.Helper()
	backend := newMemStorage()
	sink := metrics.NewInmemSink(time.Minute, time.Minute)
	c := NewCache(backend, size, logger.NewNopLogger(), sink)
	c.SetEnabled(true)
	return c, backend, sink
}

func counter(sink *metrics.InmemSink, name string) int {
	n := 0
	for _, interval := range sink.Data() {
		if c, ok := interval.Counters[name]; ok {
			n += c.Count
		}
	}
	return n
}

func TestCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	c, backend, sink := newTestCache(t, 16)

	require.NoError(t, backend.Put(ctx, &Entry{Key: "role/web", Value: []byte("v1")}))

	for i := 0; i < 3; i++ {
		e, err := c.Get(ctx, "role/web")
		require.NoError(t, err)
		assert.Equal(t, "v1", string(e.Value))
	}
	assert.Equal(t, 1, backend.readCount())
	assert.Equal(t, 1, counter(sink, "cache.miss"))
	assert.Equal(t, 2, counter(sink, "cache.hit"))

	e, err := c.Get(ctx, "role/none")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCache_WriteThrough(t *testing.T) {
	ctx := context.Background()
	c, backend, sink := newTestCache(t, 16)

	require.NoError(t, c.Put(ctx, &Entry{Key: "role/web", Value: []byte("v1")}))
	assert.Equal(t, 1, counter(sink, "cache.write"))

	stored, err := backend.Get(ctx, "role/web")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(stored.Value))

	e, err := c.Get(ctx, "role/web")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(e.Value))
	assert.Equal(t, 1, backend.readCount())

	require.NoError(t, c.Delete(ctx, "role/web"))
	e, err = c.Get(ctx, "role/web")
	require.NoError(t, err)
	assert.Nil(t, e)

	assert.NoError(t, c.Put(ctx, nil))
}

func TestCache_Disabled(t *testing.T) {
	ctx := context.Background()
	c, backend, _ := newTestCache(t, 16)
	c.SetEnabled(false)
	assert.False(t, c.GetEnabled())
	assert.False(t, c.ShouldCache("role/web"))

	require.NoError(t, c.Put(ctx, &Entry{Key: "role/web", Value: []byte("v1")}))
	_, _ = c.Get(ctx, "role/web")
	_, _ = c.Get(ctx, "role/web")
	assert.Equal(t, 2, backend.readCount())
}

func TestCache_CurrentKeyPointerBypassesCache(t *testing.T) {
	ctx := context.Background()
	c, backend, _ := newTestCache(t, 16)

	assert.False(t, c.ShouldCache("logical/jwt/config/current"))
	assert.True(t, c.ShouldCache("logical/jwt/role/web"))

	require.NoError(t, c.Put(ctx, &Entry{Key: "logical/jwt/config/current", Value: []byte("k1")}))
	require.NoError(t, backend.Put(ctx, &Entry{Key: "logical/jwt/config/current", Value: []byte("k2")}))

	e, err := c.Get(ctx, "logical/jwt/config/current")
	require.NoError(t, err)
	assert.Equal(t, "k2", string(e.Value))
}

func TestCache_InvalidateAndRefresh(t *testing.T) {
	ctx := context.Background()
	c, backend, _ := newTestCache(t, 16)

	require.NoError(t, c.Put(ctx, &Entry{Key: "role/web", Value: []byte("v1")}))
	require.NoError(t, backend.Put(ctx, &Entry{Key: "role/web", Value: []byte("v2")}))

	e, _ := c.Get(ctx, "role/web")
	assert.Equal(t, "v1", string(e.Value))

	e, _ = c.Get(CacheRefreshContext(ctx, true), "role/web")
	assert.Equal(t, "v2", string(e.Value))

	require.NoError(t, backend.Put(ctx, &Entry{Key: "role/web", Value: []byte("v3")}))
	c.Invalidate(ctx, "role/web")
	e, _ = c.Get(ctx, "role/web")
	assert.Equal(t, "v3", string(e.Value))

	require.NoError(t, backend.Put(ctx, &Entry{Key: "role/web", Value: []byte("v4")}))
	c.Purge(ctx)
	e, _ = c.Get(ctx, "role/web")
	assert.Equal(t, "v4", string(e.Value))

	assert.False(t, cacheRefreshFromContext(ctx))
	assert.False(t, cacheRefreshFromContext(CacheRefreshContext(ctx, false)))
}

func TestCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, 16)

	value := []byte("abc")
	require.NoError(t, c.Put(ctx, &Entry{Key: "k", Value: value}))
	value[0] = 'X'

	e, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(e.Value))

	e.Value[0] = 'Y'
	e, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(e.Value))
}

func TestCache_Eviction(t *testing.T) {
	ctx := context.Background()
	c, backend, _ := newTestCache(t, 2)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Put(ctx, &Entry{Key: fmt.Sprintf("role/r%d", i), Value: []byte("v")}))
	}
	_, err := c.Get(ctx, "role/r0")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.readCount())

	list, err := c.List(ctx, "role/")
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t, 64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("role/r%d", i%4)
			for j := 0; j < 50; j++ {
				assert.NoError(t, c.Put(ctx, &Entry{Key: key, Value: []byte("v")}))
				_, err := c.Get(ctx, key)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
}
