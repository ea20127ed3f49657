package http

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestViewCacheLoadAndExpire(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := newViewMetrics(reg)
	require.NoError(t, err)
	cache := newViewCache(time.Minute, metrics)
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	id := uuid.New()
	var builds int
	build := func(context.Context) (any, error) {
		builds++
		return builds, nil
	}

	v, err := cache.Load(context.Background(), viewGraph, id, build)
	require.NoError(t, err)
	require.Equal(t, 1, v)
	v, err = cache.Load(context.Background(), viewGraph, id, build)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	v, err = cache.Load(context.Background(), viewGraph, id, build)
	require.NoError(t, err)
	require.Equal(t, 2, v)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			counts[f.GetName()] += m.GetCounter().GetValue()
		}
	}
	require.Equal(t, 1.0, counts["konzern_consol_view_cache_hits_total"])
	require.Equal(t, 2.0, counts["konzern_consol_view_cache_misses_total"])
}

func TestViewCacheSharesConcurrentBuilds(t *testing.T) {
	cache := newViewCache(0, nil)
	id := uuid.New()
	release := make(chan struct{})
	var builds atomic.Int32
	build := func(context.Context) (any, error) {
		builds.Add(1)
		<-release
		return "graph", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.Load(context.Background(), viewGraph, id, build)
			if err == nil {
				results[i] = v
			}
		}()
	}
	require.Eventually(t, func() bool { return builds.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), builds.Load())
	for _, v := range results {
		require.Equal(t, "graph", v)
	}
}

func TestViewCacheDropsBuildsOverlappingABust(t *testing.T) {
	cache := newViewCache(0, nil)
	id := uuid.New()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := cache.Load(context.Background(), viewGraph, id, func(context.Context) (any, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- err
	}()
	<-started
	cache.BustStatement(id)
	close(release)
	require.NoError(t, <-done)

	_, ok := cache.get(viewKey{view: viewGraph, statement: id})
	require.False(t, ok)
}

func TestViewCacheErrorsAreNotCached(t *testing.T) {
	cache := newViewCache(0, nil)
	id := uuid.New()
	boom := errors.New("boom")
	_, err := cache.Load(context.Background(), viewGraph, id, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	_, ok := cache.get(viewKey{view: viewGraph, statement: id})
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cache.Load(ctx, viewGraph, id, func(context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "late", nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestViewCacheBustScopes(t *testing.T) {
	cache := newViewCache(0, nil)
	a, b := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{a, b} {
		_, err := cache.Load(context.Background(), viewGraph, id, func(context.Context) (any, error) { return id, nil })
		require.NoError(t, err)
	}
	cache.BustStatement(a)
	_, okA := cache.get(viewKey{view: viewGraph, statement: a})
	_, okB := cache.get(viewKey{view: viewGraph, statement: b})
	require.False(t, okA)
	require.True(t, okB)

	cache.Bust()
	_, okB = cache.get(viewKey{view: viewGraph, statement: b})
	require.False(t, okB)
}

func TestViewMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := newViewMetrics(reg)
	require.NoError(t, err)
	second, err := newViewMetrics(reg)
	require.NoError(t, err)
	require.Same(t, first.hits, second.hits)

	none, err := newViewMetrics(nil)
	require.NoError(t, err)
	none.hit(viewGraph)
}
