package http

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const defaultViewTTL = 5 * time.Minute

type viewKey struct {
	view      string
	statement uuid.UUID
}

type cachedView struct {
	value   any
	expires time.Time
}

// viewCache keeps built read models per statement until they expire or a
// write busts them. Concurrent misses of one view share a single build.
type viewCache struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *viewMetrics
	group   singleflight.Group

	mu    sync.RWMutex
	items map[viewKey]cachedView
	// generation advances on every bust; builds started before a bust are
	// not stored.
	generation uint64
}

func newViewCache(ttl time.Duration, metrics *viewMetrics) *viewCache {
	if ttl <= 0 {
		ttl = defaultViewTTL
	}
	return &viewCache{ttl: ttl, now: time.Now, metrics: metrics, items: make(map[viewKey]cachedView)}
}

// Load returns the cached view or builds it. The caller stops waiting when
// its context ends while the build continues for the other waiters.
func (c *viewCache) Load(ctx context.Context, view string, statementID uuid.UUID, build func(context.Context) (any, error)) (any, error) {
	key := viewKey{view: view, statement: statementID}
	if v, ok := c.get(key); ok {
		c.metrics.hit(view)
		return v, nil
	}
	c.metrics.miss(view)

	c.mu.RLock()
	gen := c.generation
	c.mu.RUnlock()
	flightKey := view + "|" + statementID.String() + "|" + strconv.FormatUint(gen, 10)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		start := time.Now()
		v, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.metrics.built(view, time.Since(start))
		c.store(key, v, gen)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (c *viewCache) get(key viewKey) (any, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(item.expires) {
		c.mu.Lock()
		if cur, still := c.items[key]; still && cur.expires == item.expires {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return item.value, true
}

func (c *viewCache) store(key viewKey, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.items[key] = cachedView{value: value, expires: c.now().Add(c.ttl)}
}

// BustStatement drops every cached view of one statement.
func (c *viewCache) BustStatement(statementID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	for key := range c.items {
		if key.statement == statementID {
			delete(c.items, key)
		}
	}
}

// Bust drops everything. Used when a write cannot be attributed to one
// statement.
func (c *viewCache) Bust() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	clear(c.items)
}

// viewMetrics instruments the view cache. A nil value records nothing.
type viewMetrics struct {
	hits   *prometheus.CounterVec
	misses *prometheus.CounterVec
	builds *prometheus.HistogramVec
}

// newViewMetrics registers the cache collectors with reg. Collectors that
// are already registered, for example by a second handler on the same
// registry, are reused.
func newViewMetrics(reg prometheus.Registerer) (*viewMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &viewMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "konzern_consol_view_cache_hits_total",
			Help: "Read model cache hits by view.",
		}, []string{"view"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "konzern_consol_view_cache_misses_total",
			Help: "Read model cache misses by view.",
		}, []string{"view"}),
		builds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "konzern_consol_view_build_duration_seconds",
			Help:    "Time to build a read model after a cache miss.",
			Buckets: prometheus.DefBuckets,
		}, []string{"view"}),
	}
	var err error
	if m.hits, err = registerOrReuse(reg, m.hits); err != nil {
		return nil, err
	}
	if m.misses, err = registerOrReuse(reg, m.misses); err != nil {
		return nil, err
	}
	if m.builds, err = registerOrReuse(reg, m.builds); err != nil {
		return nil, err
	}
	return m, nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

func (m *viewMetrics) hit(view string) {
	if m != nil {
		m.hits.WithLabelValues(view).Inc()
	}
}

func (m *viewMetrics) miss(view string) {
	if m != nil {
		m.misses.WithLabelValues(view).Inc()
	}
}

func (m *viewMetrics) built(view string, d time.Duration) {
	if m != nil {
		m.builds.WithLabelValues(view).Observe(d.Seconds())
	}
}
