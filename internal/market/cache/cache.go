package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tradeloop/internal/logger"
	"tradeloop/internal/market"
	"tradeloop/internal/pkg/circuit"
	"tradeloop/internal/pkg/retry"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

var log = logger.Named("DataCache")

// Config tunes TTLs and upstream pacing.
type Config struct {
	IntradayTTL time.Duration `yaml:"intraday_ttl"`
	DailyTTL    time.Duration `yaml:"daily_ttl"`
	// MinSpacing is the minimum gap between any two upstream fetches, across all symbols.
	MinSpacing time.Duration `yaml:"min_spacing"`
	Retry      retry.Policy  `yaml:"retry"`
}

func (c Config) withDefaults() Config {
	if c.IntradayTTL <= 0 {
		c.IntradayTTL = 60 * time.Second
	}
	if c.DailyTTL <= 0 {
		c.DailyTTL = 300 * time.Second
	}
	if c.MinSpacing <= 0 {
		c.MinSpacing = 500 * time.Millisecond
	}
	return c
}

type entry struct {
	series    market.Series
	fetchedAt time.Time
	ttl       time.Duration
}

// Stats is a point-in-time read of the cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Fetches int64 `json:"fetches"`
	Errors  int64 `json:"errors"`
	Entries int   `json:"entries"`
}

// HitRate is hits/(hits+misses), zero when unused.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// DataCache is the shared, time-bounded view of upstream market data. It is
// constructed once and injected into every consumer.
type DataCache struct {
	cfg      Config
	src      market.HistorySource
	breakers *circuit.Registry
	limiter  *rate.Limiter
	group    singleflight.Group
	metrics  *Metrics
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]entry

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
	errs    atomic.Int64
}

// Option customizes a DataCache.
type Option func(*DataCache)

func WithClock(now func() time.Time) Option {
	return func(c *DataCache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *DataCache) { c.metrics = m }
}

// WithBreakers routes every upstream call through a per-asset-class breaker.
func WithBreakers(r *circuit.Registry) Option {
	return func(c *DataCache) { c.breakers = r }
}

func New(src market.HistorySource, cfg Config, opts ...Option) *DataCache {
	cfg = cfg.withDefaults()
	c := &DataCache{
		cfg:     cfg,
		src:     src,
		limiter: rate.NewLimiter(rate.Every(cfg.MinSpacing), 1),
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTLFor returns the time-to-live used for a granularity.
func (c *DataCache) TTLFor(granularity string) time.Duration {
	if market.Intraday(granularity) {
		return c.cfg.IntradayTTL
	}
	return c.cfg.DailyTTL
}

// Fetch returns a copy of the cached series for req, fetching it upstream on
// a miss. Concurrent misses for one key share a single upstream call. Errors
// are returned to every waiter and never cached.
func (c *DataCache) Fetch(ctx context.Context, req market.Request) (market.Series, error) {
	req = req.Normalized()
	if req.Symbol == "" {
		return market.Series{}, fmt.Errorf("data cache: symbol is required")
	}
	key := req.Key()
	if s, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.metrics.hit(req)
		return s, nil
	}
	c.misses.Add(1)
	c.metrics.miss(req)

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// A waiter that arrives after the previous flight stored the entry
		// must not refetch.
		if s, ok := c.lookup(key); ok {
			return s, nil
		}
		// Detached from the first caller so one cancelled waiter does not
		// fail the others; retry bounds each attempt.
		fetchCtx := context.WithoutCancel(ctx)
		s, err := c.fetchUpstream(fetchCtx, req)
		if err != nil {
			return nil, err
		}
		c.store(key, s, c.TTLFor(req.Granularity))
		return s, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return market.Series{}, res.Err
		}
		return res.Val.(market.Series).Clone(), nil
	case <-ctx.Done():
		return market.Series{}, ctx.Err()
	}
}

func (c *DataCache) fetchUpstream(ctx context.Context, req market.Request) (market.Series, error) {
	var candles []market.Candle
	call := func() error {
		return retry.Do(ctx, c.cfg.Retry, func(attemptCtx context.Context) error {
			if err := c.limiter.Wait(attemptCtx); err != nil {
				return err
			}
			c.fetches.Add(1)
			c.metrics.fetch(req)
			out, err := c.src.History(attemptCtx, req)
			if err != nil {
				if errors.Is(err, market.ErrNoData) {
					return retry.Permanent(err)
				}
				return err
			}
			candles = out
			return nil
		})
	}
	var err error
	if c.breakers != nil {
		err = c.breakers.Get("market:" + string(req.AssetClass)).Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		c.errs.Add(1)
		c.metrics.fail(req)
		log.Warnf("fetch %s failed: %v", req.Key(), err)
		return market.Series{}, err
	}
	if len(candles) == 0 {
		return market.Series{}, fmt.Errorf("%s: %w", req.Key(), market.ErrNoData)
	}
	return market.Series{Request: req, Candles: candles, FetchedAt: c.now()}, nil
}

func (c *DataCache) lookup(key string) (market.Series, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return market.Series{}, false
	}
	if c.now().Sub(e.fetchedAt) >= e.ttl {
		delete(c.entries, key)
		return market.Series{}, false
	}
	return e.series.Clone(), true
}

func (c *DataCache) store(key string, s market.Series, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{series: s.Clone(), fetchedAt: c.now(), ttl: ttl}
	c.metrics.size(len(c.entries))
}

// Invalidate drops one key.
func (c *DataCache) Invalidate(req market.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, req.Key())
	c.metrics.size(len(c.entries))
}

// Purge removes expired entries and returns how many were dropped.
func (c *DataCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.Sub(e.fetchedAt) >= e.ttl {
			delete(c.entries, k)
			n++
		}
	}
	c.metrics.size(len(c.entries))
	return n
}

func (c *DataCache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Errors:  c.errs.Load(),
		Entries: n,
	}
}

var _ market.Fetcher = (*DataCache)(nil)
