package cache

import (
	"tradeloop/internal/market"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the cache's prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	hits    *prometheus.CounterVec
	misses  *prometheus.CounterVec
	fetches *prometheus.CounterVec
	errors  *prometheus.CounterVec
	entries prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "data_cache", Name: "hits_total",
			Help: "Cache hits by asset class.",
		}, []string{"asset_class"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "data_cache", Name: "misses_total",
			Help: "Cache misses by asset class.",
		}, []string{"asset_class"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "data_cache", Name: "upstream_fetches_total",
			Help: "Upstream history calls, including retries.",
		}, []string{"asset_class"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "data_cache", Name: "upstream_errors_total",
			Help: "Fetches that failed after retries.",
		}, []string{"asset_class"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeloop", Subsystem: "data_cache", Name: "entries",
			Help: "Live cache entries.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.hits, m.misses, m.fetches, m.errors, m.entries} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) hit(req market.Request) {
	if m != nil {
		m.hits.WithLabelValues(string(req.AssetClass)).Inc()
	}
}

func (m *Metrics) miss(req market.Request) {
	if m != nil {
		m.misses.WithLabelValues(string(req.AssetClass)).Inc()
	}
}

func (m *Metrics) fetch(req market.Request) {
	if m != nil {
		m.fetches.WithLabelValues(string(req.AssetClass)).Inc()
	}
}

func (m *Metrics) fail(req market.Request) {
	if m != nil {
		m.errors.WithLabelValues(string(req.AssetClass)).Inc()
	}
}

func (m *Metrics) size(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
