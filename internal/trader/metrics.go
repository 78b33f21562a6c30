package trader

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the executor's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	orders    *prometheus.CounterVec
	refused   *prometheus.CounterVec
	positions prometheus.Gauge
	halted    prometheus.Gauge
	realized  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "executor", Name: "orders_total",
			Help: "Broker orders by action and result.",
		}, []string{"action", "result"}),
		refused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "executor", Name: "refused_total",
			Help: "Entries refused before reaching the broker, by reason.",
		}, []string{"reason"}),
		positions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeloop", Subsystem: "executor", Name: "open_positions",
			Help: "Open positions.",
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeloop", Subsystem: "executor", Name: "halted",
			Help: "1 after a persistence failure stopped order placement.",
		}),
		realized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeloop", Subsystem: "executor", Name: "realized_pnl",
			Help: "Cumulative realized P&L.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.orders, m.refused, m.positions, m.halted, m.realized} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) order(action string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.orders.WithLabelValues(action, result).Inc()
}

func (m *Metrics) refuse(reason string) {
	if m != nil {
		m.refused.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) observe(s *State) {
	if m == nil {
		return
	}
	m.positions.Set(float64(len(s.Positions)))
	m.realized.Set(s.Realized)
	if s.Halted {
		m.halted.Set(1)
	} else {
		m.halted.Set(0)
	}
}
