package coordinator

import (
	"tradeloop/internal/types"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the coordinator's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	stages      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	invalid     prometheus.Counter
	executions  prometheus.Counter
	closed      prometheus.Counter
	adaptations *prometheus.CounterVec
	mailbox     prometheus.Gauge
	pending     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "pipeline", Name: "stage_transitions_total",
			Help: "Candidates entering each stage.",
		}, []string{"stage"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "pipeline", Name: "dropped_total",
			Help: "Dropped candidates by reason.",
		}, []string{"reason"}),
		invalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "pipeline", Name: "invalid_transitions_total",
			Help: "Refused stage transitions.",
		}),
		executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "coordinator", Name: "executions_total",
			Help: "Opportunities accepted by the executor.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "coordinator", Name: "trades_closed_total",
			Help: "Closed trades delivered to the learners.",
		}),
		adaptations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tradeloop", Subsystem: "learning", Name: "adaptations_total",
			Help: "Adaptation cycles that changed something, by learner.",
		}, []string{"learner"}),
		mailbox: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeloop", Subsystem: "coordinator", Name: "mailbox_depth",
			Help: "Messages waiting for the decision loop.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tradeloop", Subsystem: "coordinator", Name: "pending_approvals",
			Help: "Opportunities waiting for approval.",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.stages, m.dropped, m.invalid, m.executions, m.closed, m.adaptations, m.mailbox, m.pending} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) stage(s types.Stage, reason string) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(string(s)).Inc()
	if s == types.StageDropped {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) invalidTransition() {
	if m != nil {
		m.invalid.Inc()
	}
}

func (m *Metrics) executed() {
	if m != nil {
		m.executions.Inc()
	}
}

func (m *Metrics) tradeClosed() {
	if m != nil {
		m.closed.Inc()
	}
}

func (m *Metrics) adaptation(learner string) {
	if m != nil {
		m.adaptations.WithLabelValues(learner).Inc()
	}
}

func (m *Metrics) depth(n int) {
	if m != nil {
		m.mailbox.Set(float64(n))
	}
}

func (m *Metrics) pendingApprovals(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}
