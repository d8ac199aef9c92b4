// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// ChainMetrics records node and chain executions. A nil *ChainMetrics is
// valid and records nothing.
type ChainMetrics struct {
	nodes        *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	chains       *prometheus.CounterVec
}

// NewChainMetrics creates the collectors and registers them on reg. A nil
// reg leaves them unregistered, which is useful in tests.
func NewChainMetrics(reg prometheus.Registerer) (*ChainMetrics, error) {
	m := &ChainMetrics{
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluentweb",
			Name:      "nodes_total",
			Help:      "Chain nodes executed, by node kind and outcome.",
		}, []string{"kind", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluentweb",
			Name:      "node_duration_seconds",
			Help:      "Time spent executing a chain node across all backends.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"kind"}),
		chains: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluentweb",
			Name:      "chains_total",
			Help:      "Method chains awaited, by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.nodes, m.nodeDuration, m.chains} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveNode records one node execution.
func (m *ChainMetrics) ObserveNode(kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(kind, outcome(err)).Inc()
	m.nodeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SkipNode records a node that never ran because an earlier node failed.
func (m *ChainMetrics) SkipNode(kind string) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(kind, OutcomeSkipped).Inc()
}

// ObserveChain records the end of one chain.
func (m *ChainMetrics) ObserveChain(err error) {
	if m == nil {
		return
	}
	m.chains.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
