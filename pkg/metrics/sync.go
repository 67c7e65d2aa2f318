package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cartsync"

// SyncMetrics records what the optimistic mutation engine does with the remote cart.
type SyncMetrics struct {
	mutations       *prometheus.CounterVec
	remoteDuration  *prometheus.HistogramVec
	reconciliations *prometheus.CounterVec
	coalesced       prometheus.Counter
	messages        *prometheus.CounterVec
	sessions        prometheus.Gauge
}

// NewSyncMetrics registers the engine metrics on the provided registerer.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Settled cart mutations by operation and outcome.",
	}, []string{"op", "outcome"})
	remoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "remote_call_duration_seconds",
		Help:      "Duration of remote cart gateway calls in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Authoritative cart refetches by outcome.",
	}, []string{"outcome"})
	coalesced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debounce_coalesced_total",
		Help:      "Quantity edits superseded before their debounce timer fired.",
	})
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_total",
		Help:      "User-facing messages enqueued by kind.",
	}, []string{"kind"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Shopping sessions with a live engine.",
	})
	reg.MustRegister(mutations, remoteDuration, reconciliations, coalesced, messages, sessions)
	return &SyncMetrics{
		mutations:       mutations,
		remoteDuration:  remoteDuration,
		reconciliations: reconciliations,
		coalesced:       coalesced,
		messages:        messages,
		sessions:        sessions,
	}
}

// ObserveRemoteCall records the duration of a gateway call.
func (m *SyncMetrics) ObserveRemoteCall(op string, duration time.Duration) {
	if m == nil || m.remoteDuration == nil {
		return
	}
	m.remoteDuration.WithLabelValues(normalizeLabel(op)).Observe(duration.Seconds())
}

// IncMutation counts a settled mutation.
func (m *SyncMetrics) IncMutation(op, outcome string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(op), normalizeLabel(outcome)).Inc()
}

// IncReconciliation counts a reconciliation fetch.
func (m *SyncMetrics) IncReconciliation(outcome string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCoalesced counts a debounced edit replaced by a newer one.
func (m *SyncMetrics) IncCoalesced() {
	if m == nil || m.coalesced == nil {
		return
	}
	m.coalesced.Inc()
}

// IncMessage counts an enqueued UI message.
func (m *SyncMetrics) IncMessage(isError bool) {
	if m == nil || m.messages == nil {
		return
	}
	kind := "info"
	if isError {
		kind = "error"
	}
	m.messages.WithLabelValues(kind).Inc()
}

// SetSessions reports the number of live session engines.
func (m *SyncMetrics) SetSessions(n int) {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.Set(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
