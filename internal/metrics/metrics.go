// Package metrics exposes Prometheus collectors for timeline ingestion and
// diff publication. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every roomline collector.
type Metrics struct {
	Ingested     *prometheus.CounterVec
	Discarded    *prometheus.CounterVec
	DiffOps      *prometheus.CounterVec
	Resyncs      *prometheus.CounterVec
	Pending      *prometheus.GaugeVec
	Items        *prometheus.GaugeVec
	Subscribers  *prometheus.GaugeVec
	DecryptCalls *prometheus.CounterVec
}

// New registers the collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_ingested_total",
			Help:      "Ingestion commands applied, by kind.",
		}, []string{"room", "kind"}),
		Discarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_discarded_total",
			Help:      "Events dropped by the normalizer, by reason.",
		}, []string{"room", "reason"}),
		DiffOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diff_ops_published_total",
			Help:      "Diff operations published to the full stream, by op.",
		}, []string{"room", "op"}),
		Resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_resyncs_total",
			Help:      "Lagging subscribers resynchronized with a reset.",
		}, []string{"room"}),
		Pending: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_relation_targets",
			Help:      "Relation targets whose event has not been seen.",
		}, []string{"room"}),
		Items: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projection_items",
			Help:      "Items in the projection, virtual items included.",
		}, []string{"room"}),
		Subscribers: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Attached subscriptions.",
		}, []string{"room"}),
		DecryptCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decryption_attempts_total",
			Help:      "Calls to the decryptor, by outcome.",
		}, []string{"room", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// CommandIngested counts an applied command.
func (m *Metrics) CommandIngested(room, kind string) {
	if m == nil {
		return
	}
	m.Ingested.WithLabelValues(room, kind).Inc()
}

// EventDiscarded counts a normalizer discard.
func (m *Metrics) EventDiscarded(room, reason string) {
	if m == nil {
		return
	}
	m.Discarded.WithLabelValues(room, reason).Inc()
}

// OpPublished counts a published diff op.
func (m *Metrics) OpPublished(room, op string) {
	if m == nil {
		return
	}
	m.DiffOps.WithLabelValues(room, op).Inc()
}

// SubscriberResynced counts a reset caused by a full queue.
func (m *Metrics) SubscriberResynced(room string) {
	if m == nil {
		return
	}
	m.Resyncs.WithLabelValues(room).Inc()
}

// DecryptionAttempted counts a decryptor call.
func (m *Metrics) DecryptionAttempted(room, outcome string) {
	if m == nil {
		return
	}
	m.DecryptCalls.WithLabelValues(room, outcome).Inc()
}

// Observe records the projection gauges.
func (m *Metrics) Observe(room string, items, pending, subscribers int) {
	if m == nil {
		return
	}
	m.Items.WithLabelValues(room).Set(float64(items))
	m.Pending.WithLabelValues(room).Set(float64(pending))
	m.Subscribers.WithLabelValues(room).Set(float64(subscribers))
}
