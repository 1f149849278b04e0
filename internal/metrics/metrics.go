// Package metrics holds the Prometheus collectors for remote calls, cache
// traffic and reorder gestures.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "perpetua"

// Metrics groups every collector the engine updates.
type Metrics struct {
	GatewayCalls       *prometheus.CounterVec
	GatewayLatency     *prometheus.HistogramVec
	CacheLookups       *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	ReorderRejections  *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Remote calls by operation and outcome kind",
		}, []string{"op", "kind"}),
		GatewayLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Remote call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by freshness status",
		}, []string{"status"}),
		CacheInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidated_entries_total",
			Help:      "Cache entries dropped by invalidation axis",
		}, []string{"axis"}),
		ReorderRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorder_rejections_total",
			Help:      "Reorder gestures refused before reaching the authority",
		}, []string{"reason"}),
		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Optimistic changes rolled back by reloading canonical state",
		}, []string{"op"}),
	}
}

// ObserveCall records one remote call.
func (m *Metrics) ObserveCall(op, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayCalls.WithLabelValues(op, kind).Inc()
	m.GatewayLatency.WithLabelValues(op).Observe(d.Seconds())
}

// CacheLookup records a lookup with status "miss", "fresh" or "stale".
func (m *Metrics) CacheLookup(status string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(status).Inc()
}

// Invalidated records n entries dropped along axis ("principal" or "shelf").
func (m *Metrics) Invalidated(axis string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CacheInvalidations.WithLabelValues(axis).Add(float64(n))
}

// ReorderRejected records a gesture refused for reason.
func (m *Metrics) ReorderRejected(reason string) {
	if m == nil {
		return
	}
	m.ReorderRejections.WithLabelValues(reason).Inc()
}

// Compensated records a rollback of an optimistic change.
func (m *Metrics) Compensated(op string) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(op).Inc()
}

// Dump writes counters and histogram sample counts from g as
// "name{labels} value" lines, sorted by name.
func Dump(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var value string
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = fmt.Sprintf("%g", m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				value = fmt.Sprintf("%g", m.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				value = fmt.Sprintf("%d", m.GetHistogram().GetSampleCount())
			default:
				continue
			}
			if _, err := fmt.Fprintf(w, "%s%s %s\n", mf.GetName(), labels(m.GetLabel()), value); err != nil {
				return err
			}
		}
	}
	return nil
}

func labels(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = fmt.Sprintf("%s=%q", p.GetName(), p.GetValue())
	}
	return "{" + strings.Join(parts, ",") + "}"
}
