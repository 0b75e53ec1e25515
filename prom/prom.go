// Package prom provides Prometheus instrumentation for recache: an
// Observability implementation recording fetch/write/apply metrics, and a
// Collector exposing cache occupancy and subscriber interest as gauges.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jilio/recache"
)

const namespace = "recache"

// Observability implements recache.Observability with Prometheus metrics.
type Observability struct {
	fetches      *prometheus.CounterVec
	fetchSeconds *prometheus.HistogramVec
	writes       *prometheus.CounterVec
	writeSeconds *prometheus.HistogramVec
	applies      *prometheus.CounterVec
	entities     prometheus.Gauge
}

// New creates the instrumentation and registers it with reg.
func New(reg prometheus.Registerer) (*Observability, error) {
	o := &Observability{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Remote fetches by scope and outcome.",
		}, []string{"scope", "outcome"}),
		fetchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Remote fetch duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"scope"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "writes_total",
			Help:      "Write-through calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		writeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Write-through call duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applies_total",
			Help:      "Derivation recomputations by origin.",
		}, []string{"origin"}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Entities in the canonical map.",
		}),
	}

	for _, c := range []prometheus.Collector{
		o.fetches, o.fetchSeconds, o.writes, o.writeSeconds, o.applies, o.entities,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// OnFetchStart implements recache.Observability.
func (o *Observability) OnFetchStart(ctx context.Context, scope, key string) context.Context {
	return ctx
}

// OnFetchComplete implements recache.Observability.
func (o *Observability) OnFetchComplete(ctx context.Context, scope, key string, d time.Duration, err error) {
	o.fetches.WithLabelValues(scope, outcome(err)).Inc()
	o.fetchSeconds.WithLabelValues(scope).Observe(d.Seconds())
}

// OnWriteStart implements recache.Observability.
func (o *Observability) OnWriteStart(ctx context.Context, op string) context.Context {
	return ctx
}

// OnWriteComplete implements recache.Observability.
func (o *Observability) OnWriteComplete(ctx context.Context, op string, d time.Duration, err error) {
	o.writes.WithLabelValues(op, outcome(err)).Inc()
	o.writeSeconds.WithLabelValues(op).Observe(d.Seconds())
}

// OnApply implements recache.Observability.
func (o *Observability) OnApply(origin string, size int) {
	o.applies.WithLabelValues(origin).Inc()
	o.entities.Set(float64(size))
}

// StatsSource is the part of a recache.Cache the collector reads.
type StatsSource interface {
	Stats() recache.Stats
}

// Collector exposes point-in-time cache stats on every scrape. Register it
// alongside (or instead of) the Observability when gauges sampled at scrape
// time are preferred over event-driven updates.
type Collector struct {
	src StatsSource

	entities       *prometheus.Desc
	collectionSubs *prometheus.Desc
	keyStreams     *prometheus.Desc
	keySubs        *prometheus.Desc
}

// NewCollector creates a Collector reading from src.
func NewCollector(src StatsSource) *Collector {
	return &Collector{
		src: src,
		entities: prometheus.NewDesc(
			namespace+"_cached_entities",
			"Entities in the canonical map.", nil, nil),
		collectionSubs: prometheus.NewDesc(
			namespace+"_collection_subscribers",
			"Live full-collection subscribers.", nil, nil),
		keyStreams: prometheus.NewDesc(
			namespace+"_key_streams",
			"Materialized per-key streams.", nil, nil),
		keySubs: prometheus.NewDesc(
			namespace+"_key_subscribers",
			"Live per-key subscribers across all keys.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entities
	ch <- c.collectionSubs
	ch <- c.keyStreams
	ch <- c.keySubs
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.entities, prometheus.GaugeValue, float64(s.Entities))
	ch <- prometheus.MustNewConstMetric(c.collectionSubs, prometheus.GaugeValue, float64(s.CollectionSubs))
	ch <- prometheus.MustNewConstMetric(c.keyStreams, prometheus.GaugeValue, float64(s.KeyStreams))
	ch <- prometheus.MustNewConstMetric(c.keySubs, prometheus.GaugeValue, float64(s.KeySubs))
}
