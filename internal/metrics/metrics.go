// Package metrics exposes Prometheus collectors for scoring, ingestion and
// recommendation traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "riskfolio"

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	profilesScored  *prometheus.CounterVec
	invalidAnswers  *prometheus.CounterVec
	docsIngested    *prometheus.CounterVec
	chunksIngested  prometheus.Counter
	storeVersion    prometheus.Gauge
	recommendations *prometheus.CounterVec
	recommendTime   prometheus.Histogram
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		profilesScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_scored_total",
			Help:      "Questionnaires scored, by resulting risk level.",
		}, []string{"risk_level"}),
		invalidAnswers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_answers_total",
			Help:      "Questionnaires rejected, by offending question.",
		}, []string{"question"}),
		docsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Documents loaded from sources, by source kind.",
		}, []string{"kind"}),
		chunksIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_ingested_total",
			Help:      "Chunks written to the document store.",
		}),
		storeVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_generation",
			Help:      "Generation number of the live document store.",
		}),
		recommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_total",
			Help:      "Recommendation requests, by outcome.",
		}, []string{"outcome"}),
		recommendTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recommendation_duration_seconds",
			Help:      "Latency of recommendation requests including retrieval and LLM call.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
	}
	reg.MustRegister(
		m.profilesScored,
		m.invalidAnswers,
		m.docsIngested,
		m.chunksIngested,
		m.storeVersion,
		m.recommendations,
		m.recommendTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ProfileScored(riskLevel string) {
	if m == nil {
		return
	}
	m.profilesScored.WithLabelValues(riskLevel).Inc()
}

func (m *Metrics) InvalidAnswer(question string) {
	if m == nil {
		return
	}
	m.invalidAnswers.WithLabelValues(question).Inc()
}

// Ingested records one completed ingestion: documents per source kind, the
// chunk count and the new store generation.
func (m *Metrics) Ingested(docsByKind map[string]int, chunks int, generation uint64) {
	if m == nil {
		return
	}
	for kind, n := range docsByKind {
		m.docsIngested.WithLabelValues(kind).Add(float64(n))
	}
	m.chunksIngested.Add(float64(chunks))
	m.storeVersion.Set(float64(generation))
}

// Recommended records a recommendation outcome ("ok", "cached",
// "no_documents", "invalid", "error") and its latency.
func (m *Metrics) Recommended(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.recommendations.WithLabelValues(outcome).Inc()
	m.recommendTime.Observe(d.Seconds())
}
