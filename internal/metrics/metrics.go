// Package metrics exposes Prometheus counters for the analysis pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pharmgx"

// Collector records pipeline and explanation outcomes on its own registry.
// It satisfies service.AnalysisRecorder and service.ExplanationRecorder.
type Collector struct {
	registry *prometheus.Registry

	analyses         *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	results          *prometheus.CounterVec
	unsupported      prometheus.Counter
	explanations     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process collectors attached
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Variant file analyses by parse outcome.",
		}, []string{"parse"}),
		analysisDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of one analysis including explanations.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drug_results_total",
			Help:      "Drug results emitted by drug and risk label.",
		}, []string{"drug", "risk_label"}),
		unsupported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsupported_drugs_total",
			Help:      "Requested drugs dropped because they are not in the registry.",
		}),
		explanations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "explanations_total",
			Help:      "Explanations by the tier that produced them.",
		}, []string{"source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.analyses,
		c.analysisDuration,
		c.results,
		c.unsupported,
		c.explanations,
		c.httpRequests,
	)
	return c
}

// RecordAnalysis counts one analysis and observes its duration
func (c *Collector) RecordAnalysis(parseSucceeded bool, duration time.Duration) {
	outcome := "ok"
	if !parseSucceeded {
		outcome = "failed"
	}
	c.analyses.WithLabelValues(outcome).Inc()
	c.analysisDuration.Observe(duration.Seconds())
}

// RecordResult counts one emitted drug result
func (c *Collector) RecordResult(drug, riskLabel string) {
	c.results.WithLabelValues(drug, riskLabel).Inc()
}

// RecordUnsupportedDrug counts one dropped drug name
func (c *Collector) RecordUnsupportedDrug() {
	c.unsupported.Inc()
}

// RecordExplanation counts one explanation by source tier
func (c *Collector) RecordExplanation(source string) {
	c.explanations.WithLabelValues(source).Inc()
}

// RecordHTTPRequest counts one served HTTP request
func (c *Collector) RecordHTTPRequest(method, route string, status int) {
	c.httpRequests.WithLabelValues(method, route, http.StatusText(status)).Inc()
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
