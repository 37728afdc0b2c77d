// Package metrics provides Prometheus metrics for apimeta.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics.
type Collector struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Document pipeline
	Validations     *prometheus.CounterVec
	Transforms      *prometheus.CounterVec
	RawDecodeErrors *prometheus.CounterVec
	Published       *prometheus.CounterVec

	// Schema source
	SchemaFetchDuration prometheus.Histogram
}

// New registers the collector on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collector on reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeta",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "apimeta",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		),
		Validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeta",
				Name:      "validations_total",
				Help:      "Documents validated, by verdict",
			},
			[]string{"result"},
		),
		Transforms: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeta",
				Name:      "transforms_total",
				Help:      "Index transforms, by outcome",
			},
			[]string{"result"},
		),
		RawDecodeErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeta",
				Name:      "raw_decode_errors_total",
				Help:      "Malformed raw tokens, by failing stage",
			},
			[]string{"stage"},
		),
		Published: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "apimeta",
				Name:      "published_total",
				Help:      "Index documents handed to the publisher, by outcome",
			},
			[]string{"result"},
		),
		SchemaFetchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "apimeta",
				Name:      "schema_fetch_duration_seconds",
				Help:      "Time to fetch and compile the JSON Schema",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}

// RecordValidation counts one validation verdict.
func (c *Collector) RecordValidation(valid bool) {
	if valid {
		c.Validations.WithLabelValues("valid").Inc()
		return
	}
	c.Validations.WithLabelValues("invalid").Inc()
}

// RecordTransform counts one transform outcome.
func (c *Collector) RecordTransform(err error) {
	if err != nil {
		c.Transforms.WithLabelValues("error").Inc()
		return
	}
	c.Transforms.WithLabelValues("ok").Inc()
}
