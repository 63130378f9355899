// Package metrics provides custom Prometheus metrics for birdnet-walker.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/birdnet-walker/internal/errors"
)

// BirdNETMetrics contains all Prometheus metrics related to classifier calls.
type BirdNETMetrics struct {
	DetectionCounter *prometheus.CounterVec

	PredictionDuration *prometheus.HistogramVec
	EncodeDuration     *prometheus.HistogramVec

	PredictionTotal  *prometheus.CounterVec
	PredictionErrors *prometheus.CounterVec
}

// NewBirdNETMetrics creates a new instance of BirdNETMetrics and registers it
// with registry.
func NewBirdNETMetrics(registry *prometheus.Registry) (*BirdNETMetrics, error) {
	m := &BirdNETMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register BirdNET metrics: %w", err)
	}
	return m, nil
}

func (m *BirdNETMetrics) initMetrics() {
	m.DetectionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdnet_detections",
			Help: "Total number of BirdNET detections partitioned by species name.",
		},
		[]string{"species"},
	)

	// a recording takes seconds to minutes depending on its length
	m.PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdnet_prediction_duration_seconds",
			Help:    "Time taken to classify one recording",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		},
		[]string{"backend"},
	)
	m.EncodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "birdnet_encode_duration_seconds",
			Help:    "Time taken to compute the embeddings of one recording",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"backend"},
	)

	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdnet_predictions_total",
			Help: "Total number of classification requests",
		},
		[]string{"backend", "status"},
	)
	m.PredictionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "birdnet_prediction_errors_total",
			Help: "Total number of classification errors",
		},
		[]string{"backend", "error_type"},
	)
}

// IncrementDetectionCounter increments the detection counter for a given species.
func (m *BirdNETMetrics) IncrementDetectionCounter(speciesName string) {
	m.DetectionCounter.WithLabelValues(speciesName).Inc()
}

// RecordPrediction records metrics for a classification call
func (m *BirdNETMetrics) RecordPrediction(backend string, durationSeconds float64, err error) {
	if err != nil {
		m.PredictionTotal.WithLabelValues(backend, "error").Inc()
		m.PredictionErrors.WithLabelValues(backend, categorizeError(err)).Inc()
		return
	}
	m.PredictionTotal.WithLabelValues(backend, "success").Inc()
	m.PredictionDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordEncode records the duration of an embedding call
func (m *BirdNETMetrics) RecordEncode(backend string, durationSeconds float64) {
	m.EncodeDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// categorizeError returns the error category used as metric label
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	var catErr errors.CategorizedError
	if errors.As(err, &catErr) {
		return string(catErr.ErrorCategory())
	}
	var enhErr *errors.EnhancedError
	if errors.As(err, &enhErr) {
		return enhErr.GetCategory()
	}
	return string(errors.CategoryGeneric)
}

// Describe implements the prometheus.Collector interface.
func (m *BirdNETMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DetectionCounter.Describe(ch)
	m.PredictionDuration.Describe(ch)
	m.EncodeDuration.Describe(ch)
	m.PredictionTotal.Describe(ch)
	m.PredictionErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *BirdNETMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DetectionCounter.Collect(ch)
	m.PredictionDuration.Collect(ch)
	m.EncodeDuration.Collect(ch)
	m.PredictionTotal.Collect(ch)
	m.PredictionErrors.Collect(ch)
}
