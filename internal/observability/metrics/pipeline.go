package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the producer/writer pipeline
type PipelineMetrics struct {
	FilesTotal        *prometheus.CounterVec
	RecoveredFiles    *prometheus.CounterVec
	WriteDuration     prometheus.Histogram
	WriteErrors       prometheus.Counter
	QueueWaitDuration prometheus.Histogram
	EmbeddingRows     prometheus.Counter
	FoldersTotal      *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		FilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walker_files_total",
			Help: "Recordings handled, partitioned by final status",
		}, []string{"status"}),
		RecoveredFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walker_recovered_files_total",
			Help: "Recordings touched by startup recovery",
		}, []string{"action"}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "walker_write_duration_seconds",
			Help:    "Time taken to commit the detections of one recording",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		WriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walker_write_errors_total",
			Help: "Detection batches that failed to commit",
		}),
		QueueWaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "walker_queue_wait_duration_seconds",
			Help:    "Time the producer waited for space in the write queue",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		EmbeddingRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "walker_embedding_rows_total",
			Help: "Embedding vectors appended to the vector store",
		}),
		FoldersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "walker_folders_total",
			Help: "Folders visited, partitioned by outcome",
		}, []string{"status"}),
	}

	collectors := []prometheus.Collector{
		m.FilesTotal, m.RecoveredFiles, m.WriteDuration, m.WriteErrors,
		m.QueueWaitDuration, m.EmbeddingRows, m.FoldersTotal,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

// RecordFile counts a recording that reached status.
func (m *PipelineMetrics) RecordFile(status string) {
	m.FilesTotal.WithLabelValues(status).Inc()
}

// RecordWrite records a detection batch commit.
func (m *PipelineMetrics) RecordWrite(durationSeconds float64, err error) {
	if err != nil {
		m.WriteErrors.Inc()
		return
	}
	m.WriteDuration.Observe(durationSeconds)
}

// RecordRecovery counts recordings repaired or reset at startup.
func (m *PipelineMetrics) RecordRecovery(action string, count int) {
	if count > 0 {
		m.RecoveredFiles.WithLabelValues(action).Add(float64(count))
	}
}
