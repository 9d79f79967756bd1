package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PipelineOutcomes counts terminal pipeline states:
	// done, not_found, range_invalid, failed.
	PipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipseek",
			Name:      "pipeline_outcomes_total",
			Help:      "Terminal pipeline outcomes",
		},
		[]string{"outcome"},
	)

	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clipseek",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end processing duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "clipseek",
			Name:      "upload_bytes_total",
			Help:      "Total bytes staged from client uploads",
		},
	)

	ChatRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clipseek",
			Name:      "chat_requests_total",
			Help:      "Chat requests by status",
		},
		[]string{"status"},
	)
)

// RecordOutcome records one finished pipeline run.
func RecordOutcome(outcome string, durationSec float64) {
	PipelineOutcomes.WithLabelValues(outcome).Inc()
	PipelineDuration.Observe(durationSec)
}

// RecordUpload records staged upload bytes.
func RecordUpload(bytes int64) {
	UploadBytesTotal.Add(float64(bytes))
}

// RecordChat records one chat request.
func RecordChat(status string) {
	ChatRequestsTotal.WithLabelValues(status).Inc()
}
