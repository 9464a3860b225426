package usecase

import (
	"sync"
	"time"

	"github.com/example/tumor-detect/internal/detection"
)

// MetricsSummary represents aggregated detection insights since process start.
type MetricsSummary struct {
	TotalDetections           int64   `json:"total_detections"`
	SuccessfulDetections      int64   `json:"successful_detections"`
	TumorsDetected            int64   `json:"tumors_detected"`
	MissingImageErrors        int64   `json:"missing_image_errors"`
	ServerErrors              int64   `json:"server_errors"`
	ProcessingErrors          int64   `json:"processing_errors"`
	DiscardedStaleOutcomes    int64   `json:"discarded_stale_outcomes"`
	SuccessRate               float64 `json:"success_rate"`
	AverageInferenceLatencyMs float64 `json:"average_inference_latency_ms"`
}

type metrics struct {
	mu           sync.Mutex
	summaryState MetricsSummary
	latencyTotal time.Duration
	latencyCount int64
}

func (m *metrics) recordSuccess(hasTumor bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaryState.TotalDetections++
	m.summaryState.SuccessfulDetections++
	if hasTumor {
		m.summaryState.TumorsDetected++
	}
}

func (m *metrics) recordFailure(kind detection.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case detection.KindMissingImage:
		m.summaryState.MissingImageErrors++
		return
	case detection.KindServer:
		m.summaryState.ServerErrors++
	default:
		m.summaryState.ProcessingErrors++
	}
	m.summaryState.TotalDetections++
}

func (m *metrics) recordStale() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaryState.TotalDetections++
	m.summaryState.DiscardedStaleOutcomes++
}

func (m *metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencyTotal += d
	m.latencyCount++
}

func (m *metrics) summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := m.summaryState
	if summary.TotalDetections > 0 {
		summary.SuccessRate = float64(summary.SuccessfulDetections) / float64(summary.TotalDetections)
	}
	if m.latencyCount > 0 {
		summary.AverageInferenceLatencyMs = float64(m.latencyTotal.Microseconds()) / float64(m.latencyCount) / 1000
	}
	return summary
}
