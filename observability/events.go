package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted   *prometheus.CounterVec
	transfers *prometheus.CounterVec
	volume    *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowmarket",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowmarket",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of token transfers segmented by mint.",
			}, []string{"mint"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrowmarket",
				Subsystem: "events",
				Name:      "transfer_volume_total",
				Help:      "Sum of transferred units segmented by mint.",
			}, []string{"mint"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.transfers, eventRegistry.volume)
	})
	return eventRegistry
}

// RecordEvent increments the counter for a committed event type.
func (m *eventMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

// RecordTransfer accounts one token transfer of amount units of mint.
func (m *eventMetrics) RecordTransfer(mint string, amount uint64) {
	if m == nil {
		return
	}
	mint = strings.TrimSpace(mint)
	if mint == "" {
		mint = "unknown"
	}
	m.transfers.WithLabelValues(mint).Inc()
	m.volume.WithLabelValues(mint).Add(float64(amount))
}
