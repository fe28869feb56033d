package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type MarketMetrics struct {
	listings    *prometheus.CounterVec
	settlements *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide marketplace metrics.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			listings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_listings_total",
				Help: "Count of listings opened by settlement variant.",
			}, []string{"variant"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_settlements_total",
				Help: "Count of listings settled by settlement variant.",
			}, []string{"variant"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_rejections_total",
				Help: "Count of rejected marketplace invocations by operation and reason.",
			}, []string{"op", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "market_invocation_seconds",
				Help:    "Latency of marketplace invocations including lock waits.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
		}
		prometheus.MustRegister(
			marketRegistry.listings,
			marketRegistry.settlements,
			marketRegistry.rejections,
			marketRegistry.latency,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveListing(variant string) {
	if m == nil {
		return
	}
	m.listings.WithLabelValues(normalize(variant)).Inc()
}

func (m *MarketMetrics) ObserveSettlement(variant string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalize(variant)).Inc()
}

func (m *MarketMetrics) ObserveRejection(op, reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normalize(op), normalize(reason)).Inc()
}

func (m *MarketMetrics) ObserveLatency(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(normalize(op)).Observe(d.Seconds())
}

func normalize(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "unknown"
	}
	return label
}
