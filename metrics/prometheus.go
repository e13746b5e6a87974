package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Singleton collector
	collector     *Collector
	collectorOnce sync.Once
)

// Collector holds all trading core metrics
type Collector struct {
	// Order metrics
	OrdersTotal  *prometheus.CounterVec
	OrderRejects *prometheus.CounterVec
	OrderLatency *prometheus.HistogramVec

	// Matching engine metrics
	MatchingLatency *prometheus.HistogramVec
	BookDepth       *prometheus.GaugeVec

	// Trade metrics
	TradesTotal *prometheus.CounterVec
	TradeVolume *prometheus.CounterVec

	// WebSocket metrics
	WSConnectionsActive prometheus.Gauge
	WSMessagesTotal     *prometheus.CounterVec
	WSEvictionsTotal    prometheus.Counter

	// API metrics
	APIRequestsTotal  *prometheus.CounterVec
	APIRequestLatency *prometheus.HistogramVec
}

// GetCollector returns the singleton metrics collector
func GetCollector() *Collector {
	collectorOnce.Do(func() {
		collector = newCollector()
		collector.register()
	})
	return collector
}

// newCollector creates a new metrics collector
func newCollector() *Collector {
	c := &Collector{}

	// Order metrics
	c.OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bondbook",
			Subsystem: "orders",
			Name:      "total",
			Help:      "Total number of orders submitted",
		},
		[]string{"instrument_id", "side", "type", "status"},
	)

	c.OrderRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bondbook",
			Subsystem: "orders",
			Name:      "rejects_total",
			Help:      "Orders rejected before matching, by error code",
		},
		[]string{"instrument_id", "code"},
	)

	c.OrderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bondbook",
			Subsystem: "orders",
			Name:      "latency_ms",
			Help:      "Order processing latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"instrument_id", "type"},
	)

	// Matching engine metrics
	c.MatchingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bondbook",
			Subsystem: "matching",
			Name:      "latency_ms",
			Help:      "Matching engine latency in milliseconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50},
		},
		[]string{"instrument_id"},
	)

	c.BookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "bondbook",
			Subsystem: "matching",
			Name:      "book_depth",
			Help:      "Number of price levels per book side",
		},
		[]string{"instrument_id", "side"},
	)

	// Trade metrics
	c.TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bondbook",
			Subsystem: "trades",
			Name:      "total",
			Help:      "Total number of executed trades",
		},
		[]string{"instrument_id"},
	)

	c.TradeVolume = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bondbook",
			Subsystem: "trades",
			Name:      "volume",
			Help:      "Total traded quantity in bond units",
		},
		[]string{"instrument_id"},
	)

	// WebSocket metrics
	c.WSConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bondbook",
			Subsystem: "ws",
			Name:      "connections_active",
			Help:      "Number of active WebSocket connections",
		},
	)

	c.WSMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bondbook",
			Subsystem: "ws",
			Name:      "messages_total",
			Help:      "WebSocket messages sent, by event type",
		},
		[]string{"type"},
	)

	c.WSEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bondbook",
			Subsystem: "ws",
			Name:      "evictions_total",
			Help:      "Connections evicted because their send buffer filled",
		},
	)

	// API metrics
	c.APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bondbook",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total API requests",
		},
		[]string{"method", "path", "status"},
	)

	c.APIRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bondbook",
			Subsystem: "api",
			Name:      "request_latency_ms",
			Help:      "API request latency in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"method", "path"},
	)

	return c
}

func (c *Collector) register() {
	prometheus.MustRegister(c.OrdersTotal)
	prometheus.MustRegister(c.OrderRejects)
	prometheus.MustRegister(c.OrderLatency)
	prometheus.MustRegister(c.MatchingLatency)
	prometheus.MustRegister(c.BookDepth)
	prometheus.MustRegister(c.TradesTotal)
	prometheus.MustRegister(c.TradeVolume)
	prometheus.MustRegister(c.WSConnectionsActive)
	prometheus.MustRegister(c.WSMessagesTotal)
	prometheus.MustRegister(c.WSEvictionsTotal)
	prometheus.MustRegister(c.APIRequestsTotal)
	prometheus.MustRegister(c.APIRequestLatency)
}

// ============ Recording Helpers ============

// RecordOrder records an accepted order and its terminal status
func (c *Collector) RecordOrder(instrumentID, side, orderType, status string) {
	c.OrdersTotal.WithLabelValues(instrumentID, side, orderType, status).Inc()
}

// RecordReject records a rejected submission by error code
func (c *Collector) RecordReject(instrumentID, code string) {
	c.OrderRejects.WithLabelValues(instrumentID, code).Inc()
}

// RecordOrderLatency records end-to-end order processing latency
func (c *Collector) RecordOrderLatency(instrumentID, orderType string, latencyMs float64) {
	c.OrderLatency.WithLabelValues(instrumentID, orderType).Observe(latencyMs)
}

// RecordTrade records one executed trade
func (c *Collector) RecordTrade(instrumentID string, volume float64) {
	c.TradesTotal.WithLabelValues(instrumentID).Inc()
	c.TradeVolume.WithLabelValues(instrumentID).Add(volume)
}

// RecordMatchingLatency records matching engine latency
func (c *Collector) RecordMatchingLatency(instrumentID string, latencyMs float64) {
	c.MatchingLatency.WithLabelValues(instrumentID).Observe(latencyMs)
}

// SetBookDepth records the number of price levels per side
func (c *Collector) SetBookDepth(instrumentID string, bidLevels, askLevels int) {
	c.BookDepth.WithLabelValues(instrumentID, "buy").Set(float64(bidLevels))
	c.BookDepth.WithLabelValues(instrumentID, "sell").Set(float64(askLevels))
}

// RecordWSConnection records WebSocket connection changes
func (c *Collector) RecordWSConnection(delta int) {
	c.WSConnectionsActive.Add(float64(delta))
}

// RecordWSMessage records a delivered WebSocket message
func (c *Collector) RecordWSMessage(eventType string) {
	c.WSMessagesTotal.WithLabelValues(eventType).Inc()
}

// RecordWSEviction records a slow client eviction
func (c *Collector) RecordWSEviction() {
	c.WSEvictionsTotal.Inc()
}

// RecordAPIRequest records an API request
func (c *Collector) RecordAPIRequest(method, path, status string, latencyMs float64) {
	c.APIRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.APIRequestLatency.WithLabelValues(method, path).Observe(latencyMs)
}

// ============ HTTP Handler ============

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for measuring latency
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ElapsedMs returns the elapsed time in milliseconds
func (t *Timer) ElapsedMs() float64 {
	return float64(time.Since(t.start).Microseconds()) / 1000.0
}
