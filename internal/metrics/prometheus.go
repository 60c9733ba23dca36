package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the tracker
type Metrics struct {
	// UDP packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	PacketsDropped   prometheus.Counter
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Lobby metrics
	ActiveLobbies    prometheus.Gauge
	LobbiesInserted  prometheus.Counter
	LobbiesRemoved   prometheus.Counter
	LobbiesExpired   prometheus.Counter

	// Query metrics
	QueriesServed   prometheus.Counter
	ResponsesSent   prometheus.Counter
	SendErrors      prometheus.Counter
	ResponseBatch   prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// UDP packet metrics
		PacketsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		PacketsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_packets_processed_total",
			Help: "Total number of UDP datagrams successfully processed",
		}),
		PacketsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_packets_dropped_total",
			Help: "Total number of datagrams dropped because the work queue was full",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_parse_errors_total",
			Help: "Total number of datagram parsing errors",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ratd_packet_queue_size",
			Help: "Current number of datagrams in the processing queue",
		}),

		// Lobby metrics
		ActiveLobbies: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ratd_active_lobbies",
			Help: "Current number of registered lobbies",
		}),
		LobbiesInserted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_lobbies_inserted_total",
			Help: "Total number of lobby announcements accepted",
		}),
		LobbiesRemoved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_lobbies_removed_total",
			Help: "Total number of lobbies removed by goodbye datagrams",
		}),
		LobbiesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_lobbies_expired_total",
			Help: "Total number of lobbies removed by the expiry sweep",
		}),

		// Query metrics
		QueriesServed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_queries_served_total",
			Help: "Total number of query datagrams answered",
		}),
		ResponsesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_responses_sent_total",
			Help: "Total number of response datagrams sent",
		}),
		SendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ratd_send_errors_total",
			Help: "Total number of response send failures",
		}),
		ResponseBatch: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratd_response_batch_size",
			Help:    "Number of responses sent per query",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ratd_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratd_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ratd_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	m.PacketsProcessed.Inc()
}

// RecordPacketDropped increments the dropped packets counter
func (m *Metrics) RecordPacketDropped() {
	m.PacketsDropped.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// SetActiveLobbies sets the current number of registered lobbies
func (m *Metrics) SetActiveLobbies(count int) {
	m.ActiveLobbies.Set(float64(count))
}

// RecordLobbyInserted increments the lobbies inserted counter
func (m *Metrics) RecordLobbyInserted() {
	m.LobbiesInserted.Inc()
}

// RecordLobbyRemoved increments the lobbies removed counter
func (m *Metrics) RecordLobbyRemoved() {
	m.LobbiesRemoved.Inc()
}

// RecordLobbiesExpired adds to the expired lobbies counter
func (m *Metrics) RecordLobbiesExpired(count int) {
	m.LobbiesExpired.Add(float64(count))
}

// RecordQueryServed records one answered query and its batch size
func (m *Metrics) RecordQueryServed(responses int) {
	m.QueriesServed.Inc()
	m.ResponseBatch.Observe(float64(responses))
}

// RecordResponseSent increments the responses sent counter
func (m *Metrics) RecordResponseSent() {
	m.ResponsesSent.Inc()
}

// RecordSendError increments the send errors counter
func (m *Metrics) RecordSendError() {
	m.SendErrors.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
