package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the indexer.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics; every
// recording helper is safe to call on a nil receiver.
type Metrics struct {
	// Solana RPC metrics
	rpcCallsTotal       *prometheus.CounterVec
	rpcCallDuration     *prometheus.HistogramVec
	rpcRetries          *prometheus.CounterVec
	rpcBatchSize        *prometheus.HistogramVec
	limiterWaitDuration *prometheus.HistogramVec

	// Ingestion metrics
	crawlPagesTotal        *prometheus.CounterVec
	signaturesSkippedTotal *prometheus.CounterVec
	wsReconnectsTotal      *prometheus.CounterVec
	wsNotificationsTotal   *prometheus.CounterVec

	// Decoding metrics
	eventsDecodedTotal   *prometheus.CounterVec
	accountsDecodedTotal *prometheus.CounterVec
	decodeSkipsTotal     *prometheus.CounterVec

	// Wealth metrics
	wealthSamplesTotal *prometheus.CounterVec
	priceLookupsTotal  *prometheus.CounterVec
	mintLookupsTotal   *prometheus.CounterVec

	// Database metrics
	dbOperationsTotal *prometheus.CounterVec
	dbQueryDuration   *prometheus.HistogramVec

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		rpcCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		rpcCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		rpcRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		rpcBatchSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_batch_size",
				Help:    "Number of sub-requests folded into one JSON-RPC batch call",
				Buckets: []float64{1, 5, 10, 25, 50, 100},
			},
			[]string{"method"},
		),
		limiterWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rate_limiter_wait_duration_seconds",
				Help:    "Time spent waiting for rate limiter admission",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"caller"},
		),
		crawlPagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Total number of signature pages crawled during backfill",
			},
			[]string{"address", "status"},
		),
		signaturesSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signatures_skipped_total",
				Help: "Total number of signatures skipped by the dedup filter",
			},
			[]string{"address"},
		),
		wsReconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_reconnects_total",
				Help: "Total number of websocket reconnect attempts",
			},
			[]string{"address"},
		),
		wsNotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ws_notifications_total",
				Help: "Total number of transaction notifications received",
			},
			[]string{"address", "status"},
		),
		eventsDecodedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "events_decoded_total",
				Help: "Total number of program instructions decoded into events",
			},
			[]string{"type"},
		),
		accountsDecodedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "accounts_decoded_total",
				Help: "Total number of program accounts decoded",
			},
			[]string{"type"},
		),
		decodeSkipsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "decode_skips_total",
				Help: "Total number of instructions/accounts skipped during decode",
			},
			[]string{"reason"},
		),
		wealthSamplesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wealth_samples_total",
				Help: "Total number of wealth snapshots computed",
			},
			[]string{"status"},
		),
		priceLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "price_lookups_total",
				Help: "Total number of oracle price lookups by status",
			},
			[]string{"status"},
		),
		mintLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mint_lookups_total",
				Help: "Total number of mint metadata lookups by source",
			},
			[]string{"source"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status string, duration float64) {
	if m == nil {
		return
	}
	m.rpcCallsTotal.WithLabelValues(method, status).Inc()
	m.rpcCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	if m == nil {
		return
	}
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCBatchSize records the number of sub-requests in a batch call.
func (m *Metrics) RecordRPCBatchSize(method string, size int) {
	if m == nil {
		return
	}
	m.rpcBatchSize.WithLabelValues(method).Observe(float64(size))
}

// RecordLimiterWait records time spent waiting for limiter admission.
func (m *Metrics) RecordLimiterWait(caller string, duration float64) {
	if m == nil {
		return
	}
	m.limiterWaitDuration.WithLabelValues(caller).Observe(duration)
}

// RecordCrawlPage records one crawled signature page.
func (m *Metrics) RecordCrawlPage(address, status string) {
	if m == nil {
		return
	}
	m.crawlPagesTotal.WithLabelValues(address, status).Inc()
}

// RecordSignaturesSkipped records signatures filtered by the dedup check.
func (m *Metrics) RecordSignaturesSkipped(address string, count int) {
	if m == nil {
		return
	}
	m.signaturesSkippedTotal.WithLabelValues(address).Add(float64(count))
}

// RecordWSReconnect records a websocket reconnect attempt.
func (m *Metrics) RecordWSReconnect(address string) {
	if m == nil {
		return
	}
	m.wsReconnectsTotal.WithLabelValues(address).Inc()
}

// RecordWSNotification records an inbound transaction notification.
func (m *Metrics) RecordWSNotification(address, status string) {
	if m == nil {
		return
	}
	m.wsNotificationsTotal.WithLabelValues(address, status).Inc()
}

// RecordEventDecoded records one decoded program instruction.
func (m *Metrics) RecordEventDecoded(eventType string) {
	if m == nil {
		return
	}
	m.eventsDecodedTotal.WithLabelValues(eventType).Inc()
}

// RecordAccountDecoded records one decoded program account.
func (m *Metrics) RecordAccountDecoded(accountType string) {
	if m == nil {
		return
	}
	m.accountsDecodedTotal.WithLabelValues(accountType).Inc()
}

// RecordDecodeSkip records a skipped instruction or account.
func (m *Metrics) RecordDecodeSkip(reason string) {
	if m == nil {
		return
	}
	m.decodeSkipsTotal.WithLabelValues(reason).Inc()
}

// RecordWealthSample records one wealth snapshot computation.
func (m *Metrics) RecordWealthSample(status string) {
	if m == nil {
		return
	}
	m.wealthSamplesTotal.WithLabelValues(status).Inc()
}

// RecordPriceLookup records oracle price lookups.
func (m *Metrics) RecordPriceLookup(status string, count int) {
	if m == nil {
		return
	}
	m.priceLookupsTotal.WithLabelValues(status).Add(float64(count))
}

// RecordMintLookup records mint metadata lookups by source (cache/store/rpc).
func (m *Metrics) RecordMintLookup(source string, count int) {
	if m == nil {
		return
	}
	m.mintLookupsTotal.WithLabelValues(source).Add(float64(count))
}

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
