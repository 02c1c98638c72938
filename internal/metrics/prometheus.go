package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pool_listener"

// PrometheusMetrics contains all Prometheus metrics for the pool listener
type PrometheusMetrics struct {
	// Discovery metrics
	PoolsDiscoveredTotal *prometheus.CounterVec
	InvalidEventsTotal   prometheus.Counter
	BlockRangesTotal     *prometheus.CounterVec
	LatestProcessedBlock prometheus.Gauge
	BlocksBehind         prometheus.Gauge

	// Liquidity monitoring metrics
	LiquidityChecksTotal      *prometheus.CounterVec
	LiquidityEvaluationsTotal *prometheus.CounterVec
	LiquidityCheckDuration    prometheus.Histogram
	NonTradeablePools         prometheus.Gauge
	WorkersBusy               prometheus.Gauge
	PoolTransitionsTotal      prometheus.Counter

	// Connection metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSentTotal *prometheus.CounterVec
	NotificationDuration   *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
}

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		PoolsDiscoveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pools_discovered_total",
				Help:      "Total number of new pools discovered for the target token",
			},
			[]string{"token_symbol"},
		),

		InvalidEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_events_total",
				Help:      "Pool creation events skipped because they failed validation",
			},
		),

		BlockRangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "block_ranges_total",
				Help:      "Block ranges scanned by discovery",
			},
			[]string{"status"},
		),

		LatestProcessedBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_processed_block",
				Help:      "Last block whose pool creation events were fully ingested",
			},
		),

		BlocksBehind: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "blocks_behind",
				Help:      "Number of blocks between the cursor and the chain head",
			},
		),

		LiquidityChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "liquidity_checks_total",
				Help:      "Liquidity checks performed",
			},
			[]string{"status"},
		),

		LiquidityEvaluationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "liquidity_evaluations_total",
				Help:      "Successful liquidity checks by outcome against the threshold",
			},
			[]string{"result"},
		),

		LiquidityCheckDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "liquidity_check_duration_seconds",
				Help:      "Time spent on one pool liquidity check",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NonTradeablePools: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "non_tradeable_pools",
				Help:      "Pools still waiting to reach the liquidity threshold",
			},
		),

		WorkersBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_busy",
				Help:      "Liquidity check workers currently running",
			},
		),

		PoolTransitionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_transitions_total",
				Help:      "Pools moved from discovered to tradeable",
			},
		),

		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connection_errors_total",
				Help:      "Total number of connection errors to nodes",
			},
			[]string{"endpoint", "error_type"},
		),

		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_requests_total",
				Help:      "Total number of RPC requests made to nodes",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rpc_request_duration_seconds",
				Help:      "Duration of RPC requests to nodes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_operations_total",
				Help:      "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_operation_duration_seconds",
				Help:      "Duration of database operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Notification delivery attempts by kind, channel and outcome",
			},
			[]string{"kind", "channel", "status"},
		),

		NotificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_duration_seconds",
				Help:      "Time spent delivering a notification, retries included",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"channel"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "uptime_seconds",
				Help:      "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "component_health",
				Help:      "Health status of application components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),
	}
}

func statusLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordPoolDiscovered increments the discovery counter
func (m *PrometheusMetrics) RecordPoolDiscovered(tokenSymbol string) {
	m.PoolsDiscoveredTotal.WithLabelValues(tokenSymbol).Inc()
}

// RecordInvalidEvent counts a creation event rejected by validation
func (m *PrometheusMetrics) RecordInvalidEvent() {
	m.InvalidEventsTotal.Inc()
}

// RecordBlockRange counts a scanned range
func (m *PrometheusMetrics) RecordBlockRange(ok bool) {
	m.BlockRangesTotal.WithLabelValues(statusLabel(ok)).Inc()
}

// UpdateLatestProcessedBlock sets the cursor gauge
func (m *PrometheusMetrics) UpdateLatestProcessedBlock(blockNumber uint64) {
	m.LatestProcessedBlock.Set(float64(blockNumber))
}

// UpdateBlocksBehind sets how far discovery lags the head
func (m *PrometheusMetrics) UpdateBlocksBehind(behind uint64) {
	m.BlocksBehind.Set(float64(behind))
}

// RecordLiquidityCheck records one check attempt
func (m *PrometheusMetrics) RecordLiquidityCheck(ok bool, duration time.Duration) {
	m.LiquidityChecksTotal.WithLabelValues(statusLabel(ok)).Inc()
	m.LiquidityCheckDuration.Observe(duration.Seconds())
}

// RecordLiquidityEvaluation records whether a reading met the threshold
func (m *PrometheusMetrics) RecordLiquidityEvaluation(sufficient bool) {
	result := "insufficient"
	if sufficient {
		result = "sufficient"
	}
	m.LiquidityEvaluationsTotal.WithLabelValues(result).Inc()
}

// UpdateNonTradeablePools sets the working-set gauge
func (m *PrometheusMetrics) UpdateNonTradeablePools(count int64) {
	m.NonTradeablePools.Set(float64(count))
}

// UpdateWorkersBusy sets the busy worker gauge
func (m *PrometheusMetrics) UpdateWorkersBusy(count int) {
	m.WorkersBusy.Set(float64(count))
}

// RecordPoolTransition counts a discovered to tradeable transition
func (m *PrometheusMetrics) RecordPoolTransition() {
	m.PoolTransitionsTotal.Inc()
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordNotification records a delivery attempt
func (m *PrometheusMetrics) RecordNotification(kind, channel string, ok bool, duration time.Duration) {
	m.NotificationsSentTotal.WithLabelValues(kind, channel, statusLabel(ok)).Inc()
	m.NotificationDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates component health status
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}
