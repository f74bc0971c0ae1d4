// Package metrics exposes Prometheus instrumentation for the escrow node.
// Collectors register on the default registry at init, alongside the Go
// runtime and process collectors client_golang installs there.
package metrics

import (
	"database/sql"
	"errors"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smarterescrow"

// HTTP
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})
)

// Chain
var (
	// TransactionsTotal counts transactions by contract method and outcome
	// (mined, reverted, rejected).
	TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Transactions by method and outcome.",
	}, []string{"method", "outcome"})

	GasUsed = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gas_used",
		Help:      "Gas used per mined transaction.",
		Buckets:   []float64{21000, 30000, 50000, 75000, 100000, 200000, 500000, 1000000},
	})

	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "block_height",
		Help:      "Latest mined block number.",
	})
)

// Escrow and proxy lifecycle
var (
	EscrowDeployedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_deployed_total",
		Help:      "Escrow instances deployed, by logic version.",
	}, []string{"version"})

	EscrowDepositedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_deposited_total",
		Help:      "Successful escrow deposits.",
	})

	EscrowReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_released_total",
		Help:      "Escrows released to the seller.",
	})

	EscrowEjectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_ejected_total",
		Help:      "Escrows ejected back to the buyer.",
	})

	ProxyUpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proxy_upgrades_total",
		Help:      "Proxy upgrades, by target version.",
	}, []string{"version"})
)

// Realtime
var (
	ActiveWebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Connected WebSocket clients.",
	})

	// RealtimeDroppedTotal counts events the realtime hub could not deliver.
	RealtimeDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "realtime_dropped_total",
		Help:      "Realtime events dropped, by reason (hub_full, slow_client).",
	}, []string{"reason"})
)

var (
	dbMu        sync.Mutex
	dbCollector prometheus.Collector
)

// RegisterDB exports connection pool stats for db, replacing any pool
// registered earlier.
func RegisterDB(db *sql.DB) error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if dbCollector != nil {
		prometheus.Unregister(dbCollector)
		dbCollector = nil
	}
	c := collectors.NewDBStatsCollector(db, namespace)
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
	}
	dbCollector = c
	return nil
}

// Middleware records request counts and latency under the matched route
// pattern, so path parameters do not explode label cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return strconv.Itoa(code/100) + "xx"
}
