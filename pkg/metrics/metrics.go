// Package metrics 定义 Prometheus 指标。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecommendRequests 推荐请求数，result: ok/invalid/error
	RecommendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_recommend_requests_total",
			Help: "Total recommendation requests",
		},
		[]string{"kind", "result"},
	)

	RecommendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedrank_recommend_duration_seconds",
			Help:    "Recommendation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// CacheRequests result: hit/miss
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_cache_requests_total",
			Help: "TTL cache lookups by namespace and result",
		},
		[]string{"namespace", "result"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_store_errors_total",
			Help: "External store failures that were degraded",
		},
		[]string{"op", "table"},
	)

	LearningUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedrank_learning_updates_total",
			Help: "Applied interaction updates by action",
		},
		[]string{"action"},
	)

	// BreakerState 0=closed 1=half-open 2=open
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedrank_breaker_state",
			Help: "Circuit breaker state",
		},
		[]string{"name"},
	)
)

// Handler 返回 /metrics 处理器。
func Handler() http.Handler {
	return promhttp.Handler()
}
