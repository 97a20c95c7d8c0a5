package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// unmatchedRoute はルーターに登録されていないパス（ページ判定やNoRoute）のラベル。
// 生のパスをラベルにすると系列数が際限なく増えるため、まとめて扱う。
const unmatchedRoute = "unmatched"

// Metrics はgatewayのPrometheusメトリクス。
type Metrics struct {
	// registry はメトリクスの登録先。
	registry *prometheus.Registry
	// HTTPRequests はHTTPリクエスト数。
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration はHTTPリクエストの処理時間。
	HTTPDuration *prometheus.HistogramVec
	// Decisions はアクセス判定の結果ごとの件数。
	Decisions *prometheus.CounterVec
	// LookupErrors はバックエンド問い合わせの失敗数。
	LookupErrors *prometheus.CounterVec
}

// NewMetrics は専用のレジストリにメトリクスを登録して返す。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safein_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "safein_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latency",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safein_access_decisions_total",
				Help: "Total number of page access decisions",
			},
			[]string{"action", "guard"},
		),
		LookupErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "safein_backend_lookup_errors_total",
				Help: "Total number of failed backend lookups",
			},
			[]string{"lookup"},
		),
	}
}

// Middleware はHTTPリクエスト数と処理時間を記録するGinミドルウェアを返す。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// ObserveDecision はアクセス判定の結果を記録する。
func (m *Metrics) ObserveDecision(action, guard string) {
	m.Decisions.WithLabelValues(action, guard).Inc()
}

// ObserveLookupError はバックエンド問い合わせの失敗を記録する。
func (m *Metrics) ObserveLookupError(lookup string) {
	m.LookupErrors.WithLabelValues(lookup).Inc()
}

// Handler は /metrics エンドポイント用のハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
