// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	LoginOutcomeSuccess  = "success"
	LoginOutcomeNewUser  = "new_user"
	LoginOutcomeRejected = "rejected"
	LoginOutcomeError    = "error"
)

// タスク操作のラベル値。
const (
	TaskOpCreate = "create"
	TaskOpToggle = "toggle"
	TaskOpDelete = "delete"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(statusCode int, duration time.Duration)
	RecordLogin(outcome string)
	RecordTaskOperation(op string)
	RecordCleanupDeleted(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    prometheus.Histogram
	logins         *prometheus.CounterVec
	taskOps        *prometheus.CounterVec
	cleanupDeleted *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_http_requests_total",
			Help: "ステータスクラス別のHTTPリクエスト数",
		}, []string{"status_class"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "todoman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_logins_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		taskOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_task_operations_total",
			Help: "種類別のタスク操作数",
		}, []string{"op"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todoman_cleanup_deleted_total",
			Help: "クリーンアップで削除された期限切れレコード数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.logins,
		c.taskOps,
		c.cleanupDeleted,
	)

	return c
}

// RecordHTTPRequest はHTTPレスポンスのステータスクラスと処理時間を記録する。
func (c *Collector) RecordHTTPRequest(statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(statusClass(statusCode)).Inc()
	c.httpLatency.Observe(duration.Seconds())
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordTaskOperation はタスク操作を記録する。
func (c *Collector) RecordTaskOperation(op string) {
	c.taskOps.WithLabelValues(op).Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordCleanupDeleted(kind string, count int64) {
	c.cleanupDeleted.WithLabelValues(kind).Add(float64(count))
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

// NopCollector は何も記録しないMetricsCollector。
// メトリクスを必要としないテストやコマンドで利用する。
type NopCollector struct{}

var _ MetricsCollector = NopCollector{}

func (NopCollector) RecordHTTPRequest(int, time.Duration) {}
func (NopCollector) RecordLogin(string) {}
func (NopCollector) RecordTaskOperation(string) {}
func (NopCollector) RecordCleanupDeleted(string, int64) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
