package middleware

import (
	"net/http"
	"time"

	"github.com/hitoshi/todoman/internal/metrics"
)

// NewMetricsMiddleware はレスポンスのステータスと処理時間をメトリクスに記録するミドルウェアを返す。
func NewMetricsMiddleware(collector metrics.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			collector.RecordHTTPRequest(rec.statusCode, time.Since(start))
		})
	}
}
