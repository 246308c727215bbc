package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/todoman/internal/tracing"
)

const (
	// requestIDHeader はリクエストIDを受け渡すヘッダー名。
	requestIDHeader = "X-Request-ID"

	// maxRequestIDLength は上流から受け取るリクエストIDの最大長。
	maxRequestIDLength = 64
)

// requestLogKey はリクエストログ情報を格納するコンテキストキー。
var requestLogKey = contextKey("request_log")

// requestLog はリクエストの処理中に内側のミドルウェアが埋める情報。
// 内側でコンテキストが差し替えられても外側のログに反映できるよう、ポインタで共有する。
type requestLog struct {
	requestID string
	userID    int64
}

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader はステータスコードを記録してから委譲する。
func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はデータを書き込む。WriteHeaderが未呼び出しの場合は200を記録する。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはrequest_id、method、path、status、duration_ms、user_id（認証済みの場合）、
// trace_id（トレース有効時）を含む。
// リクエストIDはX-Request-IDヘッダーを引き継ぐか新規に生成し、レスポンスヘッダーにも設定する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			info := &requestLog{requestID: requestIDFrom(r)}
			w.Header().Set(requestIDHeader, info.requestID)
			ctx := context.WithValue(r.Context(), requestLogKey, info)

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			durationMs := float64(duration.Nanoseconds()) / float64(time.Millisecond)

			attrs := []slog.Attr{
				slog.String("request_id", info.requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			// ユーザーIDが判明している場合は追加
			if info.userID != 0 {
				attrs = append(attrs, slog.Int64("user_id", info.userID))
			}
			if traceID := tracing.TraceID(ctx); traceID != "" {
				attrs = append(attrs, slog.String("trace_id", traceID))
			}

			// slogのログレベルをステータスコードに応じて変更
			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.LogAttrs(ctx, level, "http_request", attrs...)
		})
	}
}

// RequestIDFromContext はロギングミドルウェアが割り当てたリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	if info, ok := ctx.Value(requestLogKey).(*requestLog); ok {
		return info.requestID
	}
	return ""
}

// setLoggedUserID はリクエストログにユーザーIDを記録する。
func setLoggedUserID(ctx context.Context, userID int64) {
	if info, ok := ctx.Value(requestLogKey).(*requestLog); ok {
		info.userID = userID
	}
}

// requestIDFrom は上流のリクエストIDを引き継ぐ。ない場合や長すぎる場合は新規に生成する。
func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" && len(id) <= maxRequestIDLength {
		return id
	}
	return uuid.NewString()
}
