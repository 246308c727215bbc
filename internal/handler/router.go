package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/tracing"
)

// maxRequestBodyBytes はリクエストボディの上限。タスクの説明の最大長に余裕を持たせた値。
const maxRequestBodyBytes = 128 << 10

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	CSRF        middleware.CSRFConfig
	Cookies     CookieConfig

	// メトリクス
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// サービス
	AuthService AuthServiceInterface
	TaskService TaskServiceInterface
	UserService UserServiceInterface

	// ヘルスチェック
	DB Pinger
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Tracing → Logging → Recovery → Metrics → SecurityHeaders → BodyLimit
//
// 認証が必要なルートには、さらに RequireUser → RateLimit(General) → CSRF を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.NopCollector{}
	}

	r.Use(tracing.NewHTTPMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewBodyLimitMiddleware(maxRequestBodyBytes))

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies)
	taskHandler := NewTaskHandler(deps.TaskService)
	userHandler := NewUserHandler(deps.UserService, deps.Cookies)

	// --- 認証不要のルート ---

	if deps.DB != nil {
		r.Get("/health", NewHealthHandler(deps.DB).Health)
	}
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Get("/", authHandler.Home)
	r.Get("/login", authHandler.Login)
	r.Get("/auth/callback", authHandler.Callback)
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RequireUser → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRequireUserMiddleware(deps.AuthService))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// タスク管理
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", taskHandler.ListTasks)
			// POST /tasks - タスク作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.TaskCreateMiddleware()).Post("/", taskHandler.CreateTask)

			r.Post("/{id}/toggle", taskHandler.ToggleTask)
			r.Post("/{id}/delete", taskHandler.DeleteTask)
		})

		// アカウント管理
		r.Post("/account/delete", userHandler.DeleteAccount)

		// セッション管理
		r.Get("/logout", authHandler.Logout)
		r.Post("/logout", authHandler.Logout)

		r.Get("/api/me", authHandler.Me)
	})

	return r
}
