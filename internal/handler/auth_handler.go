// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context) (*auth.LoginRequest, error)
	CompleteLogin(ctx context.Context, params auth.CallbackParams) (*auth.LoginResult, error)
	Logout(ctx context.Context, token string) error
	CurrentUser(ctx context.Context, token string) (*model.User, error)
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies CookieConfig
	now     func() time.Time
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		now:     time.Now,
	}
}

// Home はログインページを表示する。ログイン済みの場合はタスク一覧へリダイレクトする。
// GET /
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), sessionToken(r))
	if err != nil && !model.HasCode(err, model.ErrCodeUnauthenticated) {
		slog.Error("failed to resolve current user", slog.String("error", err.Error()))
		renderInternalErrorPage(w)
		return
	}
	if user != nil {
		http.Redirect(w, r, "/tasks", http.StatusSeeOther)
		return
	}

	renderPage(w, http.StatusOK, pageLogin, nil)
}

// Login はGoogle OAuthフローを開始する。
// GET /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.BeginLogin(r.Context())
	if err != nil {
		slog.Error("failed to begin login", slog.String("error", err.Error()))
		renderInternalErrorPage(w)
		return
	}

	// stateをCookieに保存し、コールバックを開始したブラウザに結び付ける
	maxAge := int(math.Ceil(req.ExpiresAt.Sub(h.now()).Seconds()))
	if maxAge < 1 {
		maxAge = 1
	}
	setStateCookie(w, h.cookies, req.State, maxAge)

	http.Redirect(w, r, req.URL, http.StatusFound)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := auth.CallbackParams{
		State: query.Get("state"),
		Code:  query.Get("code"),
		Error: query.Get("error"),
	}
	if cookie, err := r.Cookie(middleware.StateCookieName); err == nil {
		params.CookieState = cookie.Value
	}

	// stateは1回限りのため、結果に関わらずCookieを削除する
	clearStateCookie(w, h.cookies)

	result, err := h.service.CompleteLogin(r.Context(), params)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeAuthExchangeFailed {
			slog.Warn("oauth callback rejected", slog.String("reason", apiErr.Message))
			renderErrorPage(w, http.StatusBadRequest, errorPageData{
				Title:   "ログインに失敗しました",
				Message: "認証プロバイダーとのやり取りを完了できませんでした。",
				Action:  apiErr.Action,
			})
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		renderInternalErrorPage(w)
		return
	}

	setSessionCookie(w, h.cookies, result.Token)

	slog.Info("user logged in",
		slog.Int64("user_id", result.User.ID),
		slog.Bool("created", result.Created),
	)
	http.Redirect(w, r, "/tasks", http.StatusFound)
}

// Logout はセッションを破棄する。
// GET, POST /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), sessionToken(r)); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	clearSessionCookie(w, h.cookies)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(meResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
	})
}

// meResponse は/api/meのレスポンスボディ。
type meResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}
