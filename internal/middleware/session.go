// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/todoman/internal/model"
)

const (
	// SessionCookieName は署名付きセッショントークンを保持するCookieの名前。
	SessionCookieName = "todoman_session"

	// StateCookieName はログイン開始時のstateをブラウザに結び付けるCookieの名前。
	StateCookieName = "oauth_state"

	// apiPathPrefix はJSONで応答するAPIエンドポイントのパス接頭辞。
	apiPathPrefix = "/api/"

	// unauthenticatedRedirect は未認証のページリクエストのリダイレクト先。
	unauthenticatedRedirect = "/"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// UserResolver はセッショントークンから現在のユーザーを解決するインターフェース。
// auth.Serviceが実装する。
type UserResolver interface {
	CurrentUser(ctx context.Context, token string) (*model.User, error)
}

// NewRequireUserMiddleware はセッションCookieから認証済みユーザーを解決し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 未認証のページリクエストは"/"へ303でリダイレクトし、
// /api/配下のリクエストには401のJSONを返す。
func NewRequireUserMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからセッショントークンを取得
			var token string
			if cookie, err := r.Cookie(SessionCookieName); err == nil {
				token = cookie.Value
			}

			// 2. トークンからユーザーを解決
			user, err := resolver.CurrentUser(r.Context(), token)
			if err != nil {
				if model.HasCode(err, model.ErrCodeUnauthenticated) {
					writeUnauthenticated(w, r)
					return
				}
				slog.Error("failed to resolve current user",
					slog.String("error", err.Error()),
				)
				if IsAPIRequest(r) {
					WriteInternalServerError(w)
				} else {
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
				return
			}

			// 3. 認証済みユーザーをコンテキストに注入
			setLoggedUserID(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// writeUnauthenticated は未認証リクエストへの応答を書き込む。
func writeUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if IsAPIRequest(r) {
		WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return
	}
	http.Redirect(w, r, unauthenticatedRedirect, http.StatusSeeOther)
}

// IsAPIRequest はリクエストがJSONで応答するAPIエンドポイント宛てかどうかを判定する。
func IsAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, apiPathPrefix)
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// RequireUserミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
