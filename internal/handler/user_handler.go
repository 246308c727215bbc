package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// DeleteAccount はユーザーと所有する全タスク・セッションを1トランザクションで削除する。
	DeleteAccount(ctx context.Context, userID int64) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	cookies CookieConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, cookies CookieConfig) *UserHandler {
	return &UserHandler{
		service: service,
		cookies: cookies,
	}
}

// DeleteAccount はログインユーザーのアカウントを削除し、セッションCookieをクリアする。
// POST /account/delete
// 既に削除済みの場合も同じ結果として扱う。
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err := h.service.DeleteAccount(r.Context(), user.ID); err != nil && !model.HasCode(err, model.ErrCodeUserNotFound) {
		slog.Error("failed to delete account",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		renderInternalErrorPage(w)
		return
	}

	clearSessionCookie(w, h.cookies)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
