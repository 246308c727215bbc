package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

// TaskServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
type TaskServiceInterface interface {
	List(ctx context.Context, userID int64) ([]*model.Task, error)
	Create(ctx context.Context, userID int64, title, description string) (*model.Task, error)
	ToggleComplete(ctx context.Context, userID, taskID int64) (*model.Task, error)
	Delete(ctx context.Context, userID, taskID int64) error
}

// TaskHandler はタスク管理のHTTPハンドラー。
type TaskHandler struct {
	service TaskServiceInterface
}

// NewTaskHandler はTaskHandlerを生成する。
func NewTaskHandler(service TaskServiceInterface) *TaskHandler {
	return &TaskHandler{
		service: service,
	}
}

// ListTasks はログインユーザーのタスク一覧ページを表示する。
// GET /tasks
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	tasks, err := h.service.List(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to list tasks",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		renderInternalErrorPage(w)
		return
	}

	remaining := 0
	for _, t := range tasks {
		if !t.IsDone {
			remaining++
		}
	}

	renderPage(w, http.StatusOK, pageTasks, tasksPageData{
		User:           user,
		Tasks:          tasks,
		Remaining:      remaining,
		CSRFToken:      middleware.CSRFTokenFromContext(r.Context()),
		Error:          truncateFlash(r.URL.Query().Get("error")),
		TitleMax:       model.TaskTitleMaxLength,
		DescriptionMax: model.TaskDescriptionMaxLength,
	})
}

// CreateTask はフォームから新しいタスクを作成する。
// POST /tasks
// 入力エラーの場合はメッセージをクエリに載せて一覧へ戻す。
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	_, err := h.service.Create(r.Context(), user.ID, r.PostFormValue("title"), r.PostFormValue("description"))
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeValidation {
			redirectToTasks(w, r, apiErr.Message)
			return
		}
		slog.Error("failed to create task",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		renderInternalErrorPage(w)
		return
	}

	redirectToTasks(w, r, "")
}

// ToggleTask はタスクの完了状態を反転する。
// POST /tasks/{id}/toggle
// 存在しないタスクや他ユーザーのタスクは存在を明かさず一覧へ戻す。
func (h *TaskHandler) ToggleTask(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	taskID, ok := parseTaskID(r)
	if !ok {
		redirectToTasks(w, r, "")
		return
	}

	if _, err := h.service.ToggleComplete(r.Context(), user.ID, taskID); err != nil {
		if model.HasCode(err, model.ErrCodeTaskNotFound) {
			redirectToTasks(w, r, "")
			return
		}
		slog.Error("failed to toggle task",
			slog.Int64("user_id", user.ID),
			slog.Int64("task_id", taskID),
			slog.String("error", err.Error()),
		)
		renderInternalErrorPage(w)
		return
	}

	redirectToTasks(w, r, "")
}

// DeleteTask はタスクを削除する。
// POST /tasks/{id}/delete
// 存在しないタスクや他ユーザーのタスクの削除は何もせず一覧へ戻す。
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	taskID, ok := parseTaskID(r)
	if !ok {
		redirectToTasks(w, r, "")
		return
	}

	if err := h.service.Delete(r.Context(), user.ID, taskID); err != nil {
		slog.Error("failed to delete task",
			slog.Int64("user_id", user.ID),
			slog.Int64("task_id", taskID),
			slog.String("error", err.Error()),
		)
		renderInternalErrorPage(w)
		return
	}

	redirectToTasks(w, r, "")
}

// parseTaskID はURLパスからタスクIDを取得する。正の整数でない場合はfalseを返す。
func parseTaskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// redirectToTasks はタスク一覧へ303でリダイレクトする。
// messageが空でない場合はクエリのerrorに載せる。
func redirectToTasks(w http.ResponseWriter, r *http.Request, message string) {
	target := "/tasks"
	if message != "" {
		target += "?" + url.Values{"error": {message}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
