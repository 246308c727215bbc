// Package task はタスク管理のドメインロジックを提供する。
// すべての操作は認証済みユーザーのIDでスコープされ、他ユーザーのタスクには触れない。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/tracing"
)

// Service はタスク管理のサービス層。
type Service struct {
	taskRepo repository.TaskRepository
	metrics  metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(taskRepo repository.TaskRepository, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		taskRepo: taskRepo,
		metrics:  collector,
	}
}

// List はユーザーのタスクを作成順で返す。
func (s *Service) List(ctx context.Context, userID int64) ([]*model.Task, error) {
	ctx, span := tracing.Start(ctx, "task.List", attribute.Int64("user_id", userID))
	defer span.End()

	tasks, err := s.taskRepo.ListByUserID(ctx, userID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	return tasks, nil
}

// Create はタイトルと説明を検証してタスクを作成する。
// 前後の空白を取り除いた結果が空のタイトル、または長さ上限を超える入力はVALIDATION_ERRORとなる。
// 本文は入力されたまま保存し、エスケープは表示時に行う。
func (s *Service) Create(ctx context.Context, userID int64, title, description string) (*model.Task, error) {
	ctx, span := tracing.Start(ctx, "task.Create", attribute.Int64("user_id", userID))
	defer span.End()

	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)

	if title == "" {
		return nil, model.NewValidationError("タイトルを入力してください。")
	}
	if utf8.RuneCountInString(title) > model.TaskTitleMaxLength {
		return nil, model.NewValidationError(
			fmt.Sprintf("タイトルは%d文字以内で入力してください。", model.TaskTitleMaxLength))
	}
	if utf8.RuneCountInString(description) > model.TaskDescriptionMaxLength {
		return nil, model.NewValidationError(
			fmt.Sprintf("説明は%d文字以内で入力してください。", model.TaskDescriptionMaxLength))
	}

	task := &model.Task{
		UserID:      userID,
		Title:       title,
		Description: description,
	}
	if err := s.taskRepo.Create(ctx, task); err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	s.metrics.RecordTaskOperation(metrics.TaskOpCreate)
	slog.Info("タスクを作成しました",
		slog.Int64("user_id", userID),
		slog.Int64("task_id", task.ID),
	)
	return task, nil
}

// ToggleComplete はタスクの完了状態を反転する。
// タスクが存在しない、または他ユーザーの所有である場合はTASK_NOT_FOUNDを返す。
func (s *Service) ToggleComplete(ctx context.Context, userID, taskID int64) (*model.Task, error) {
	ctx, span := tracing.Start(ctx, "task.ToggleComplete",
		attribute.Int64("user_id", userID),
		attribute.Int64("task_id", taskID),
	)
	defer span.End()

	task, err := s.taskRepo.ToggleDone(ctx, userID, taskID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	if task == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}

	s.metrics.RecordTaskOperation(metrics.TaskOpToggle)
	return task, nil
}

// Delete はタスクを削除する。
// タスクが存在しない、または他ユーザーの所有である場合は何もせず成功として扱う。
func (s *Service) Delete(ctx context.Context, userID, taskID int64) error {
	ctx, span := tracing.Start(ctx, "task.Delete",
		attribute.Int64("user_id", userID),
		attribute.Int64("task_id", taskID),
	)
	defer span.End()

	deleted, err := s.taskRepo.Delete(ctx, userID, taskID)
	if err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}

	if deleted {
		s.metrics.RecordTaskOperation(metrics.TaskOpDelete)
		slog.Info("タスクを削除しました",
			slog.Int64("user_id", userID),
			slog.Int64("task_id", taskID),
		)
	}
	return nil
}
