// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/tracing"
)

// Service はユーザー管理のサービス層。
// アカウント削除のビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository) *Service {
	return &Service{userRepo: userRepo}
}

// DeleteAccount はユーザーと、そのタスク・セッションを削除する。
// 削除は1トランザクションで行われ、途中で失敗した場合は何も削除されない。
// tasks、sessionsは外部キーのCASCADEで削除される。
func (s *Service) DeleteAccount(ctx context.Context, userID int64) (err error) {
	ctx, span := tracing.Start(ctx, "user.DeleteAccount")
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	slog.Info("アカウント削除を開始します",
		slog.Int64("user_id", userID),
	)

	tasksDeleted, err := s.userRepo.DeleteAccount(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewUserNotFoundError()
	}
	if err != nil {
		return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	slog.Info("アカウント削除が完了しました",
		slog.Int64("user_id", userID),
		slog.Int64("tasks_deleted", tasksDeleted),
	)

	return nil
}
