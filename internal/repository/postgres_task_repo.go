package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/todoman/internal/model"
)

const taskColumns = `id, user_id, title, description, is_done, created_at`

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sqlx.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sqlx.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// ListByUserID はユーザーのタスクを作成順（ID昇順）で返す。
func (r *PostgresTaskRepo) ListByUserID(ctx context.Context, userID int64) ([]*model.Task, error) {
	tasks := []*model.Task{}
	err := r.db.SelectContext(ctx, &tasks,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// Create はタスクを作成し、採番されたIDと作成日時をtaskに設定する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO tasks (user_id, title, description, is_done)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		task.UserID, task.Title, task.Description, task.IsDone,
	).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// ToggleDone は所有者が一致するタスクの完了フラグを反転し、更新後のタスクを返す。
// 読み取りと更新を1文で行うため、同時実行でも反転が失われない。
func (r *PostgresTaskRepo) ToggleDone(ctx context.Context, userID, taskID int64) (*model.Task, error) {
	var task model.Task
	err := r.db.GetContext(ctx, &task,
		`UPDATE tasks SET is_done = NOT is_done
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+taskColumns,
		taskID, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to toggle task: %w", err)
	}
	return &task, nil
}

// Delete は所有者が一致するタスクを削除し、削除したかどうかを返す。
func (r *PostgresTaskRepo) Delete(ctx context.Context, userID, taskID int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`,
		taskID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
