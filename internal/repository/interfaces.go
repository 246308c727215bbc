// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/todoman/internal/model"
)

// ErrDuplicate は一意制約違反を表す。
// 同一ユーザーの同時作成など、既に存在する行への挿入で返される。
var ErrDuplicate = errors.New("duplicate key")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByGoogleID はGoogleのsubject IDでユーザーを検索する。見つからない場合はnilを返す。
	FindByGoogleID(ctx context.Context, googleID string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDと作成日時をuserに設定する。
	// google_idまたはemailが既に存在する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteAccount はユーザーを同一トランザクションで削除する。
	// tasks、sessionsは外部キーのCASCADEで削除される。
	// 削除されたタスク数を返す。ユーザーが存在しない場合は(0, nil)ではなくErrNotFoundを返す。
	DeleteAccount(ctx context.Context, id int64) (int64, error)
}

// ErrNotFound は削除・更新対象の行が存在しないことを表す。
var ErrNotFound = errors.New("not found")

// TaskRepository はタスクデータの永続化インターフェース。
// すべての操作は所有者IDでスコープされる。
type TaskRepository interface {
	// ListByUserID はユーザーのタスクを作成順（ID昇順）で返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.Task, error)

	// Create はタスクを作成し、採番されたIDと作成日時をtaskに設定する。
	Create(ctx context.Context, task *model.Task) error

	// ToggleDone は所有者が一致するタスクの完了フラグを反転し、更新後のタスクを返す。
	// 該当タスクがない（存在しない、または他ユーザーの所有）場合はnilを返す。
	ToggleDone(ctx context.Context, userID, taskID int64) (*model.Task, error)

	// Delete は所有者が一致するタスクを削除し、削除したかどうかを返す。
	Delete(ctx context.Context, userID, taskID int64) (bool, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// OAuthStateRepository はOAuthハンドシェイク情報の永続化インターフェース。
type OAuthStateRepository interface {
	// Create はハンドシェイク情報を保存する。
	Create(ctx context.Context, state *model.OAuthState) error
	// Consume は指定stateの有効なハンドシェイク情報を取得と同時に削除する。
	// 見つからない、または期限切れの場合はnilを返す。2回目以降の呼び出しは常にnilを返す。
	Consume(ctx context.Context, state string) (*model.OAuthState, error)
}
