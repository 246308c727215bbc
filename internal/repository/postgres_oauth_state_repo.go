package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresOAuthStateRepo はPostgreSQLを使用したOAuthハンドシェイク情報リポジトリ。
type PostgresOAuthStateRepo struct {
	db *sqlx.DB
}

// NewPostgresOAuthStateRepo はPostgresOAuthStateRepoを生成する。
func NewPostgresOAuthStateRepo(db *sqlx.DB) *PostgresOAuthStateRepo {
	return &PostgresOAuthStateRepo{db: db}
}

// Create はハンドシェイク情報を保存する。
func (r *PostgresOAuthStateRepo) Create(ctx context.Context, state *model.OAuthState) error {
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO oauth_states (state, nonce, code_verifier, expires_at, created_at)
		 VALUES (:state, :nonce, :code_verifier, :expires_at, :created_at)`,
		state,
	)
	if err != nil {
		return fmt.Errorf("failed to create oauth state: %w", err)
	}
	return nil
}

// Consume は指定stateのハンドシェイク情報をDELETE ... RETURNINGで取得する。
// 削除と取得が1文で行われるため、同一stateを2回消費することはできない。
// 期限切れの行も削除されるが、結果はnilとして扱う。
func (r *PostgresOAuthStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	var s model.OAuthState
	err := r.db.GetContext(ctx, &s,
		`DELETE FROM oauth_states WHERE state = $1
		 RETURNING state, nonce, code_verifier, expires_at, created_at`,
		state,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}
	if !s.ExpiresAt.After(timeNow()) {
		return nil, nil
	}
	return &s, nil
}

// compile-time interface check
var _ OAuthStateRepository = (*PostgresOAuthStateRepo)(nil)
