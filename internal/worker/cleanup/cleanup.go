// Package cleanup は期限切れのセッションとOAuthハンドシェイク情報の自動削除ジョブを提供する。
// 期限切れの行は読み取り側で無視されるため、削除はストレージの肥大化を防ぐためのもの。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sqlx.DB を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// target は削除対象テーブルとメトリクスの種別。
type target struct {
	kind  string
	query string
}

// Kind はメトリクスとログに記録する削除対象の種別。
const (
	KindSessions    = "sessions"
	KindOAuthStates = "oauth_states"
)

var targets = []target{
	{kind: KindSessions, query: `DELETE FROM sessions WHERE expires_at < $1`},
	{kind: KindOAuthStates, query: `DELETE FROM oauth_states WHERE expires_at < $1`},
}

// CleanupJob は期限切れ行の自動削除ジョブ。
// 冪等な削除処理を保証し、複数インスタンスで同時に実行しても安全。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &CleanupJob{
		db:      db,
		logger:  logger,
		metrics: collector,
		now:     time.Now,
	}
}

// Run は期限切れのセッションとOAuth stateを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
// 一方の削除に失敗しても残りは実行し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now()

	var firstErr error
	var total int64
	for _, t := range targets {
		deleted, err := j.deleteExpired(ctx, t, cutoff)
		if err != nil {
			j.logger.Error("期限切れデータの削除に失敗しました",
				slog.String("kind", t.kind),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		total += deleted
		j.metrics.RecordCleanupDeleted(t.kind, deleted)
		j.logger.Info("期限切れデータを削除しました",
			slog.String("kind", t.kind),
			slog.Int64("deleted_count", deleted),
		)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return firstErr
}

func (j *CleanupJob) deleteExpired(ctx context.Context, t target, cutoff time.Time) (int64, error) {
	result, err := j.db.ExecContext(ctx, t.query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%sの削除に失敗: %w", t.kind, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%sの削除件数の取得に失敗: %w", t.kind, err)
	}
	return deleted, nil
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
