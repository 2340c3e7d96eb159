// Package cleanup は未ログインのGoogle Fit連携の自動削除ジョブを提供する。
// ブラウザCookieに紐づく "anon:" 所有者の連携は、保持期間（デフォルト30日）
// を超えて更新されなかった場合に定期バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PurgeRecorder は削除件数のメトリクス記録に必要なインターフェース。
type PurgeRecorder interface {
	RecordFitTokensPurged(count int64)
}

// DefaultRetention は未ログイン連携の保持期間のデフォルト値。
const DefaultRetention = 30 * 24 * time.Hour

// CleanupJob は保持期間を超過した未ログイン連携の自動削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	db        Executor
	logger    *slog.Logger
	recorder  PurgeRecorder
	Retention time.Duration // 最終更新からの保持期間
}

// NewCleanupJob は新しいCleanupJobを生成する。
// recorderはnilでもよい。
func NewCleanupJob(db Executor, logger *slog.Logger, recorder PurgeRecorder) *CleanupJob {
	return &CleanupJob{
		db:        db,
		logger:    logger,
		recorder:  recorder,
		Retention: DefaultRetention,
	}
}

// Run は保持期間を超過した未ログイン連携を削除する。
// ユーザーに紐づく "user:" 所有者の連携は対象外。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d seconds", int64(j.Retention/time.Second))

	query := `DELETE FROM fit_tokens WHERE owner_key LIKE 'anon:%' AND updated_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("Google Fit連携のクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("retention", j.Retention),
		)
		return fmt.Errorf("Google Fit連携のクリーンアップに失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	if j.recorder != nil {
		j.recorder.RecordFitTokensPurged(deletedCount)
	}

	duration := time.Since(start)
	j.logger.Info("Google Fit連携のクリーンアップが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Duration("retention", j.Retention),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされるまでブロックする。実行エラーはログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
