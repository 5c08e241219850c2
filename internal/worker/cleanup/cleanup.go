// Package cleanup は失効したリフレッシュトークンの自動削除ジョブを提供する。
// 期限切れから保持期間（デフォルト30日）を超えたトークンを日次バッチで削除する。
// Redisに保存したトークンはキーのTTLで消えるため対象外。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/glucotrack/internal/metrics"
)

// DefaultRetentionDays は期限切れトークンを残す日数のデフォルト値。
const DefaultRetentionDays = 30

// TokenPurger は期限切れトークンの削除を抽象化するインターフェース。
// repository.PostgresRefreshTokenRepo が実装する。
type TokenPurger interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は期限切れリフレッシュトークンの削除ジョブ。
// 冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	tokens        TokenPurger
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はDefaultRetentionDaysを使う。
func NewCleanupJob(tokens TokenPurger, logger *slog.Logger, collector metrics.MetricsCollector, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		tokens:        tokens,
		logger:        logger,
		metrics:       collector,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Cutoff は削除対象の境界時刻を返す。この時刻より前に期限切れとなったトークンが削除される。
func (j *CleanupJob) Cutoff() time.Time {
	return j.now().Add(-time.Duration(j.RetentionDays) * 24 * time.Hour)
}

// Run は保持期間を超過したトークンを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.Cutoff()

	deletedCount, err := j.tokens.DeleteExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("トークンクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("トークンクリーンアップの実行に失敗: %w", err)
	}

	j.metrics.RecordTokensCleaned(deletedCount)

	j.logger.Info("トークンクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、その後intervalごとにRunを繰り返す。
// ctxがキャンセルされると戻る。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
