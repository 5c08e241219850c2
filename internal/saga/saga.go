// Package saga は作成→下流失敗→取り消しの2段階補償処理を提供する。
package saga

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultAttempts は取り消し処理の既定の試行回数。
	DefaultAttempts = 3
	// DefaultBackoff は初回リトライまでの既定の待機時間。
	DefaultBackoff = 200 * time.Millisecond
	// maxBackoff はリトライ間隔の上限。
	maxBackoff = 5 * time.Second
)

// Compensator は冪等な取り消し処理を、少なくとも1回、最大Attempts回実行する。
type Compensator struct {
	Attempts int
	Backoff  time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCompensator はCompensatorを生成する。0以下の値は既定値に置き換える。
func NewCompensator(attempts int, backoff time.Duration) *Compensator {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Compensator{Attempts: attempts, Backoff: backoff, sleep: sleepContext}
}

// Undo はfnが成功するまで指数バックオフでリトライする。
// fnは冪等でなければならない。ctxが終了した場合はそれ以上リトライしない。
// 全試行が失敗した場合は最後のエラーを返す。
func (c *Compensator) Undo(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			if attempt > 1 {
				slog.Info("compensation succeeded after retry",
					slog.String("step", name),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		slog.Warn("compensation attempt failed",
			slog.String("step", name),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, CalculateBackoff(c.Backoff, attempt-1)); err != nil {
			return fmt.Errorf("compensation %s interrupted after %d attempts: %w", name, attempt, lastErr)
		}
	}
	return fmt.Errorf("compensation %s failed after %d attempts: %w", name, attempts, lastErr)
}

// CalculateBackoff はリトライ回数に基づく指数バックオフの待機時間を返す。
// initialから2倍ずつ増加し、上限は5秒。
func CalculateBackoff(initial time.Duration, retries int) time.Duration {
	delay := initial
	for i := 0; i < retries; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
