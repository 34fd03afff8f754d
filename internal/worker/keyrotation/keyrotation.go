// Package keyrotation は署名鍵の定期ローテーションと、退役鍵の失効を行うジョブを提供する。
package keyrotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/portfolio/internal/identity"
	"github.com/hitoshi/portfolio/internal/metrics"
)

// KeySet は鍵のローテーションと失効の操作。*identity.KeySet が満たす。
type KeySet interface {
	Rotate(ctx context.Context, interval time.Duration) (string, error)
	RevokeExpired(ctx context.Context, maxSessionAge time.Duration) ([]string, error)
}

var _ KeySet = (*identity.KeySet)(nil)

// Job は有効な鍵がRotateAfterより古ければ新しい鍵に切り替え、
// 退役からMaxSessionAge以上経った鍵を失効させる。
type Job struct {
	keys          KeySet
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	RotateAfter   time.Duration
	MaxSessionAge time.Duration
}

// NewJob は新しいJobを生成する。
func NewJob(keys KeySet, mc metrics.MetricsCollector, logger *slog.Logger, rotateAfter, maxSessionAge time.Duration) *Job {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Job{
		keys:          keys,
		metrics:       mc,
		logger:        logger,
		RotateAfter:   rotateAfter,
		MaxSessionAge: maxSessionAge,
	}
}

// Run はローテーションと失効を1回実行する。
// 両方を試み、失敗はまとめて返す。
func (j *Job) Run(ctx context.Context) error {
	var errs []error

	kid, err := j.keys.Rotate(ctx, j.RotateAfter)
	switch {
	case err != nil:
		j.metrics.RecordKeyRotation("failed")
		j.logger.Error("署名鍵のローテーションに失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("署名鍵のローテーションに失敗: %w", err))
	case kid != "":
		j.metrics.RecordKeyRotation("rotated")
		j.logger.Info("署名鍵をローテーションしました",
			slog.String("kid", kid),
			slog.Duration("rotate_after", j.RotateAfter),
		)
	default:
		j.metrics.RecordKeyRotation("skipped")
	}

	revoked, err := j.keys.RevokeExpired(ctx, j.MaxSessionAge)
	if len(revoked) > 0 {
		j.logger.Info("退役済みの署名鍵を失効させました",
			slog.Any("kids", revoked),
		)
	}
	if err != nil {
		j.logger.Error("署名鍵の失効に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("署名鍵の失効に失敗: %w", err))
	}

	return errors.Join(errs...)
}

// Start はintervalごとにRunを実行する。コンテキストがキャンセルされるまで戻らない。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("鍵ローテーションジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("rotate_after", j.RotateAfter),
	)

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("鍵ローテーションジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
