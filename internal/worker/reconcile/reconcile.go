// Package reconcile は特権操作の部分失敗で記録された整合性回復タスクを処理するワーカーを提供する。
// 認証レコードとプロフィールのずれは、タスクが解決済みになるまで定期的に再試行される。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/portfolio/internal/auth"
	"github.com/hitoshi/portfolio/internal/metrics"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

const (
	defaultBatchSize = 20
	// alertAttempts を超えて未解決のタスクはERRORで報告する。
	alertAttempts = 5
)

// Directory はタスクの解決に使う認証レコードとプロフィールの操作。
// *auth.Adapter が満たす。
type Directory interface {
	Account(ctx context.Context, uid string) (*model.Account, error)
	EnsureProfile(ctx context.Context, account *model.Account, role model.Role) error
	DeleteUser(ctx context.Context, uid string) error
	DeleteProfile(ctx context.Context, uid string) error
	RevokeSessions(ctx context.Context, uid string) error
}

var _ Directory = (*auth.Adapter)(nil)

// Worker は未解決タスクを一定間隔で取得し、種別ごとに解決を試みる。
type Worker struct {
	tasks     repository.ReconcileRepository
	directory Directory
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
	BatchSize int // 1サイクルで取得するタスク数（デフォルト: 20）
}

// NewWorker は新しいWorkerを生成する。
func NewWorker(
	tasks repository.ReconcileRepository,
	directory Directory,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
) *Worker {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Worker{
		tasks:     tasks,
		directory: directory,
		metrics:   mc,
		logger:    logger,
		now:       time.Now,
		BatchSize: defaultBatchSize,
	}
}

// Start はintervalごとにRunOnceを実行する。コンテキストがキャンセルされるまで戻らない。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("整合性回復ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("batch_size", w.BatchSize),
	)

	// 起動直後に1回実行
	w.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("整合性回復ワーカーを停止しました")
			return
		case <-ticker.C:
			w.runLogged(ctx)
		}
	}
}

func (w *Worker) runLogged(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("整合性回復サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// Result は1サイクルの処理結果。
type Result struct {
	Resolved int
	Failed   int
}

// RunOnce は未解決タスクを最大BatchSize件取得して処理する。
// 個々のタスクの失敗はタスクに記録し、サイクル自体のエラーにはしない。
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	start := w.now()

	tasks, err := w.tasks.ClaimPending(ctx, w.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("整合性回復タスクの取得に失敗: %w", err)
	}

	var res Result
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if w.process(ctx, task) {
			res.Resolved++
		} else {
			res.Failed++
		}
	}

	if len(tasks) > 0 {
		w.logger.Info("整合性回復サイクルが完了しました",
			slog.Int("claimed", len(tasks)),
			slog.Int("resolved", res.Resolved),
			slog.Int("failed", res.Failed),
			slog.Float64("duration_ms", float64(w.now().Sub(start).Milliseconds())),
		)
	}
	return res, nil
}

// process は1件のタスクを処理し、解決できたかを返す。
func (w *Worker) process(ctx context.Context, task *model.ReconcileTask) bool {
	log := w.logger.With(
		slog.String("task_id", task.ID),
		slog.String("kind", string(task.Kind)),
		slog.String("uid", task.UID),
		slog.String("operation", task.Operation),
		slog.Int("attempts", task.Attempts),
	)

	if err := w.resolve(ctx, task); err != nil {
		w.metrics.RecordReconcile(string(task.Kind), "failed")
		if recErr := w.tasks.RecordFailure(ctx, task.ID, err.Error()); recErr != nil {
			log.Error("整合性回復タスクの失敗記録に失敗しました", slog.String("error", recErr.Error()))
		}
		level := slog.LevelWarn
		if task.Attempts >= alertAttempts {
			level = slog.LevelError
		}
		log.Log(ctx, level, "整合性回復タスクの解決に失敗しました", slog.String("error", err.Error()))
		return false
	}

	if err := w.tasks.MarkResolved(ctx, task.ID, w.now()); err != nil {
		// タスクは未解決のまま残り、次のサイクルで再処理される。
		w.metrics.RecordReconcile(string(task.Kind), "failed")
		log.Error("整合性回復タスクを解決済みにできませんでした", slog.String("error", err.Error()))
		return false
	}
	w.metrics.RecordReconcile(string(task.Kind), "resolved")
	log.Info("整合性回復タスクを解決しました")
	return true
}

// resolve は種別ごとの回復処理を実行する。対象が既に存在しない場合は解決済みとみなす。
func (w *Worker) resolve(ctx context.Context, task *model.ReconcileTask) error {
	switch task.Kind {
	case model.ReconcileProfileRole:
		account, err := w.directory.Account(ctx, task.UID)
		if isGone(err) {
			return nil
		}
		if err != nil {
			return err
		}
		role, err := auth.ResolveRole(account.CustomClaims)
		if err != nil {
			return fmt.Errorf("claims do not resolve to a role: %w", err)
		}
		return w.directory.EnsureProfile(ctx, account, role)
	case model.ReconcileDeleteAccount:
		return ignoreGone(w.directory.DeleteUser(ctx, task.UID))
	case model.ReconcileDeleteProfile:
		return ignoreGone(w.directory.DeleteProfile(ctx, task.UID))
	case model.ReconcileRevokeSessions:
		return ignoreGone(w.directory.RevokeSessions(ctx, task.UID))
	default:
		return fmt.Errorf("unknown reconciliation kind %q", task.Kind)
	}
}

func isGone(err error) bool {
	return err != nil && model.HasCode(err, model.ErrCodeUserNotFound)
}

func ignoreGone(err error) error {
	if isGone(err) {
		return nil
	}
	return err
}
