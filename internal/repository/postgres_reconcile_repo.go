package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresReconcileRepo はPostgreSQLを使用した整合性回復タスクリポジトリ。
type PostgresReconcileRepo struct {
	db *sql.DB
}

// NewPostgresReconcileRepo はPostgresReconcileRepoを生成する。
func NewPostgresReconcileRepo(db *sql.DB) *PostgresReconcileRepo {
	return &PostgresReconcileRepo{db: db}
}

// Create はタスクを登録する。
func (r *PostgresReconcileRepo) Create(ctx context.Context, t *model.ReconcileTask) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reconciliation_tasks (id, uid, kind, operation, detail, attempts, last_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.UID, string(t.Kind), t.Operation, t.Detail, t.Attempts, t.LastError, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reconciliation task: %w", err)
	}
	return nil
}

// ClaimPending は未解決タスクを古い順に取得し、attemptsを1増やす。
// FOR UPDATE SKIP LOCKEDにより複数ワーカーが同じタスクを同時に処理しない。
func (r *PostgresReconcileRepo) ClaimPending(ctx context.Context, limit int) ([]*model.ReconcileTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE reconciliation_tasks
		 SET attempts = attempts + 1
		 WHERE id IN (
		     SELECT id FROM reconciliation_tasks
		     WHERE resolved_at IS NULL
		     ORDER BY created_at ASC
		     LIMIT $1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, uid, kind, operation, detail, attempts, last_error, created_at`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim reconciliation tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.ReconcileTask
	for rows.Next() {
		t := &model.ReconcileTask{}
		var kind string
		if err := rows.Scan(&t.ID, &t.UID, &kind, &t.Operation, &t.Detail, &t.Attempts, &t.LastError, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation task: %w", err)
		}
		t.Kind = model.ReconcileKind(kind)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reconciliation tasks: %w", err)
	}
	return tasks, nil
}

// MarkResolved はタスクを解決済みにする。
func (r *PostgresReconcileRepo) MarkResolved(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_tasks SET resolved_at = $2, last_error = '' WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to resolve reconciliation task: %w", err)
	}
	return requireOneRow(result, "reconciliation task "+id)
}

// RecordFailure は直近の失敗理由を記録する。
func (r *PostgresReconcileRepo) RecordFailure(ctx context.Context, id, lastError string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE reconciliation_tasks SET last_error = $2 WHERE id = $1`, id, lastError)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation failure: %w", err)
	}
	return requireOneRow(result, "reconciliation task "+id)
}

// CountPending は未解決タスク数を返す。
func (r *PostgresReconcileRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM reconciliation_tasks WHERE resolved_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count reconciliation tasks: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ ReconcileRepository = (*PostgresReconcileRepo)(nil)
