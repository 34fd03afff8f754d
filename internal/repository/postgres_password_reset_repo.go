package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresPasswordResetRepo はPostgreSQLを使用したパスワード再設定トークンリポジトリ。
type PostgresPasswordResetRepo struct {
	db *sql.DB
}

// NewPostgresPasswordResetRepo はPostgresPasswordResetRepoを生成する。
func NewPostgresPasswordResetRepo(db *sql.DB) *PostgresPasswordResetRepo {
	return &PostgresPasswordResetRepo{db: db}
}

// Create はトークンハッシュを保存する。
func (r *PostgresPasswordResetRepo) Create(ctx context.Context, reset *model.PasswordReset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_resets (token_hash, uid, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		reset.TokenHash, reset.UID, reset.ExpiresAt, reset.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert password reset: %w", err)
	}
	return nil
}

// Consume は未使用かつ有効期限内のトークンを1回の UPDATE で使用済みにする。
// 同時に2つのリクエストが同じトークンを使っても成功するのは1つだけ。
func (r *PostgresPasswordResetRepo) Consume(ctx context.Context, tokenHash string, now time.Time) (*model.PasswordReset, error) {
	reset := &model.PasswordReset{}
	var usedAt time.Time
	err := r.db.QueryRowContext(ctx,
		`UPDATE password_resets
		 SET used_at = $2
		 WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		 RETURNING token_hash, uid, expires_at, used_at, created_at`,
		tokenHash, now,
	).Scan(&reset.TokenHash, &reset.UID, &reset.ExpiresAt, &usedAt, &reset.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume password reset: %w", err)
	}
	reset.UsedAt = &usedAt
	return reset, nil
}

// compile-time interface check
var _ PasswordResetRepository = (*PostgresPasswordResetRepo)(nil)
