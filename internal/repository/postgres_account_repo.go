package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用した認証アカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

const accountColumns = `uid, email, password_hash, display_name, custom_claims, disabled, tokens_valid_after, created_at, updated_at`

// Create はアカウントを作成する。メールアドレスは小文字で保存する。
func (r *PostgresAccountRepo) Create(ctx context.Context, a *model.Account) error {
	claims, err := encodeClaims(a.CustomClaims)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.UID, strings.ToLower(a.Email), a.PasswordHash, a.DisplayName, claims,
		a.Disabled, a.TokensValidAfter, a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("account %s: %w", a.Email, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// FindByID は指定UIDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, uid string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE uid = $1`, uid)
	return scanAccount(row)
}

// FindByEmail はメールアドレス（大文字小文字を区別しない）でアカウントを取得する。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, strings.ToLower(email))
	return scanAccount(row)
}

// UpdateClaims はカスタムクレームを丸ごと置き換える。
func (r *PostgresAccountRepo) UpdateClaims(ctx context.Context, uid string, claims map[string]any) error {
	encoded, err := encodeClaims(claims)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET custom_claims = $2, updated_at = now() WHERE uid = $1`,
		uid, encoded,
	)
	if err != nil {
		return fmt.Errorf("failed to update claims: %w", err)
	}
	return requireOneRow(result, "account "+uid)
}

// UpdatePassword はパスワードハッシュとトークン有効開始時刻を更新する。
func (r *PostgresAccountRepo) UpdatePassword(ctx context.Context, uid, passwordHash string, validAfter time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $2, tokens_valid_after = $3, updated_at = now() WHERE uid = $1`,
		uid, passwordHash, validAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireOneRow(result, "account "+uid)
}

// UpdateDisplayName は表示名を更新する。
func (r *PostgresAccountRepo) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET display_name = $2, updated_at = now() WHERE uid = $1`,
		uid, displayName,
	)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	return requireOneRow(result, "account "+uid)
}

// RevokeTokens はvalidAfter以前に認証されたトークンとセッションを無効化する。
func (r *PostgresAccountRepo) RevokeTokens(ctx context.Context, uid string, validAfter time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET tokens_valid_after = $2, updated_at = now() WHERE uid = $1`,
		uid, validAfter,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return requireOneRow(result, "account "+uid)
}

// Delete はアカウントを削除する。関連するpassword_resetsはCASCADE削除される。
func (r *PostgresAccountRepo) Delete(ctx context.Context, uid string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return requireOneRow(result, "account "+uid)
}

func scanAccount(row *sql.Row) (*model.Account, error) {
	a := &model.Account{}
	var claims []byte
	err := row.Scan(&a.UID, &a.Email, &a.PasswordHash, &a.DisplayName, &claims,
		&a.Disabled, &a.TokensValidAfter, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	if err := json.Unmarshal(claims, &a.CustomClaims); err != nil {
		return nil, fmt.Errorf("failed to decode custom claims: %w", err)
	}
	if a.CustomClaims == nil {
		a.CustomClaims = map[string]any{}
	}
	return a, nil
}

func encodeClaims(claims map[string]any) ([]byte, error) {
	if claims == nil {
		claims = map[string]any{}
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to encode custom claims: %w", err)
	}
	return b, nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
