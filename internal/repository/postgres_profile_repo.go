package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したユーザープロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `uid, email, display_name, role, created_at, last_login`

// Create はプロフィールを作成する。同じUIDが既にある場合はErrDuplicateを返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, p *model.UserProfile) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_profiles (`+profileColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		p.UID, p.Email, p.DisplayName, string(p.Role), p.CreatedAt, p.LastLogin,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("profile %s: %w", p.UID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// FindByID は指定UIDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, uid string) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE uid = $1`, uid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// List は作成日時の降順でプロフィールを返す。
func (r *PostgresProfileRepo) List(ctx context.Context) ([]*model.UserProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*model.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}
	return profiles, nil
}

// Count はプロフィール総数を返す。
func (r *PostgresProfileRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM user_profiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}

// UpdateRole は表示用のロールを更新する。
func (r *PostgresProfileRepo) UpdateRole(ctx context.Context, uid string, role model.Role) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles SET role = $2 WHERE uid = $1`, uid, string(role))
	if err != nil {
		return fmt.Errorf("failed to update profile role: %w", err)
	}
	return requireOneRow(result, "profile "+uid)
}

// UpdateDisplayName は表示名を更新する。
func (r *PostgresProfileRepo) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles SET display_name = $2 WHERE uid = $1`, uid, displayName)
	if err != nil {
		return fmt.Errorf("failed to update profile display name: %w", err)
	}
	return requireOneRow(result, "profile "+uid)
}

// TouchLastLogin は最終ログイン日時を更新する。
func (r *PostgresProfileRepo) TouchLastLogin(ctx context.Context, uid string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles SET last_login = $2 WHERE uid = $1`, uid, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return requireOneRow(result, "profile "+uid)
}

// Delete はプロフィールを削除する。
func (r *PostgresProfileRepo) Delete(ctx context.Context, uid string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_profiles WHERE uid = $1`, uid)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return requireOneRow(result, "profile "+uid)
}

func scanProfile(row rowScanner) (*model.UserProfile, error) {
	p := &model.UserProfile{}
	var role string
	var lastLogin sql.NullTime
	if err := row.Scan(&p.UID, &p.Email, &p.DisplayName, &role, &p.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	p.Role = model.Role(role)
	if lastLogin.Valid {
		p.LastLogin = &lastLogin.Time
	}
	return p, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
