package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresSigningKeyRepo はPostgreSQLを使用した署名鍵リポジトリ。
type PostgresSigningKeyRepo struct {
	db *sql.DB
}

// NewPostgresSigningKeyRepo はPostgresSigningKeyRepoを生成する。
func NewPostgresSigningKeyRepo(db *sql.DB) *PostgresSigningKeyRepo {
	return &PostgresSigningKeyRepo{db: db}
}

const signingKeyColumns = `kid, algorithm, private_key, public_key, created_at, retired_at, revoked_at`

// Create は署名鍵を保存する。PrivateKeyは暗号化済みであること。
func (r *PostgresSigningKeyRepo) Create(ctx context.Context, k *model.SigningKey) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signing_keys (`+signingKeyColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		k.KID, k.Algorithm, k.PrivateKey, k.PublicKey, k.CreatedAt, k.RetiredAt, k.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert signing key: %w", err)
	}
	return nil
}

// FindByKID はkidで署名鍵を取得する。見つからない場合はnilを返す。
func (r *PostgresSigningKeyRepo) FindByKID(ctx context.Context, kid string) (*model.SigningKey, error) {
	k, err := scanSigningKey(r.db.QueryRowContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = $1`, kid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find signing key: %w", err)
	}
	return k, nil
}

// FindActive は署名に使う最新の鍵を返す。存在しない場合はnilを返す。
func (r *PostgresSigningKeyRepo) FindActive(ctx context.Context) (*model.SigningKey, error) {
	k, err := scanSigningKey(r.db.QueryRowContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys
		 WHERE retired_at IS NULL AND revoked_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active signing key: %w", err)
	}
	return k, nil
}

// ListRetired は退役済みかつ未失効の鍵を退役日時の古い順に返す。
func (r *PostgresSigningKeyRepo) ListRetired(ctx context.Context) ([]*model.SigningKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys
		 WHERE retired_at IS NOT NULL AND revoked_at IS NULL
		 ORDER BY retired_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list retired signing keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signing key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate signing keys: %w", err)
	}
	return keys, nil
}

// Retire は鍵を退役させる。既に退役済みの場合は何もしない。
func (r *PostgresSigningKeyRepo) Retire(ctx context.Context, kid string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE signing_keys SET retired_at = COALESCE(retired_at, $2) WHERE kid = $1`,
		kid, at,
	)
	if err != nil {
		return fmt.Errorf("failed to retire signing key: %w", err)
	}
	return requireOneRow(result, "signing key "+kid)
}

// Revoke は鍵を失効させる。未退役の鍵は同時に退役させる。
func (r *PostgresSigningKeyRepo) Revoke(ctx context.Context, kid string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE signing_keys
		 SET revoked_at = COALESCE(revoked_at, $2), retired_at = COALESCE(retired_at, $2)
		 WHERE kid = $1`,
		kid, at,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke signing key: %w", err)
	}
	return requireOneRow(result, "signing key "+kid)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSigningKey(row rowScanner) (*model.SigningKey, error) {
	k := &model.SigningKey{}
	var retiredAt, revokedAt sql.NullTime
	if err := row.Scan(&k.KID, &k.Algorithm, &k.PrivateKey, &k.PublicKey, &k.CreatedAt, &retiredAt, &revokedAt); err != nil {
		return nil, err
	}
	if retiredAt.Valid {
		k.RetiredAt = &retiredAt.Time
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	return k, nil
}

// compile-time interface check
var _ SigningKeyRepository = (*PostgresSigningKeyRepo)(nil)
