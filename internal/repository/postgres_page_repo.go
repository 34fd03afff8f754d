package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresPageRepo はPostgreSQLを使用した固定ページリポジトリ。
type PostgresPageRepo struct {
	db *sql.DB
}

// NewPostgresPageRepo はPostgresPageRepoを生成する。
func NewPostgresPageRepo(db *sql.DB) *PostgresPageRepo {
	return &PostgresPageRepo{db: db}
}

const pageColumns = `id, title, slug, content, featured_image, meta_title, meta_description, created_at, updated_at`

// Create はページを作成する。スラッグが重複する場合はErrDuplicateを返す。
func (r *PostgresPageRepo) Create(ctx context.Context, p *model.Page) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pages (`+pageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.Title, p.Slug, p.Content, p.FeaturedImage, p.MetaTitle, p.MetaDescription, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("page slug %s: %w", p.Slug, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert page: %w", err)
	}
	return nil
}

// Update はページを更新する。
func (r *PostgresPageRepo) Update(ctx context.Context, p *model.Page) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE pages
		 SET title = $2, slug = $3, content = $4, featured_image = $5,
		     meta_title = $6, meta_description = $7, updated_at = $8
		 WHERE id = $1`,
		p.ID, p.Title, p.Slug, p.Content, p.FeaturedImage, p.MetaTitle, p.MetaDescription, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("page slug %s: %w", p.Slug, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to update page: %w", err)
	}
	return requireOneRow(result, "page "+p.ID)
}

// FindByID はページを取得する。見つからない場合はnilを返す。
func (r *PostgresPageRepo) FindByID(ctx context.Context, id string) (*model.Page, error) {
	return r.findOne(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = $1`, id)
}

// FindBySlug はスラッグでページを取得する。見つからない場合はnilを返す。
func (r *PostgresPageRepo) FindBySlug(ctx context.Context, slug string) (*model.Page, error) {
	return r.findOne(ctx, `SELECT `+pageColumns+` FROM pages WHERE slug = $1`, slug)
}

func (r *PostgresPageRepo) findOne(ctx context.Context, query string, arg string) (*model.Page, error) {
	p, err := scanPage(r.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find page: %w", err)
	}
	return p, nil
}

// List は更新日時の降順でページを返す。
func (r *PostgresPageRepo) List(ctx context.Context) ([]*model.Page, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+pageColumns+` FROM pages ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pages: %w", err)
	}
	return pages, nil
}

// Count はページ総数を返す。
func (r *PostgresPageRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// Delete はページを削除する。
func (r *PostgresPageRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM pages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}
	return requireOneRow(result, "page "+id)
}

func scanPage(row rowScanner) (*model.Page, error) {
	p := &model.Page{}
	if err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Content, &p.FeaturedImage,
		&p.MetaTitle, &p.MetaDescription, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return p, nil
}

// compile-time interface check
var _ PageRepository = (*PostgresPageRepo)(nil)
