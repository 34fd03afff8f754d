package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用したブログ記事リポジトリ。
// 一覧の絞り込みはsquirrelで組み立てる。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

var postColumns = []string{
	"id", "title", "slug", "excerpt", "content", "featured_image", "published",
	"tags", "author_name", "author_avatar", "created_at", "updated_at",
}

// Create は記事を作成する。スラッグが重複する場合はErrDuplicateを返す。
func (r *PostgresPostRepo) Create(ctx context.Context, p *model.Post) error {
	query, args, err := psql.Insert("posts").
		Columns(postColumns...).
		Values(p.ID, p.Title, p.Slug, p.Excerpt, p.Content, p.FeaturedImage, p.Published,
			pq.Array(p.Tags), p.Author.Name, p.Author.Avatar, p.CreatedAt, p.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("post slug %s: %w", p.Slug, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// Update は記事を更新する。
func (r *PostgresPostRepo) Update(ctx context.Context, p *model.Post) error {
	query, args, err := psql.Update("posts").
		SetMap(map[string]any{
			"title":          p.Title,
			"slug":           p.Slug,
			"excerpt":        p.Excerpt,
			"content":        p.Content,
			"featured_image": p.FeaturedImage,
			"published":      p.Published,
			"tags":           pq.Array(p.Tags),
			"author_name":    p.Author.Name,
			"author_avatar":  p.Author.Avatar,
			"updated_at":     p.UpdatedAt,
		}).
		Where(sq.Eq{"id": p.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("post slug %s: %w", p.Slug, ErrDuplicate)
		}
		return fmt.Errorf("failed to update post: %w", err)
	}
	return requireOneRow(result, "post "+p.ID)
}

// FindByID は記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	return r.findOne(ctx, sq.Eq{"id": id})
}

// FindBySlug はスラッグで記事を取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindBySlug(ctx context.Context, slug string) (*model.Post, error) {
	return r.findOne(ctx, sq.Eq{"slug": slug})
}

func (r *PostgresPostRepo) findOne(ctx context.Context, where sq.Sqlizer) (*model.Post, error) {
	query, args, err := psql.Select(postColumns...).From("posts").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}
	p, err := scanPost(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	return p, nil
}

// List は作成日時の降順で記事を返す。
func (r *PostgresPostRepo) List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
	query, args, err := buildPostListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, nil
}

// Count は総記事数と公開済み記事数を返す。
func (r *PostgresPostRepo) Count(ctx context.Context) (int, int, error) {
	var total, published int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*), count(*) FILTER (WHERE published) FROM posts`,
	).Scan(&total, &published)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return total, published, nil
}

// Delete は記事を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	return requireOneRow(result, "post "+id)
}

func buildPostListQuery(filter model.PostFilter) (string, []any, error) {
	b := psql.Select(postColumns...).From("posts")
	if filter.PublishedOnly {
		b = b.Where(sq.Eq{"published": true})
	}
	if filter.Tag != "" {
		b = b.Where(sq.Expr("? = ANY(tags)", filter.Tag))
	}
	b = b.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	return b.ToSql()
}

func scanPost(row rowScanner) (*model.Post, error) {
	p := &model.Post{}
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Excerpt, &p.Content, &p.FeaturedImage,
		&p.Published, pq.Array(&p.Tags), &p.Author.Name, &p.Author.Avatar, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
