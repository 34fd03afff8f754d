package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/portfolio/internal/model"
)

// PostgresMessageRepo はPostgreSQLを使用したお問い合わせメッセージリポジトリ。
type PostgresMessageRepo struct {
	db *sql.DB
}

// NewPostgresMessageRepo はPostgresMessageRepoを生成する。
func NewPostgresMessageRepo(db *sql.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

var messageColumns = []string{"id", "name", "email", "subject", "message", "type", "status", "created_at"}

// Create はメッセージを保存する。
func (r *PostgresMessageRepo) Create(ctx context.Context, m *model.ContactMessage) error {
	query, args, err := psql.Insert("contact_messages").
		Columns(messageColumns...).
		Values(m.ID, m.Name, m.Email, m.Subject, m.Message, string(m.Type), string(m.Status), m.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// FindByID はメッセージを取得する。見つからない場合はnilを返す。
func (r *PostgresMessageRepo) FindByID(ctx context.Context, id string) (*model.ContactMessage, error) {
	query, args, err := psql.Select(messageColumns...).From("contact_messages").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}
	m, err := scanMessage(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return m, nil
}

// List は作成日時の降順でメッセージを返す。
// filter.Queryは名前・メール・件名・本文の部分一致（大文字小文字を区別しない）。
func (r *PostgresMessageRepo) List(ctx context.Context, filter model.MessageFilter) ([]*model.ContactMessage, error) {
	query, args, err := buildMessageListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.ContactMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return msgs, nil
}

// CountByStatus はステータスごとの件数を返す。件数0のステータスも含める。
func (r *PostgresMessageRepo) CountByStatus(ctx context.Context) (map[model.MessageStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, count(*) FROM contact_messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	defer rows.Close()

	counts := map[model.MessageStatus]int{
		model.MessageStatusUnread:   0,
		model.MessageStatusRead:     0,
		model.MessageStatusReplied:  0,
		model.MessageStatusArchived: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan message count: %w", err)
		}
		counts[model.MessageStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message counts: %w", err)
	}
	return counts, nil
}

// UpdateStatus はメッセージのステータスを更新する。
func (r *PostgresMessageRepo) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE contact_messages SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	return requireOneRow(result, "message "+id)
}

// Delete はメッセージを削除する。
func (r *PostgresMessageRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM contact_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return requireOneRow(result, "message "+id)
}

func buildMessageListQuery(filter model.MessageFilter) (string, []any, error) {
	b := psql.Select(messageColumns...).From("contact_messages")
	if filter.Status != "" {
		b = b.Where(sq.Eq{"status": string(filter.Status)})
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		b = b.Where(sq.Or{
			sq.ILike{"name": pattern},
			sq.ILike{"email": pattern},
			sq.ILike{"subject": pattern},
			sq.ILike{"message": pattern},
		})
	}
	b = b.OrderBy("created_at DESC")
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	return b.ToSql()
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func scanMessage(row rowScanner) (*model.ContactMessage, error) {
	m := &model.ContactMessage{}
	var typ, status string
	if err := row.Scan(&m.ID, &m.Name, &m.Email, &m.Subject, &m.Message, &typ, &status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Type = model.MessageType(typ)
	m.Status = model.MessageStatus(status)
	return m, nil
}

// compile-time interface check
var _ MessageRepository = (*PostgresMessageRepo)(nil)
