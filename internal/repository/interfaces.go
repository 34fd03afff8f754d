// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

var (
	// ErrNotFound は更新・削除対象の行が存在しない場合に返される。
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate は一意制約に違反した場合に返される。
	ErrDuplicate = errors.New("repository: duplicate")
)

// AccountRepository は認証アカウントの永続化インターフェース。
type AccountRepository interface {
	// Create はアカウントを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, account *model.Account) error
	// FindByID は指定UIDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, uid string) (*model.Account, error)
	// FindByEmail はメールアドレスでアカウントを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	// UpdateClaims はカスタムクレームを丸ごと置き換える。
	UpdateClaims(ctx context.Context, uid string, claims map[string]any) error
	// UpdatePassword はパスワードハッシュを更新し、validAfter以前に発行したトークンを無効化する。
	UpdatePassword(ctx context.Context, uid, passwordHash string, validAfter time.Time) error
	// UpdateDisplayName は表示名を更新する。
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
	// RevokeTokens はvalidAfter以前に発行したトークンを無効化する。
	RevokeTokens(ctx context.Context, uid string, validAfter time.Time) error
	// Delete はアカウントを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, uid string) error
}

// SigningKeyRepository は署名鍵の永続化インターフェース。
type SigningKeyRepository interface {
	// Create は署名鍵を保存する。
	Create(ctx context.Context, key *model.SigningKey) error
	// FindByKID はkidで署名鍵を取得する。見つからない場合はnilを返す。
	FindByKID(ctx context.Context, kid string) (*model.SigningKey, error)
	// FindActive は署名に使う最新の鍵（退役・失効していないもの）を返す。存在しない場合はnilを返す。
	FindActive(ctx context.Context) (*model.SigningKey, error)
	// ListRetired は退役済みかつ未失効の鍵を返す。
	ListRetired(ctx context.Context) ([]*model.SigningKey, error)
	// Retire は鍵を退役させる。以後署名には使わないが検証には使える。
	Retire(ctx context.Context, kid string, at time.Time) error
	// Revoke は鍵を失効させる。以後検証にも使わない。
	Revoke(ctx context.Context, kid string, at time.Time) error
}

// PasswordResetRepository はパスワード再設定トークンの永続化インターフェース。
type PasswordResetRepository interface {
	// Create はトークンハッシュを保存する。
	Create(ctx context.Context, reset *model.PasswordReset) error
	// Consume は未使用かつ有効期限内のトークンを使用済みにして返す。
	// 使用できないトークンの場合はnilを返す。
	Consume(ctx context.Context, tokenHash string, now time.Time) (*model.PasswordReset, error)
}

// ProfileRepository はユーザープロフィールの永続化インターフェース。
type ProfileRepository interface {
	// Create はプロフィールを作成する。
	Create(ctx context.Context, profile *model.UserProfile) error
	// FindByID は指定UIDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, uid string) (*model.UserProfile, error)
	// List は作成日時の降順でプロフィールを返す。
	List(ctx context.Context) ([]*model.UserProfile, error)
	// Count はプロフィール総数を返す。
	Count(ctx context.Context) (int, error)
	// UpdateRole は表示用のロールを更新する。
	UpdateRole(ctx context.Context, uid string, role model.Role) error
	// UpdateDisplayName は表示名を更新する。
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
	// TouchLastLogin は最終ログイン日時を更新する。
	TouchLastLogin(ctx context.Context, uid string, at time.Time) error
	// Delete はプロフィールを削除する。存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, uid string) error
}

// PostRepository はブログ記事の永続化インターフェース。
type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	Update(ctx context.Context, post *model.Post) error
	// FindByID は見つからない場合nilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)
	// FindBySlug は見つからない場合nilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Post, error)
	// List は作成日時の降順で記事を返す。
	List(ctx context.Context, filter model.PostFilter) ([]*model.Post, error)
	// Count は総記事数と公開済み記事数を返す。
	Count(ctx context.Context) (total int, published int, err error)
	Delete(ctx context.Context, id string) error
}

// PageRepository は固定ページの永続化インターフェース。
type PageRepository interface {
	Create(ctx context.Context, page *model.Page) error
	Update(ctx context.Context, page *model.Page) error
	FindByID(ctx context.Context, id string) (*model.Page, error)
	FindBySlug(ctx context.Context, slug string) (*model.Page, error)
	// List は更新日時の降順でページを返す。
	List(ctx context.Context) ([]*model.Page, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

// MessageRepository はお問い合わせメッセージの永続化インターフェース。
type MessageRepository interface {
	Create(ctx context.Context, msg *model.ContactMessage) error
	FindByID(ctx context.Context, id string) (*model.ContactMessage, error)
	// List は作成日時の降順でメッセージを返す。
	List(ctx context.Context, filter model.MessageFilter) ([]*model.ContactMessage, error)
	// CountByStatus はステータスごとの件数を返す。
	CountByStatus(ctx context.Context) (map[model.MessageStatus]int, error)
	UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error
	Delete(ctx context.Context, id string) error
}

// ReconcileRepository は整合性回復タスクの永続化インターフェース。
type ReconcileRepository interface {
	// Create はタスクを登録する。
	Create(ctx context.Context, task *model.ReconcileTask) error
	// ClaimPending は未解決タスクを古い順にlimit件まで排他的に取得する。
	// 取得したタスクはattemptsが1増える。
	ClaimPending(ctx context.Context, limit int) ([]*model.ReconcileTask, error)
	// MarkResolved はタスクを解決済みにする。
	MarkResolved(ctx context.Context, id string, at time.Time) error
	// RecordFailure は直近の失敗理由を記録する。
	RecordFailure(ctx context.Context, id, lastError string) error
	// CountPending は未解決タスク数を返す。
	CountPending(ctx context.Context) (int, error)
}

// TokenLedger はIDトークンのjtiを1回だけ消費済みにする台帳。
type TokenLedger interface {
	// Consume はjtiを消費済みにする。既に消費済みの場合はfalseを返す。
	// ttlはトークンの残り有効期間で、経過後は台帳から消える。
	Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error)
}
