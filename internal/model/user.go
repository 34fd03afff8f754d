// Package model はドメインモデルを定義する。
package model

import "time"

// Role はアクセス制御に用いるユーザーロールを表す。
// 1ユーザーにつき必ず1つのロールを持つ。
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// AllRoles は定義済みロールの一覧を返す。
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleEditor, RoleViewer}
}

// Valid はロールが定義済みの値かどうかを判定する。
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// ParseRole は文字列をRoleに変換する。未定義の値の場合はfalseを返す。
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}

// UserProfile はユーザーごとのプロフィールドキュメントを表す。
// Roleはカスタムクレームの表示用コピーであり、アクセス制御にはクレーム側を使う。
type UserProfile struct {
	UID         string
	Email       string
	DisplayName string
	Role        Role
	CreatedAt   time.Time
	LastLogin   *time.Time
}

// Account はIDプロバイダーが管理する認証レコードを表す。
type Account struct {
	UID              string
	Email            string
	PasswordHash     string
	DisplayName      string
	CustomClaims     map[string]any
	Disabled         bool
	TokensValidAfter time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Claims は検証済みトークンまたはセッションCookieから得られるクレームを表す。
// リクエストごとにゲートで検証され、コンテキスト経由でハンドラーに渡される。
type Claims struct {
	UID       string
	Email     string
	AuthTime  time.Time
	IssuedAt  time.Time
	ExpiresAt time.Time
	Custom    map[string]any
}
