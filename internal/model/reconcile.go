package model

import "time"

// ReconcileKind は整合性回復タスクの種別を表す。
type ReconcileKind string

const (
	// ReconcileProfileRole はクレームのロールをプロフィールに反映し直す。
	ReconcileProfileRole ReconcileKind = "profile_role_sync"
	// ReconcileDeleteAccount は取り残された認証レコードを削除する。
	ReconcileDeleteAccount ReconcileKind = "delete_account"
	// ReconcileDeleteProfile は取り残されたプロフィールを削除する。
	ReconcileDeleteProfile ReconcileKind = "delete_profile"
	// ReconcileRevokeSessions はロール変更後に残った既存セッションを失効させる。
	ReconcileRevokeSessions ReconcileKind = "revoke_sessions"
)

// ReconcileTask は複数ステップの特権操作が途中で失敗した際に記録されるタスク。
// ワーカーが定期的に処理し、解決済みになるまで再試行する。
type ReconcileTask struct {
	ID         string
	UID        string
	Kind       ReconcileKind
	Operation  string
	Detail     string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// SigningKey はセッションCookieとIDトークンの署名鍵を表す。
// PrivateKeyは暗号化済みのPEM文字列。
type SigningKey struct {
	KID        string
	Algorithm  string
	PrivateKey string
	PublicKey  string
	CreatedAt  time.Time
	RetiredAt  *time.Time
	RevokedAt  *time.Time
}

// PasswordReset はパスワード再設定トークンの記録を表す。
// トークン本体は保存せず、SHA-256ハッシュのみを保持する。
type PasswordReset struct {
	TokenHash string
	UID       string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}
