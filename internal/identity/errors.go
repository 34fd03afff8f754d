// Package identity はパスワード認証・カスタムクレーム・セッションCookieを扱う
// IDプロバイダーをプロセス内で提供する。
package identity

import "errors"

var (
	// ErrInvalidCredentials はメールアドレス不明・パスワード不一致・無効化アカウントのいずれか。
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrEmailExists はメールアドレスが既に登録されている。
	ErrEmailExists = errors.New("identity: email already exists")
	// ErrAccountNotFound はアカウントが存在しない。
	ErrAccountNotFound = errors.New("identity: account not found")
	// ErrInvalidToken はIDトークンが不正・期限切れ。
	ErrInvalidToken = errors.New("identity: invalid id token")
	// ErrTokenConsumed はIDトークンが既にセッション作成に使われている。
	ErrTokenConsumed = errors.New("identity: id token already consumed")
	// ErrStaleSignIn はサインインから時間が経ちすぎている。
	ErrStaleSignIn = errors.New("identity: sign-in is not recent")
	// ErrSessionInvalid はセッションCookieの署名・有効期限が不正。
	ErrSessionInvalid = errors.New("identity: invalid session cookie")
	// ErrSessionRevoked はセッションが失効している（アカウント削除・無効化・トークン失効）。
	ErrSessionRevoked = errors.New("identity: session revoked")
	// ErrInvalidClaims はカスタムクレームが予約名を含むかサイズ超過。
	ErrInvalidClaims = errors.New("identity: invalid custom claims")
	// ErrWeakPassword はパスワードが長さ要件を満たさない。
	ErrWeakPassword = errors.New("identity: weak password")
	// ErrInvalidExpiry はセッション有効期間が許容範囲外。
	ErrInvalidExpiry = errors.New("identity: session expiry out of range")
	// ErrResetTokenInvalid はパスワード再設定トークンが不正・期限切れ・使用済み。
	ErrResetTokenInvalid = errors.New("identity: invalid password reset token")
	// ErrUnknownKey はkidに対応する検証鍵がない、または失効している。
	ErrUnknownKey = errors.New("identity: unknown signing key")
)
