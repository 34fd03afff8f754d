// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// 管理画面はCodeで分岐し、メッセージ文字列には依存しない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeSessionInvalid      = "SESSION_INVALID"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodePartialFailure      = "PARTIAL_FAILURE"
	ErrCodeEmailAlreadyExists  = "EMAIL_ALREADY_EXISTS"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeInvalidToken        = "INVALID_TOKEN"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidClaims       = "INVALID_CLAIMS"
	ErrCodeAmbiguousRole       = "AMBIGUOUS_ROLE"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodePostNotFound        = "POST_NOT_FOUND"
	ErrCodePageNotFound        = "PAGE_NOT_FOUND"
	ErrCodeMessageNotFound     = "MESSAGE_NOT_FOUND"
	ErrCodeSlugConflict        = "SLUG_CONFLICT"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// HasCode はerrのチェーン中に指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不一致のエラーを生成する。
// アカウントの存在有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewSessionInvalidError はセッションCookieが無効・期限切れの場合のエラーを生成する。
func NewSessionInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionInvalid,
		Message:  "セッションが無効または期限切れです。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewUnauthorizedError は必要なロールを持たない場合、または共有シークレット不一致の場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "権限を持つアカウントでログインしてください。",
	}
}

// NewUpstreamUnavailableError はIDプロバイダーまたはドキュメントストアに到達できない場合のエラーを生成する。
func NewUpstreamUnavailableError(operation string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("外部サービスに接続できませんでした: %s", operation),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPartialFailureError は複数ステップの操作が途中で失敗した場合のエラーを生成する。
// failedStepsには失敗したステップ名を渡す。
func NewPartialFailureError(operation string, failedSteps ...string) *APIError {
	return &APIError{
		Code:     ErrCodePartialFailure,
		Message:  fmt.Sprintf("%s が一部のみ完了しました（失敗: %s）。", operation, strings.Join(failedSteps, ", ")),
		Category: "system",
		Action:   "整合性回復タスクが登録されています。状態を確認してください。",
	}
}

// NewEmailAlreadyExistsError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyExists,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewInvalidTokenError はIDトークンが期限切れ・不正・使用済みの場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "トークンが無効、期限切れ、または使用済みです。",
		Category: "auth",
		Action:   "もう一度サインインしてください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidClaimsError はカスタムクレームが不正な場合のエラーを生成する。
func NewInvalidClaimsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidClaims,
		Message:  fmt.Sprintf("カスタムクレームが不正です: %s", reason),
		Category: "validation",
		Action:   "予約済みのクレーム名を避け、1000バイト以内で指定してください。",
	}
}

// NewAmbiguousRoleError は複数のロールが同時に付与されている場合のエラーを生成する。
func NewAmbiguousRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeAmbiguousRole,
		Message:  "複数のロールが同時に設定されています。",
		Category: "auth",
		Action:   "管理者にロールの再設定を依頼してください。",
	}
}

// NewWeakPasswordError はパスワード要件を満たさない場合のエラーを生成する。
func NewWeakPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  "パスワードは8文字以上72バイト以内で指定してください。",
		Category: "validation",
		Action:   "別のパスワードを指定してください。",
	}
}

// NewPostNotFoundError は記事が見つからない場合のエラーを生成する。
func NewPostNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された記事が見つかりません: %s", key),
		Category: "content",
		Action:   "記事IDまたはスラッグを確認してください。",
	}
}

// NewPageNotFoundError は固定ページが見つからない場合のエラーを生成する。
func NewPageNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodePageNotFound,
		Message:  fmt.Sprintf("指定されたページが見つかりません: %s", key),
		Category: "content",
		Action:   "ページIDまたはスラッグを確認してください。",
	}
}

// NewMessageNotFoundError はメッセージが見つからない場合のエラーを生成する。
func NewMessageNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeMessageNotFound,
		Message:  fmt.Sprintf("指定されたメッセージが見つかりません: %s", id),
		Category: "content",
		Action:   "メッセージIDを確認してください。",
	}
}

// NewSlugConflictError はスラッグが重複している場合のエラーを生成する。
func NewSlugConflictError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeSlugConflict,
		Message:  fmt.Sprintf("スラッグが既に使われています: %s", slug),
		Category: "content",
		Action:   "別のスラッグを指定してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
