package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portfolio/internal/auth"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするIDプロバイダーアダプターの操作。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error
	DeleteUser(ctx context.Context, uid string) error
	ResetPassword(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

// SessionServiceInterface はセッションCookieの発行と破棄を行う。
type SessionServiceInterface interface {
	CreateSession(ctx context.Context, idToken string) (*http.Cookie, error)
	DestroySession() *http.Cookie
}

// BootstrapperInterface は初回管理者の作成を行う。
type BootstrapperInterface interface {
	CreateAdmin(ctx context.Context, secret string) (*auth.BootstrapResult, error)
}

var (
	_ AuthServiceInterface    = (*auth.Adapter)(nil)
	_ SessionServiceInterface = (*auth.SessionService)(nil)
	_ BootstrapperInterface   = (*auth.Bootstrapper)(nil)
)

// AuthHandler は認証・セッション・特権操作のHTTPハンドラー。
type AuthHandler struct {
	service      AuthServiceInterface
	sessions     SessionServiceInterface
	bootstrapper BootstrapperInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionServiceInterface, bootstrapper BootstrapperInterface) *AuthHandler {
	return &AuthHandler{
		service:      service,
		sessions:     sessions,
		bootstrapper: bootstrapper,
	}
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signInResponse struct {
	IDToken string `json:"idToken"`
}

type createSessionRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

type createAdminRequest struct {
	Secret string `json:"secret"`
}

type createAdminResponse struct {
	Status   string `json:"status"`
	UID      string `json:"uid"`
	Password string `json:"password,omitempty"`
}

type setCustomClaimsRequest struct {
	UID    string         `json:"uid" validate:"required"`
	Claims map[string]any `json:"claims" validate:"required"`
}

type deleteUserRequest struct {
	UID string `json:"uid" validate:"required"`
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type confirmPasswordResetRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// SignIn はメールアドレスとパスワードでサインインし、セッション作成用のIDトークンを返す。
// POST /api/auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{IDToken: token})
}

// CreateSession はIDトークンをセッションCookieに交換する。
// POST /api/auth/session
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	cookie, err := h.sessions.CreateSession(r.Context(), req.IDToken)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// DeleteSession はセッションCookieを破棄する。セッションが無くても成功する。
// DELETE /api/auth/session
func (h *AuthHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessions.DestroySession())
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// CreateAdmin は共有シークレットを検証して初回の管理者アカウントを作成する。
// POST /api/auth/create-admin
func (h *AuthHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// 読めないボディは秘密値の欠落と同じ扱い
		slog.Warn("bootstrap rejected: unreadable body")
		middleware.WriteError(w, model.NewUnauthorizedError())
		return
	}

	result, err := h.bootstrapper.CreateAdmin(r.Context(), req.Secret)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	statusCode := http.StatusOK
	if result.Status == auth.BootstrapCreated {
		statusCode = http.StatusCreated
	}
	writeJSON(w, statusCode, createAdminResponse{
		Status:   string(result.Status),
		UID:      result.UID,
		Password: result.Password,
	})
}

// SetCustomClaims は対象ユーザーのカスタムクレームを置き換える。管理者のみ。
// POST /api/auth/set-custom-claims
func (h *AuthHandler) SetCustomClaims(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req setCustomClaimsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.SetCustomClaims(r.Context(), req.UID, req.Claims); err != nil {
		middleware.WriteError(w, err)
		return
	}
	slog.Info("custom claims set by admin",
		slog.String("actor_uid", p.Claims.UID),
		slog.String("target_uid", req.UID),
	)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// DeleteUser は対象ユーザーの認証レコードを削除する。プロフィールは残す。管理者のみ。
// POST /api/auth/delete-user
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req deleteUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UID == p.Claims.UID {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("自分自身は削除できません"))
		return
	}

	if err := h.service.DeleteUser(r.Context(), req.UID); err != nil {
		middleware.WriteError(w, err)
		return
	}
	slog.Info("account deleted by admin",
		slog.String("actor_uid", p.Claims.UID),
		slog.String("target_uid", req.UID),
	)
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// RequestPasswordReset はパスワード再設定メールを送る。
// アカウントの有無を推測されないよう、結果にかかわらず200を返す。
// POST /api/auth/password-reset
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Email); err != nil {
		slog.Error("password reset request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// ConfirmPasswordReset は再設定トークンを消費して新しいパスワードを設定する。
// POST /api/auth/password-reset/confirm
func (h *AuthHandler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req confirmPasswordResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), req.Token, req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}
