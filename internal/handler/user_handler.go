package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/portfolio/internal/auth"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	List(ctx context.Context) ([]*model.UserProfile, error)
	Get(ctx context.Context, uid string) (*model.UserProfile, error)
	Create(ctx context.Context, in auth.CreateUserInput) (*model.UserProfile, error)
	Update(ctx context.Context, actorUID, uid string, in user.UpdateInput) (*model.UserProfile, error)
	Remove(ctx context.Context, actorUID, uid string) error
	UpdateOwnDisplayName(ctx context.Context, uid, displayName string) (*model.UserProfile, error)
	ChangeOwnPassword(ctx context.Context, uid, newPassword string) error
}

var _ UserServiceInterface = (*user.Service)(nil)

// UserHandler はユーザー管理と本人設定のHTTPハンドラー。
type UserHandler struct {
	service  UserServiceInterface
	sessions SessionServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, sessions SessionServiceInterface) *UserHandler {
	return &UserHandler{service: service, sessions: sessions}
}

type userResponse struct {
	UID         string     `json:"uid"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin"`
}

type createUserRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	Role        string `json:"role" validate:"required,oneof=admin editor viewer"`
	DisplayName string `json:"displayName" validate:"max=100"`
}

type updateUserRequest struct {
	Role        *string `json:"role" validate:"omitempty,oneof=admin editor viewer"`
	DisplayName *string `json:"displayName" validate:"omitempty,max=100"`
}

type updateMeRequest struct {
	DisplayName string `json:"displayName" validate:"required,max=100"`
}

type changePasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

func toUserResponse(p *model.UserProfile) userResponse {
	return userResponse{
		UID:         p.UID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		CreatedAt:   p.CreatedAt,
		LastLogin:   p.LastLogin,
	}
}

// ListUsers はユーザー一覧を作成日時の降順で返す。
// GET /api/admin/users
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.List(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateUser はユーザーを作成する。
// POST /api/admin/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.Create(r.Context(), auth.CreateUserInput{
		Email:       req.Email,
		Password:    req.Password,
		Role:        model.Role(req.Role),
		DisplayName: req.DisplayName,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(profile))
}

// UpdateUser は他のユーザーのロール・表示名を変更する。
// PATCH /api/admin/users/{uid}
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	in := user.UpdateInput{DisplayName: req.DisplayName}
	if req.Role != nil {
		role := model.Role(*req.Role)
		in.Role = &role
	}

	profile, err := h.service.Update(r.Context(), p.Claims.UID, chi.URLParam(r, "uid"), in)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(profile))
}

// DeleteUser は認証レコードとプロフィールを削除する。
// DELETE /api/admin/users/{uid}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), p.Claims.UID, chi.URLParam(r, "uid")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me は操作者自身のプロフィールを返す。ロールは検証済みクレームの値を使う。
// GET /api/admin/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	profile, err := h.service.Get(r.Context(), p.Claims.UID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	resp := toUserResponse(profile)
	resp.Role = string(p.Role)
	writeJSON(w, http.StatusOK, resp)
}

// UpdateMe は操作者自身の表示名を変更する。
// PATCH /api/admin/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req updateMeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	profile, err := h.service.UpdateOwnDisplayName(r.Context(), p.Claims.UID, req.DisplayName)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	resp := toUserResponse(profile)
	resp.Role = string(p.Role)
	writeJSON(w, http.StatusOK, resp)
}

// ChangePassword は操作者自身のパスワードを変更する。
// 既存セッションは失効するため、セッションCookieも破棄する。
// POST /api/admin/me/password
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangeOwnPassword(r.Context(), p.Claims.UID, req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}
	http.SetCookie(w, h.sessions.DestroySession())
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}
