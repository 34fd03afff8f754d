package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/portfolio/internal/contact"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/model"
)

// MessageServiceInterface はお問い合わせハンドラーが必要とするサービスインターフェース。
type MessageServiceInterface interface {
	Submit(ctx context.Context, in contact.SubmitInput) (*model.ContactMessage, error)
	List(ctx context.Context, filter model.MessageFilter) ([]*model.ContactMessage, error)
	SetStatus(ctx context.Context, id string, status model.MessageStatus) (*model.ContactMessage, error)
	Delete(ctx context.Context, id string) error
}

var _ MessageServiceInterface = (*contact.Service)(nil)

// MessageHandler はお問い合わせの受付と管理のHTTPハンドラー。
type MessageHandler struct {
	service MessageServiceInterface
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service MessageServiceInterface) *MessageHandler {
	return &MessageHandler{service: service}
}

type contactRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	Email   string `json:"email" validate:"required,email,max=254"`
	Subject string `json:"subject" validate:"max=200"`
	Message string `json:"message" validate:"required,max=5000"`
	Type    string `json:"type" validate:"omitempty,oneof=contact service-inquiry"`
}

type contactResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type updateMessageRequest struct {
	Status string `json:"status" validate:"required,oneof=unread read replied archived"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func toMessageResponse(m *model.ContactMessage) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Subject:   m.Subject,
		Message:   m.Message,
		Type:      string(m.Type),
		Status:    string(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

func toMessageList(msgs []*model.ContactMessage) []messageResponse {
	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	return resp
}

// Submit は公開フォームからのお問い合わせを受け付ける。
// POST /api/contact
func (h *MessageHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.Submit(r.Context(), contact.SubmitInput{
		Name:    req.Name,
		Email:   req.Email,
		Subject: req.Subject,
		Message: req.Message,
		Type:    model.MessageType(req.Type),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contactResponse{ID: msg.ID, Status: "received"})
}

// ListMessages はメッセージ一覧を返す。?status= と ?q= で絞り込める。
// GET /api/admin/messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	msgs, err := h.service.List(r.Context(), model.MessageFilter{
		Status: model.MessageStatus(q.Get("status")),
		Query:  q.Get("q"),
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageList(msgs))
}

// UpdateMessage はメッセージの対応状況を変更する。
// PATCH /api/admin/messages/{id}
func (h *MessageHandler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req updateMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	msg, err := h.service.SetStatus(r.Context(), chi.URLParam(r, "id"), model.MessageStatus(req.Status))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

// DeleteMessage はメッセージを削除する。
// DELETE /api/admin/messages/{id}
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
