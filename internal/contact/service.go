// Package contact はお問い合わせフォームの受付と管理画面での対応管理を提供する。
package contact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
	"github.com/hitoshi/portfolio/internal/security"
)

const (
	recentLimit   = 5
	notifyTimeout = 10 * time.Second
)

// Notifier はお問い合わせ到着の通知インターフェース。
type Notifier interface {
	NotifyContact(ctx context.Context, msg *model.ContactMessage) error
}

// SubmitInput は公開フォームからの送信内容。
type SubmitInput struct {
	Name    string
	Email   string
	Subject string
	Message string
	Type    model.MessageType
}

// Service はお問い合わせのサービス層。
type Service struct {
	messages  repository.MessageRepository
	notifier  Notifier
	sanitizer security.Sanitizer
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。notifierがnilの場合は通知しない。
func NewService(messages repository.MessageRepository, notifier Notifier, sanitizer security.Sanitizer) *Service {
	return &Service{
		messages:  messages,
		notifier:  notifier,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Submit はお問い合わせを未読として保存し、管理者に通知する。
// 通知の失敗はログに残すだけで、送信者にはエラーにしない。
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*model.ContactMessage, error) {
	msgType := in.Type
	if msgType == "" {
		msgType = model.MessageTypeContact
	}
	if msgType != model.MessageTypeContact && msgType != model.MessageTypeServiceInquiry {
		return nil, model.NewInvalidRequestError("お問い合わせ種別が不正です")
	}

	msg := &model.ContactMessage{
		ID:        s.newID(),
		Name:      s.sanitizer.StripTags(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Subject:   s.sanitizer.StripTags(in.Subject),
		Message:   s.sanitizer.StripTags(in.Message),
		Type:      msgType,
		Status:    model.MessageStatusUnread,
		CreatedAt: s.now(),
	}
	if msg.Name == "" || msg.Message == "" {
		return nil, model.NewInvalidRequestError("名前と本文を入力してください")
	}
	if msg.Subject == "" {
		msg.Subject = "(件名なし)"
	}

	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save contact message: %w", err)
	}
	slog.Info("contact message received",
		slog.String("message_id", msg.ID),
		slog.String("type", string(msg.Type)),
	)

	s.notify(ctx, msg)
	return msg, nil
}

func (s *Service) notify(ctx context.Context, msg *model.ContactMessage) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.NotifyContact(notifyCtx, msg); err != nil {
		slog.Warn("failed to notify contact message",
			slog.String("message_id", msg.ID),
			slog.String("error", err.Error()),
		)
	}
}

// List は条件に合うメッセージを作成日時の降順で返す。
func (s *Service) List(ctx context.Context, filter model.MessageFilter) ([]*model.ContactMessage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, model.NewInvalidRequestError("ステータスが不正です")
	}
	msgs, err := s.messages.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact messages: %w", err)
	}
	return msgs, nil
}

// Recent はダッシュボード用に最新のメッセージを返す。
func (s *Service) Recent(ctx context.Context) ([]*model.ContactMessage, error) {
	return s.List(ctx, model.MessageFilter{Limit: recentLimit})
}

// Get はメッセージを取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.ContactMessage, error) {
	msg, err := s.messages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find contact message: %w", err)
	}
	if msg == nil {
		return nil, model.NewMessageNotFoundError(id)
	}
	return msg, nil
}

// SetStatus はメッセージの対応状況を更新する。
func (s *Service) SetStatus(ctx context.Context, id string, status model.MessageStatus) (*model.ContactMessage, error) {
	if !status.Valid() {
		return nil, model.NewInvalidRequestError("ステータスが不正です")
	}
	if err := s.messages.UpdateStatus(ctx, id, status); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewMessageNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to update contact message: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete はメッセージを削除する。
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.messages.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewMessageNotFoundError(id)
		}
		return fmt.Errorf("failed to delete contact message: %w", err)
	}
	slog.Info("contact message deleted", slog.String("message_id", id))
	return nil
}

// Counts はステータスごとの件数を返す。未使用のステータスは0で埋める。
func (s *Service) Counts(ctx context.Context) (map[model.MessageStatus]int, error) {
	counts, err := s.messages.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count contact messages: %w", err)
	}
	out := map[model.MessageStatus]int{
		model.MessageStatusUnread:   0,
		model.MessageStatusRead:     0,
		model.MessageStatusReplied:  0,
		model.MessageStatusArchived: 0,
	}
	for k, v := range counts {
		out[k] = v
	}
	return out, nil
}
