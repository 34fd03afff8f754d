// Package user は管理画面のユーザー管理を提供する。
//
// 認証レコードとプロフィールにまたがる変更はauth.Adapterに委ね、
// このパッケージは操作者自身に対する危険な変更の禁止と一覧・参照を担う。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/portfolio/internal/auth"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

// Directory はユーザー管理が利用するIDプロバイダーアダプターの操作。
type Directory interface {
	CreateUser(ctx context.Context, in auth.CreateUserInput) (*model.UserProfile, error)
	UpdateRole(ctx context.Context, uid string, role model.Role) error
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
	RemoveUser(ctx context.Context, uid string) error
	ChangePassword(ctx context.Context, uid, newPassword string) error
}

var _ Directory = (*auth.Adapter)(nil)

// UpdateInput は管理者によるユーザー更新内容。nilのフィールドは変更しない。
type UpdateInput struct {
	Role        *model.Role
	DisplayName *string
}

// Service はユーザー管理のサービス層。
type Service struct {
	profiles  repository.ProfileRepository
	directory Directory
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(profiles repository.ProfileRepository, directory Directory) *Service {
	return &Service{profiles: profiles, directory: directory}
}

// List は作成日時の降順でユーザーを返す。
func (s *Service) List(ctx context.Context) ([]*model.UserProfile, error) {
	users, err := s.profiles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Count はユーザー数を返す。
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.profiles.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("ユーザー数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Get はプロフィールを取得する。
func (s *Service) Get(ctx context.Context, uid string) (*model.UserProfile, error) {
	profile, err := s.profiles.FindByID(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if profile == nil {
		return nil, model.NewUserNotFoundError()
	}
	return profile, nil
}

// Create はユーザーを作成する。
func (s *Service) Create(ctx context.Context, in auth.CreateUserInput) (*model.UserProfile, error) {
	if !in.Role.Valid() {
		return nil, model.NewInvalidRequestError("ロールが不正です")
	}
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	return s.directory.CreateUser(ctx, in)
}

// Update は管理者が他のユーザーのロール・表示名を変更する。
// 操作者自身のロールは変更できない。
func (s *Service) Update(ctx context.Context, actorUID, uid string, in UpdateInput) (*model.UserProfile, error) {
	if in.Role == nil && in.DisplayName == nil {
		return nil, model.NewInvalidRequestError("変更内容がありません")
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, model.NewInvalidRequestError("ロールが不正です")
		}
		if uid == actorUID {
			return nil, model.NewInvalidRequestError("自分自身のロールは変更できません")
		}
	}

	if _, err := s.Get(ctx, uid); err != nil {
		return nil, err
	}

	if in.Role != nil {
		if err := s.directory.UpdateRole(ctx, uid, *in.Role); err != nil {
			return nil, err
		}
		slog.Info("user role updated",
			slog.String("actor_uid", actorUID),
			slog.String("uid", uid),
			slog.String("role", string(*in.Role)),
		)
	}
	if in.DisplayName != nil {
		if err := s.directory.UpdateDisplayName(ctx, uid, strings.TrimSpace(*in.DisplayName)); err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, uid)
}

// Remove は認証レコードとプロフィールを削除する。操作者自身は削除できない。
func (s *Service) Remove(ctx context.Context, actorUID, uid string) error {
	if uid == actorUID {
		return model.NewInvalidRequestError("自分自身は削除できません")
	}

	slog.Info("removing user",
		slog.String("actor_uid", actorUID),
		slog.String("uid", uid),
	)
	if err := s.directory.RemoveUser(ctx, uid); err != nil {
		return err
	}
	slog.Info("user removed", slog.String("uid", uid))
	return nil
}

// UpdateOwnDisplayName は操作者自身の表示名を変更する。
func (s *Service) UpdateOwnDisplayName(ctx context.Context, uid, displayName string) (*model.UserProfile, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, model.NewInvalidRequestError("表示名を入力してください")
	}
	if err := s.directory.UpdateDisplayName(ctx, uid, displayName); err != nil {
		return nil, err
	}
	return s.Get(ctx, uid)
}

// ChangeOwnPassword は操作者自身のパスワードを変更する。既存のセッションはすべて失効する。
func (s *Service) ChangeOwnPassword(ctx context.Context, uid, newPassword string) error {
	return s.directory.ChangePassword(ctx, uid, newPassword)
}
