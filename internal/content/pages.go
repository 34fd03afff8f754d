package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

// PageInput は固定ページの作成・更新内容。スラッグは必須。
type PageInput struct {
	Title           string
	Slug            string
	Content         string
	FeaturedImage   string
	MetaTitle       string
	MetaDescription string
}

// CreatePage は固定ページを作成する。
func (s *Service) CreatePage(ctx context.Context, in PageInput) (*model.Page, error) {
	page := &model.Page{ID: s.newID()}
	if err := s.applyPageInput(ctx, page, in); err != nil {
		return nil, err
	}
	now := s.now()
	page.CreatedAt = now
	page.UpdatedAt = now

	if err := s.pages.Create(ctx, page); err != nil {
		return nil, slugConflict(err, page.Slug)
	}
	slog.Info("page created", slog.String("page_id", page.ID), slog.String("slug", page.Slug))
	return page, nil
}

// UpdatePage は固定ページを更新する。
func (s *Service) UpdatePage(ctx context.Context, id string, in PageInput) (*model.Page, error) {
	page, err := s.pages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find page: %w", err)
	}
	if page == nil {
		return nil, model.NewPageNotFoundError(id)
	}
	if err := s.applyPageInput(ctx, page, in); err != nil {
		return nil, err
	}
	page.UpdatedAt = s.now()

	if err := s.pages.Update(ctx, page); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewPageNotFoundError(id)
		}
		return nil, slugConflict(err, page.Slug)
	}
	return page, nil
}

func (s *Service) applyPageInput(ctx context.Context, page *model.Page, in PageInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.NewInvalidRequestError("タイトルを入力してください")
	}
	slugValue := normalizeSlug(in.Slug)
	if slugValue == "" {
		return model.NewInvalidRequestError("スラッグを入力してください")
	}
	if err := validateMedia("featuredImage", in.FeaturedImage); err != nil {
		return err
	}

	existing, err := s.pages.FindBySlug(ctx, slugValue)
	if err != nil {
		return fmt.Errorf("failed to look up slug: %w", err)
	}
	if existing != nil && existing.ID != page.ID {
		return model.NewSlugConflictError(slugValue)
	}

	page.Title = title
	page.Slug = slugValue
	page.Content = s.sanitizer.SanitizeHTML(in.Content)
	page.FeaturedImage = in.FeaturedImage
	page.MetaTitle = strings.TrimSpace(in.MetaTitle)
	page.MetaDescription = s.sanitizer.StripTags(in.MetaDescription)
	return nil
}

// GetPage は管理画面用にページを取得する。
func (s *Service) GetPage(ctx context.Context, id string) (*model.Page, error) {
	page, err := s.pages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find page: %w", err)
	}
	if page == nil {
		return nil, model.NewPageNotFoundError(id)
	}
	return page, nil
}

// PageBySlug は公開ページをスラッグで取得する。
func (s *Service) PageBySlug(ctx context.Context, slugValue string) (*model.Page, error) {
	page, err := s.pages.FindBySlug(ctx, slugValue)
	if err != nil {
		return nil, fmt.Errorf("failed to find page: %w", err)
	}
	if page == nil {
		return nil, model.NewPageNotFoundError(slugValue)
	}
	return page, nil
}

// ListPages は更新日時の降順でページを返す。
func (s *Service) ListPages(ctx context.Context) ([]*model.Page, error) {
	pages, err := s.pages.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return pages, nil
}

// DeletePage はページを削除する。
func (s *Service) DeletePage(ctx context.Context, id string) error {
	if err := s.pages.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPageNotFoundError(id)
		}
		return fmt.Errorf("failed to delete page: %w", err)
	}
	slog.Info("page deleted", slog.String("page_id", id))
	return nil
}
