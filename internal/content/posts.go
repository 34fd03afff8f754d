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

// PostInput は記事の作成・更新内容。
// Slugが空の場合、作成時はタイトルから生成し、更新時は既存のスラッグを維持する。
type PostInput struct {
	Title         string
	Slug          string
	Excerpt       string
	Content       string
	FeaturedImage string
	Published     bool
	Tags          []string
	Author        model.Author
}

// CreatePost は記事を作成する。
func (s *Service) CreatePost(ctx context.Context, in PostInput) (*model.Post, error) {
	post := &model.Post{ID: s.newID()}
	if err := s.applyPostInput(ctx, post, in); err != nil {
		return nil, err
	}
	now := s.now()
	post.CreatedAt = now
	post.UpdatedAt = now

	if err := s.posts.Create(ctx, post); err != nil {
		return nil, slugConflict(err, post.Slug)
	}

	slog.Info("post created",
		slog.String("post_id", post.ID),
		slog.String("slug", post.Slug),
		slog.Bool("published", post.Published),
	)
	return post, nil
}

// UpdatePost は記事を更新する。
func (s *Service) UpdatePost(ctx context.Context, id string, in PostInput) (*model.Post, error) {
	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}

	if err := s.applyPostInput(ctx, post, in); err != nil {
		return nil, err
	}
	post.UpdatedAt = s.now()

	if err := s.posts.Update(ctx, post); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewPostNotFoundError(id)
		}
		return nil, slugConflict(err, post.Slug)
	}
	return post, nil
}

func (s *Service) applyPostInput(ctx context.Context, post *model.Post, in PostInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return model.NewInvalidRequestError("タイトルを入力してください")
	}
	if err := validateMedia("featuredImage", in.FeaturedImage); err != nil {
		return err
	}
	if err := validateMedia("author.avatar", in.Author.Avatar); err != nil {
		return err
	}

	slugValue, err := s.postSlug(ctx, post, title, in.Slug)
	if err != nil {
		return err
	}

	post.Title = title
	post.Slug = slugValue
	post.Content = s.sanitizer.SanitizeHTML(in.Content)
	post.Excerpt = s.sanitizer.StripTags(in.Excerpt)
	if post.Excerpt == "" {
		post.Excerpt = s.excerptFrom(post.Content)
	}
	post.FeaturedImage = in.FeaturedImage
	post.Published = in.Published
	post.Tags = normalizeTags(in.Tags)
	post.Author = model.Author{
		Name:   strings.TrimSpace(in.Author.Name),
		Avatar: in.Author.Avatar,
	}
	return nil
}

// postSlug は記事のスラッグを決める。
// 明示されたスラッグが他の記事と重複する場合はSLUG_CONFLICT、
// タイトルから生成したスラッグは空いている連番を付ける。
func (s *Service) postSlug(ctx context.Context, post *model.Post, title, requested string) (string, error) {
	takenByOther := func(ctx context.Context, candidate string) (bool, error) {
		existing, err := s.posts.FindBySlug(ctx, candidate)
		if err != nil {
			return false, fmt.Errorf("failed to look up slug: %w", err)
		}
		return existing != nil && existing.ID != post.ID, nil
	}

	if requested = strings.TrimSpace(requested); requested != "" {
		normalized := normalizeSlug(requested)
		if normalized == "" {
			return "", model.NewInvalidRequestError("スラッグに使える文字が含まれていません")
		}
		taken, err := takenByOther(ctx, normalized)
		if err != nil {
			return "", err
		}
		if taken {
			return "", model.NewSlugConflictError(normalized)
		}
		return normalized, nil
	}

	if post.Slug != "" {
		return post.Slug, nil
	}

	base := normalizeSlug(title)
	if base == "" {
		base = "post-" + post.ID[:8]
	}
	return uniqueSlug(ctx, base, takenByOther)
}

// GetPost は管理画面用に記事を取得する。公開状態は問わない。
func (s *Service) GetPost(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.posts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if post == nil {
		return nil, model.NewPostNotFoundError(id)
	}
	return post, nil
}

// PublishedPost は公開済みの記事をスラッグで取得する。下書きは存在しない扱いにする。
func (s *Service) PublishedPost(ctx context.Context, slugValue string) (*model.Post, error) {
	post, err := s.posts.FindBySlug(ctx, slugValue)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if post == nil || !post.Published {
		return nil, model.NewPostNotFoundError(slugValue)
	}
	return post, nil
}

// ListPosts は管理画面用に全記事を作成日時の降順で返す。
func (s *Service) ListPosts(ctx context.Context) ([]*model.Post, error) {
	posts, err := s.posts.List(ctx, model.PostFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// ListPublishedPosts は公開済み記事を作成日時の降順で返す。tagが空でなければタグで絞り込む。
func (s *Service) ListPublishedPosts(ctx context.Context, tag string) ([]*model.Post, error) {
	posts, err := s.posts.List(ctx, model.PostFilter{
		PublishedOnly: true,
		Tag:           strings.ToLower(strings.TrimSpace(tag)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// RecentPosts はダッシュボード用に最新の記事を返す。
func (s *Service) RecentPosts(ctx context.Context) ([]*model.Post, error) {
	posts, err := s.posts.List(ctx, model.PostFilter{Limit: recentPostsLimit})
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// DeletePost は記事を削除する。
func (s *Service) DeletePost(ctx context.Context, id string) error {
	if err := s.posts.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewPostNotFoundError(id)
		}
		return fmt.Errorf("failed to delete post: %w", err)
	}
	slog.Info("post deleted", slog.String("post_id", id))
	return nil
}
