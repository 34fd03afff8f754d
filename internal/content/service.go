// Package content はブログ記事と固定ページの管理を提供する。
//
// 本文HTMLは保存前に無害化し、公開APIは公開済みの記事だけを返す。
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
	"github.com/hitoshi/portfolio/internal/security"
)

const (
	maxSlugLen       = 80
	maxExcerptRunes  = 160
	maxSlugAttempts  = 20
	maxTags          = 10
	recentPostsLimit = 5
)

// Service は記事とページのサービス層。
type Service struct {
	posts     repository.PostRepository
	pages     repository.PageRepository
	sanitizer security.Sanitizer
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。
func NewService(posts repository.PostRepository, pages repository.PageRepository, sanitizer security.Sanitizer) *Service {
	return &Service{
		posts:     posts,
		pages:     pages,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Stats はダッシュボード用のコンテンツ件数。
type Stats struct {
	Posts          int
	PublishedPosts int
	Pages          int
}

// Stats は記事・公開記事・ページの件数を返す。
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	total, published, err := s.posts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}
	pages, err := s.pages.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages: %w", err)
	}
	return &Stats{Posts: total, PublishedPosts: published, Pages: pages}, nil
}

// normalizeSlug は任意の文字列をURLに使えるスラッグにする。
func normalizeSlug(s string) string {
	out := slug.Make(s)
	if len(out) > maxSlugLen {
		out = strings.TrimRight(out[:maxSlugLen], "-")
	}
	return out
}

// uniqueSlug はbaseが使われていれば"-2", "-3"…を付けて空いているスラッグを探す。
// exists は候補が使用中かどうかを返す。
func uniqueSlug(ctx context.Context, base string, exists func(ctx context.Context, candidate string) (bool, error)) (string, error) {
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", model.NewSlugConflictError(base)
}

// excerptFrom は本文からタグを除いた先頭部分を抜粋として返す。
func (s *Service) excerptFrom(html string) string {
	text := strings.Join(strings.Fields(s.sanitizer.StripTags(html)), " ")
	if utf8.RuneCountInString(text) <= maxExcerptRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxExcerptRunes])) + "…"
}

// normalizeTags は空白除去・小文字化・重複除去したタグを返す。
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

func validateMedia(field, rawURL string) error {
	if err := security.ValidateMediaURL(rawURL); err != nil {
		return model.NewInvalidRequestError(field + "はhttpsの公開URLを指定してください")
	}
	return nil
}

// slugConflict はリポジトリの一意制約違反をSLUG_CONFLICTに変換する。
func slugConflict(err error, slugValue string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return model.NewSlugConflictError(slugValue)
	}
	return err
}
