package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/portfolio/internal/content"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/model"
)

// ContentServiceInterface はコンテンツハンドラーが必要とするサービスインターフェース。
type ContentServiceInterface interface {
	CreatePost(ctx context.Context, in content.PostInput) (*model.Post, error)
	UpdatePost(ctx context.Context, id string, in content.PostInput) (*model.Post, error)
	GetPost(ctx context.Context, id string) (*model.Post, error)
	PublishedPost(ctx context.Context, slug string) (*model.Post, error)
	ListPosts(ctx context.Context) ([]*model.Post, error)
	ListPublishedPosts(ctx context.Context, tag string) ([]*model.Post, error)
	DeletePost(ctx context.Context, id string) error

	CreatePage(ctx context.Context, in content.PageInput) (*model.Page, error)
	UpdatePage(ctx context.Context, id string, in content.PageInput) (*model.Page, error)
	GetPage(ctx context.Context, id string) (*model.Page, error)
	PageBySlug(ctx context.Context, slug string) (*model.Page, error)
	ListPages(ctx context.Context) ([]*model.Page, error)
	DeletePage(ctx context.Context, id string) error
}

var _ ContentServiceInterface = (*content.Service)(nil)

// ContentHandler はブログ記事と固定ページのHTTPハンドラー。
type ContentHandler struct {
	service ContentServiceInterface
}

// NewContentHandler はContentHandlerを生成する。
func NewContentHandler(service ContentServiceInterface) *ContentHandler {
	return &ContentHandler{service: service}
}

type authorDTO struct {
	Name   string `json:"name" validate:"max=100"`
	Avatar string `json:"avatar"`
}

type postRequest struct {
	Title         string    `json:"title" validate:"required,max=200"`
	Slug          string    `json:"slug" validate:"max=80"`
	Excerpt       string    `json:"excerpt" validate:"max=500"`
	Content       string    `json:"content"`
	FeaturedImage string    `json:"featuredImage"`
	Published     bool      `json:"published"`
	Tags          []string  `json:"tags" validate:"max=10,dive,max=40"`
	Author        authorDTO `json:"author"`
}

type postResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	Excerpt       string    `json:"excerpt"`
	Content       string    `json:"content,omitempty"`
	FeaturedImage string    `json:"featuredImage"`
	Published     bool      `json:"published"`
	Tags          []string  `json:"tags"`
	Author        authorDTO `json:"author"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type pageRequest struct {
	Title           string `json:"title" validate:"required,max=200"`
	Slug            string `json:"slug" validate:"required,max=80"`
	Content         string `json:"content"`
	FeaturedImage   string `json:"featuredImage"`
	MetaTitle       string `json:"metaTitle" validate:"max=200"`
	MetaDescription string `json:"metaDescription" validate:"max=500"`
}

type pageResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Slug            string    `json:"slug"`
	Content         string    `json:"content"`
	FeaturedImage   string    `json:"featuredImage"`
	MetaTitle       string    `json:"metaTitle"`
	MetaDescription string    `json:"metaDescription"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (req postRequest) input() content.PostInput {
	return content.PostInput{
		Title:         req.Title,
		Slug:          req.Slug,
		Excerpt:       req.Excerpt,
		Content:       req.Content,
		FeaturedImage: req.FeaturedImage,
		Published:     req.Published,
		Tags:          req.Tags,
		Author:        model.Author{Name: req.Author.Name, Avatar: req.Author.Avatar},
	}
}

func (req pageRequest) input() content.PageInput {
	return content.PageInput{
		Title:           req.Title,
		Slug:            req.Slug,
		Content:         req.Content,
		FeaturedImage:   req.FeaturedImage,
		MetaTitle:       req.MetaTitle,
		MetaDescription: req.MetaDescription,
	}
}

func toPostResponse(p *model.Post, withContent bool) postResponse {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	resp := postResponse{
		ID:            p.ID,
		Title:         p.Title,
		Slug:          p.Slug,
		Excerpt:       p.Excerpt,
		FeaturedImage: p.FeaturedImage,
		Published:     p.Published,
		Tags:          tags,
		Author:        authorDTO{Name: p.Author.Name, Avatar: p.Author.Avatar},
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	if withContent {
		resp.Content = p.Content
	}
	return resp
}

func toPostList(posts []*model.Post) []postResponse {
	resp := make([]postResponse, 0, len(posts))
	for _, p := range posts {
		resp = append(resp, toPostResponse(p, false))
	}
	return resp
}

func toPageResponse(p *model.Page) pageResponse {
	return pageResponse{
		ID:              p.ID,
		Title:           p.Title,
		Slug:            p.Slug,
		Content:         p.Content,
		FeaturedImage:   p.FeaturedImage,
		MetaTitle:       p.MetaTitle,
		MetaDescription: p.MetaDescription,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toPageList(pages []*model.Page) []pageResponse {
	resp := make([]pageResponse, 0, len(pages))
	for _, p := range pages {
		resp = append(resp, toPageResponse(p))
	}
	return resp
}

// --- 記事（管理） ---

// ListPosts は下書きを含む全記事を返す。
// GET /api/admin/posts
func (h *ContentHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.ListPosts(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostList(posts))
}

// CreatePost は記事を作成する。
// POST /api/admin/posts
func (h *ContentHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.CreatePost(r.Context(), req.input())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPostResponse(post, true))
}

// GetPost は記事をIDで返す。
// GET /api/admin/posts/{id}
func (h *ContentHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post, true))
}

// UpdatePost は記事を更新する。
// PUT /api/admin/posts/{id}
func (h *ContentHandler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	post, err := h.service.UpdatePost(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post, true))
}

// DeletePost は記事を削除する。
// DELETE /api/admin/posts/{id}
func (h *ContentHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePost(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- 固定ページ（管理） ---

// ListPages は固定ページを更新日時の降順で返す。
// GET /api/admin/pages
func (h *ContentHandler) ListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := h.service.ListPages(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageList(pages))
}

// CreatePage は固定ページを作成する。
// POST /api/admin/pages
func (h *ContentHandler) CreatePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	page, err := h.service.CreatePage(r.Context(), req.input())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPageResponse(page))
}

// GetPage は固定ページをIDで返す。
// GET /api/admin/pages/{id}
func (h *ContentHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.GetPage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

// UpdatePage は固定ページを更新する。
// PUT /api/admin/pages/{id}
func (h *ContentHandler) UpdatePage(w http.ResponseWriter, r *http.Request) {
	var req pageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	page, err := h.service.UpdatePage(r.Context(), chi.URLParam(r, "id"), req.input())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

// DeletePage は固定ページを削除する。
// DELETE /api/admin/pages/{id}
func (h *ContentHandler) DeletePage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePage(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- 公開 ---

// PublishedPosts は公開済み記事を作成日時の降順で返す。?tag= で絞り込める。
// GET /api/posts
func (h *ContentHandler) PublishedPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.service.ListPublishedPosts(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostList(posts))
}

// PublishedPost は公開済み記事をスラッグで返す。下書きは存在しない扱い。
// GET /api/posts/{slug}
func (h *ContentHandler) PublishedPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.service.PublishedPost(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPostResponse(post, true))
}

// PublicPage は固定ページをスラッグで返す。
// GET /api/pages/{slug}
func (h *ContentHandler) PublicPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.PageBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}
