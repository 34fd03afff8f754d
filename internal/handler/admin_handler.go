package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/portfolio/internal/contact"
	"github.com/hitoshi/portfolio/internal/content"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/user"
)

// DashboardContentSource はダッシュボードが参照するコンテンツの集計。
type DashboardContentSource interface {
	Stats(ctx context.Context) (*content.Stats, error)
	RecentPosts(ctx context.Context) ([]*model.Post, error)
}

// DashboardMessageSource はダッシュボードが参照するお問い合わせの集計。
type DashboardMessageSource interface {
	Counts(ctx context.Context) (map[model.MessageStatus]int, error)
	Recent(ctx context.Context) ([]*model.ContactMessage, error)
}

// DashboardUserSource はダッシュボードが参照するユーザー数。
type DashboardUserSource interface {
	Count(ctx context.Context) (int, error)
}

var (
	_ ContentSource = (*content.Service)(nil)
	_ MessageSource = (*contact.Service)(nil)
	_ UserSource    = (*user.Service)(nil)
)

// AdminHandler は管理画面ページのデータ読み込みを行うHTTPハンドラー。
// 描画はクライアント側で行い、ここではページ単位のJSONを返す。
type AdminHandler struct {
	content  DashboardContentSource
	messages DashboardMessageSource
	users    DashboardUserSource

	posts    ContentServiceInterface
	inbox    MessageServiceInterface
	profiles UserServiceInterface
}

// ContentSource は管理画面が使うコンテンツ操作と集計。
type ContentSource interface {
	ContentServiceInterface
	DashboardContentSource
}

// MessageSource は管理画面が使うお問い合わせ操作と集計。
type MessageSource interface {
	MessageServiceInterface
	DashboardMessageSource
}

// UserSource は管理画面が使うユーザー操作と集計。
type UserSource interface {
	UserServiceInterface
	DashboardUserSource
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(contents ContentSource, messages MessageSource, users UserSource) *AdminHandler {
	return &AdminHandler{
		content:  contents,
		messages: messages,
		users:    users,
		posts:    contents,
		inbox:    messages,
		profiles: users,
	}
}

type viewerResponse struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type adminPageResponse struct {
	Page   string          `json:"page"`
	Viewer *viewerResponse `json:"viewer,omitempty"`
	Error  string          `json:"error,omitempty"`
	Data   any             `json:"data,omitempty"`
}

type dashboardResponse struct {
	Posts          int               `json:"posts"`
	PublishedPosts int               `json:"publishedPosts"`
	Pages          int               `json:"pages"`
	Users          int               `json:"users"`
	Messages       map[string]int    `json:"messages"`
	RecentMessages []messageResponse `json:"recentMessages"`
	RecentPosts    []postResponse    `json:"recentPosts"`
}

// dashboard は件数と最新5件のメッセージ・記事を集める。
func (h *AdminHandler) dashboard(ctx context.Context) (*dashboardResponse, error) {
	stats, err := h.content.Stats(ctx)
	if err != nil {
		return nil, err
	}
	users, err := h.users.Count(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := h.messages.Counts(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := h.messages.Recent(ctx)
	if err != nil {
		return nil, err
	}
	posts, err := h.content.RecentPosts(ctx)
	if err != nil {
		return nil, err
	}

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}
	return &dashboardResponse{
		Posts:          stats.Posts,
		PublishedPosts: stats.PublishedPosts,
		Pages:          stats.Pages,
		Users:          users,
		Messages:       byStatus,
		RecentMessages: toMessageList(recent),
		RecentPosts:    toPostList(posts),
	}, nil
}

// DashboardStats はダッシュボードの集計をAPIとして返す。
// GET /api/admin/dashboard
func (h *AdminHandler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	data, err := h.dashboard(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// Login はログインページ。ゲートを通さず、?error= をそのまま返す。
// GET /admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, adminPageResponse{
		Page:  "login",
		Error: r.URL.Query().Get("error"),
	})
}

// Dashboard はダッシュボードページ。
// GET /admin
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "dashboard", func(ctx context.Context) (any, error) {
		return h.dashboard(ctx)
	})
}

// Blog は記事管理ページ。
// GET /admin/blog
func (h *AdminHandler) Blog(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "blog", func(ctx context.Context) (any, error) {
		posts, err := h.posts.ListPosts(ctx)
		if err != nil {
			return nil, err
		}
		return toPostList(posts), nil
	})
}

// Pages は固定ページ管理ページ。
// GET /admin/pages
func (h *AdminHandler) Pages(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "pages", func(ctx context.Context) (any, error) {
		pages, err := h.posts.ListPages(ctx)
		if err != nil {
			return nil, err
		}
		return toPageList(pages), nil
	})
}

// Messages はお問い合わせ管理ページ。
// GET /admin/messages
func (h *AdminHandler) Messages(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "messages", func(ctx context.Context) (any, error) {
		msgs, err := h.inbox.List(ctx, model.MessageFilter{
			Status: model.MessageStatus(r.URL.Query().Get("status")),
			Query:  r.URL.Query().Get("q"),
		})
		if err != nil {
			return nil, err
		}
		return toMessageList(msgs), nil
	})
}

// Users はユーザー管理ページ。
// GET /admin/users
func (h *AdminHandler) Users(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "users", func(ctx context.Context) (any, error) {
		users, err := h.profiles.List(ctx)
		if err != nil {
			return nil, err
		}
		resp := make([]userResponse, 0, len(users))
		for _, u := range users {
			resp = append(resp, toUserResponse(u))
		}
		return resp, nil
	})
}

// Settings はサイト設定ページ。表示には操作者情報だけを使う。
// GET /admin/settings
func (h *AdminHandler) Settings(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, r, "settings", func(ctx context.Context) (any, error) {
		return nil, nil
	})
}

func (h *AdminHandler) renderPage(w http.ResponseWriter, r *http.Request, page string, load func(ctx context.Context) (any, error)) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	data, err := load(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminPageResponse{
		Page: page,
		Viewer: &viewerResponse{
			UID:   p.Claims.UID,
			Email: p.Claims.Email,
			Role:  string(p.Role),
		},
		Data: data,
	})
}
