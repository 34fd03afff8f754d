package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/portfolio/internal/auth"
	"github.com/hitoshi/portfolio/internal/contact"
	"github.com/hitoshi/portfolio/internal/content"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/user"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	signInFn          func(ctx context.Context, email, password string) (string, error)
	setCustomClaimsFn func(ctx context.Context, uid string, claims map[string]any) error
	deleteUserFn      func(ctx context.Context, uid string) error
	resetPasswordFn   func(ctx context.Context, email string) error
	confirmResetFn    func(ctx context.Context, token, newPassword string) error
}

func (m *mockAuthService) SignIn(ctx context.Context, email, password string) (string, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return "id-token", nil
}

func (m *mockAuthService) SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error {
	if m.setCustomClaimsFn != nil {
		return m.setCustomClaimsFn(ctx, uid, claims)
	}
	return nil
}

func (m *mockAuthService) DeleteUser(ctx context.Context, uid string) error {
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, uid)
	}
	return nil
}

func (m *mockAuthService) ResetPassword(ctx context.Context, email string) error {
	if m.resetPasswordFn != nil {
		return m.resetPasswordFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if m.confirmResetFn != nil {
		return m.confirmResetFn(ctx, token, newPassword)
	}
	return nil
}

// mockSessionService はSessionServiceInterfaceのモック実装。
type mockSessionService struct {
	createFn func(ctx context.Context, idToken string) (*http.Cookie, error)
}

func (m *mockSessionService) CreateSession(ctx context.Context, idToken string) (*http.Cookie, error) {
	if m.createFn != nil {
		return m.createFn(ctx, idToken)
	}
	return &http.Cookie{Name: auth.SessionCookieName, Value: "session-value", Path: "/", MaxAge: 1209600, HttpOnly: true}, nil
}

func (m *mockSessionService) DestroySession() *http.Cookie {
	return &http.Cookie{Name: auth.SessionCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true}
}

// mockBootstrapper はBootstrapperInterfaceのモック実装。
type mockBootstrapper struct {
	createAdminFn func(ctx context.Context, secret string) (*auth.BootstrapResult, error)
}

func (m *mockBootstrapper) CreateAdmin(ctx context.Context, secret string) (*auth.BootstrapResult, error) {
	if m.createAdminFn != nil {
		return m.createAdminFn(ctx, secret)
	}
	return &auth.BootstrapResult{Status: auth.BootstrapExists, UID: "admin-uid"}, nil
}

// mockUserService はUserSourceのモック実装。
type mockUserService struct {
	listFn           func(ctx context.Context) ([]*model.UserProfile, error)
	getFn            func(ctx context.Context, uid string) (*model.UserProfile, error)
	createFn         func(ctx context.Context, in auth.CreateUserInput) (*model.UserProfile, error)
	updateFn         func(ctx context.Context, actorUID, uid string, in user.UpdateInput) (*model.UserProfile, error)
	removeFn         func(ctx context.Context, actorUID, uid string) error
	updateOwnNameFn  func(ctx context.Context, uid, displayName string) (*model.UserProfile, error)
	changePasswordFn func(ctx context.Context, uid, newPassword string) error
	count            int
}

func (m *mockUserService) List(ctx context.Context) ([]*model.UserProfile, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockUserService) Get(ctx context.Context, uid string) (*model.UserProfile, error) {
	if m.getFn != nil {
		return m.getFn(ctx, uid)
	}
	return testProfile(uid, model.RoleAdmin), nil
}

func (m *mockUserService) Create(ctx context.Context, in auth.CreateUserInput) (*model.UserProfile, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.UserProfile{UID: "new-uid", Email: in.Email, Role: in.Role, DisplayName: in.DisplayName}, nil
}

func (m *mockUserService) Update(ctx context.Context, actorUID, uid string, in user.UpdateInput) (*model.UserProfile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, actorUID, uid, in)
	}
	return testProfile(uid, model.RoleEditor), nil
}

func (m *mockUserService) Remove(ctx context.Context, actorUID, uid string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, actorUID, uid)
	}
	return nil
}

func (m *mockUserService) UpdateOwnDisplayName(ctx context.Context, uid, displayName string) (*model.UserProfile, error) {
	if m.updateOwnNameFn != nil {
		return m.updateOwnNameFn(ctx, uid, displayName)
	}
	p := testProfile(uid, model.RoleAdmin)
	p.DisplayName = displayName
	return p, nil
}

func (m *mockUserService) ChangeOwnPassword(ctx context.Context, uid, newPassword string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, uid, newPassword)
	}
	return nil
}

func (m *mockUserService) Count(context.Context) (int, error) { return m.count, nil }

// mockContentService はContentSourceのモック実装。
type mockContentService struct {
	posts []*model.Post
	pages []*model.Page

	createPostFn func(ctx context.Context, in content.PostInput) (*model.Post, error)
	updatePostFn func(ctx context.Context, id string, in content.PostInput) (*model.Post, error)
	createPageFn func(ctx context.Context, in content.PageInput) (*model.Page, error)
	publishedTag string
}

func (m *mockContentService) CreatePost(ctx context.Context, in content.PostInput) (*model.Post, error) {
	if m.createPostFn != nil {
		return m.createPostFn(ctx, in)
	}
	return &model.Post{ID: "post-1", Title: in.Title, Slug: "generated"}, nil
}

func (m *mockContentService) UpdatePost(ctx context.Context, id string, in content.PostInput) (*model.Post, error) {
	if m.updatePostFn != nil {
		return m.updatePostFn(ctx, id, in)
	}
	return &model.Post{ID: id, Title: in.Title}, nil
}

func (m *mockContentService) GetPost(_ context.Context, id string) (*model.Post, error) {
	for _, p := range m.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, model.NewPostNotFoundError(id)
}

func (m *mockContentService) PublishedPost(_ context.Context, slug string) (*model.Post, error) {
	for _, p := range m.posts {
		if p.Slug == slug && p.Published {
			return p, nil
		}
	}
	return nil, model.NewPostNotFoundError(slug)
}

func (m *mockContentService) ListPosts(context.Context) ([]*model.Post, error) { return m.posts, nil }

func (m *mockContentService) ListPublishedPosts(_ context.Context, tag string) ([]*model.Post, error) {
	m.publishedTag = tag
	var out []*model.Post
	for _, p := range m.posts {
		if p.Published {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockContentService) DeletePost(_ context.Context, id string) error {
	if _, err := m.GetPost(context.Background(), id); err != nil {
		return err
	}
	return nil
}

func (m *mockContentService) CreatePage(ctx context.Context, in content.PageInput) (*model.Page, error) {
	if m.createPageFn != nil {
		return m.createPageFn(ctx, in)
	}
	return &model.Page{ID: "page-1", Title: in.Title, Slug: in.Slug}, nil
}

func (m *mockContentService) UpdatePage(_ context.Context, id string, in content.PageInput) (*model.Page, error) {
	return &model.Page{ID: id, Title: in.Title, Slug: in.Slug}, nil
}

func (m *mockContentService) GetPage(_ context.Context, id string) (*model.Page, error) {
	for _, p := range m.pages {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, model.NewPageNotFoundError(id)
}

func (m *mockContentService) PageBySlug(_ context.Context, slug string) (*model.Page, error) {
	for _, p := range m.pages {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, model.NewPageNotFoundError(slug)
}

func (m *mockContentService) ListPages(context.Context) ([]*model.Page, error) { return m.pages, nil }

func (m *mockContentService) DeletePage(_ context.Context, id string) error {
	_, err := m.GetPage(context.Background(), id)
	return err
}

func (m *mockContentService) Stats(context.Context) (*content.Stats, error) {
	published := 0
	for _, p := range m.posts {
		if p.Published {
			published++
		}
	}
	return &content.Stats{Posts: len(m.posts), PublishedPosts: published, Pages: len(m.pages)}, nil
}

func (m *mockContentService) RecentPosts(context.Context) ([]*model.Post, error) { return m.posts, nil }

// mockMessageService はMessageSourceのモック実装。
type mockMessageService struct {
	messages []*model.ContactMessage

	submitFn    func(ctx context.Context, in contact.SubmitInput) (*model.ContactMessage, error)
	setStatusFn func(ctx context.Context, id string, status model.MessageStatus) (*model.ContactMessage, error)
	lastFilter  model.MessageFilter
}

func (m *mockMessageService) Submit(ctx context.Context, in contact.SubmitInput) (*model.ContactMessage, error) {
	if m.submitFn != nil {
		return m.submitFn(ctx, in)
	}
	return &model.ContactMessage{ID: "msg-1", Name: in.Name, Status: model.MessageStatusUnread}, nil
}

func (m *mockMessageService) List(_ context.Context, filter model.MessageFilter) ([]*model.ContactMessage, error) {
	m.lastFilter = filter
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, model.NewInvalidRequestError("ステータスが不正です")
	}
	return m.messages, nil
}

func (m *mockMessageService) SetStatus(ctx context.Context, id string, status model.MessageStatus) (*model.ContactMessage, error) {
	if m.setStatusFn != nil {
		return m.setStatusFn(ctx, id, status)
	}
	return &model.ContactMessage{ID: id, Status: status}, nil
}

func (m *mockMessageService) Delete(_ context.Context, id string) error {
	for _, msg := range m.messages {
		if msg.ID == id {
			return nil
		}
	}
	return model.NewMessageNotFoundError(id)
}

func (m *mockMessageService) Counts(context.Context) (map[model.MessageStatus]int, error) {
	counts := map[model.MessageStatus]int{
		model.MessageStatusUnread:   0,
		model.MessageStatusRead:     0,
		model.MessageStatusReplied:  0,
		model.MessageStatusArchived: 0,
	}
	for _, msg := range m.messages {
		counts[msg.Status]++
	}
	return counts, nil
}

func (m *mockMessageService) Recent(context.Context) ([]*model.ContactMessage, error) {
	return m.messages, nil
}

// --- ヘルパー ---

func testProfile(uid string, role model.Role) *model.UserProfile {
	return &model.UserProfile{
		UID:         uid,
		Email:       uid + "@example.com",
		DisplayName: "User " + uid,
		Role:        role,
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// withPrincipal はゲートを通過した状態のリクエストを作る。
func withPrincipal(req *http.Request, uid string, role model.Role) *http.Request {
	p := &middleware.Principal{
		Claims: &model.Claims{UID: uid, Email: uid + "@example.com", Custom: map[string]any{"role": string(role)}},
		Role:   role,
	}
	return req.WithContext(middleware.ContextWithPrincipal(req.Context(), p))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response body: %v (body=%q)", err, w.Body.String())
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	decodeBody(t, w, &body)
	return body.Code
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
