package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/portfolio/internal/metrics"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	SessionVerifier   middleware.SessionVerifier
	CORSAllowedOrigin string
	Production        bool
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	RateLimitSignIn   int // サインイン系の1分あたりの上限
	RateLimitContact  int // お問い合わせの1分あたりの上限

	// 認証
	AuthService    AuthServiceInterface
	SessionService SessionServiceInterface
	Bootstrapper   BootstrapperInterface

	// 管理リソース
	UserService    UserSource
	ContentService ContentSource
	MessageService MessageSource

	// 運用
	MetricsHandler http.Handler
	HealthChecks   []HealthCheck
}

var (
	adminOnly   = []model.Role{model.RoleAdmin}
	contentTeam = []model.Role{model.RoleAdmin, model.RoleEditor}
	anyRole     = model.AllRoles()
)

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS
//
// 管理APIはさらに APIAccessGate → CSRF、管理画面ページは AccessGate を通す。
// ロールとクレームはゲートが検証したセッションからのみ読み取る。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, mc))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Production))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionService, deps.Bootstrapper)
	userHandler := NewUserHandler(deps.UserService, deps.SessionService)
	contentHandler := NewContentHandler(deps.ContentService)
	messageHandler := NewMessageHandler(deps.MessageService)
	adminHandler := NewAdminHandler(deps.ContentService, deps.MessageService, deps.UserService)

	signInLimit := deps.RateLimiter.Limit(middleware.PerMinute("sign_in", deps.RateLimitSignIn))
	bootstrapLimit := deps.RateLimiter.Limit(middleware.PerMinute("create_admin", deps.RateLimitSignIn))
	resetLimit := deps.RateLimiter.Limit(middleware.PerMinute("password_reset", deps.RateLimitSignIn))
	contactLimit := deps.RateLimiter.Limit(middleware.PerMinute("contact", deps.RateLimitContact))

	csrf := middleware.NewCSRFMiddleware(deps.CSRF)
	apiGate := func(roles ...model.Role) func(http.Handler) http.Handler {
		return middleware.NewAPIAccessGate(deps.SessionVerifier, mc, roles...)
	}
	pageGate := func(roles ...model.Role) func(http.Handler) http.Handler {
		return middleware.NewAccessGate(deps.SessionVerifier, middleware.GateConfig{
			AllowedRoles: roles,
			Metrics:      mc,
		})
	}

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecks...))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証（セッション不要） ---
	r.Route("/api/auth", func(r chi.Router) {
		r.With(signInLimit).Post("/sign-in", authHandler.SignIn)
		r.Post("/session", authHandler.CreateSession)
		r.Delete("/session", authHandler.DeleteSession)
		r.With(bootstrapLimit).Post("/create-admin", authHandler.CreateAdmin)
		r.With(resetLimit).Post("/password-reset", authHandler.RequestPasswordReset)
		r.With(resetLimit).Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)

		// 特権操作（管理者のみ）
		r.Group(func(r chi.Router) {
			r.Use(apiGate(adminOnly...))
			r.Use(csrf)
			r.Post("/set-custom-claims", authHandler.SetCustomClaims)
			r.Post("/delete-user", authHandler.DeleteUser)
		})
	})

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 公開コンテンツ ---
	r.Get("/api/posts", contentHandler.PublishedPosts)
	r.Get("/api/posts/{slug}", contentHandler.PublishedPost)
	r.Get("/api/pages/{slug}", contentHandler.PublicPage)
	r.With(contactLimit).Post("/api/contact", messageHandler.Submit)

	// --- 管理API ---
	r.Route("/api/admin", func(r chi.Router) {
		// 本人設定（全ロール）
		r.Group(func(r chi.Router) {
			r.Use(apiGate(anyRole...))
			r.Use(csrf)
			r.Get("/me", userHandler.Me)
			r.Patch("/me", userHandler.UpdateMe)
			r.Post("/me/password", userHandler.ChangePassword)
		})

		// ユーザー管理（管理者のみ）
		r.Group(func(r chi.Router) {
			r.Use(apiGate(adminOnly...))
			r.Use(csrf)
			r.Get("/users", userHandler.ListUsers)
			r.Post("/users", userHandler.CreateUser)
			r.Patch("/users/{uid}", userHandler.UpdateUser)
			r.Delete("/users/{uid}", userHandler.DeleteUser)
		})

		// コンテンツ・お問い合わせ（管理者・編集者）
		r.Group(func(r chi.Router) {
			r.Use(apiGate(contentTeam...))
			r.Use(csrf)
			r.Get("/dashboard", adminHandler.DashboardStats)

			r.Route("/posts", func(r chi.Router) {
				r.Get("/", contentHandler.ListPosts)
				r.Post("/", contentHandler.CreatePost)
				r.Get("/{id}", contentHandler.GetPost)
				r.Put("/{id}", contentHandler.UpdatePost)
				r.Delete("/{id}", contentHandler.DeletePost)
			})

			r.Route("/pages", func(r chi.Router) {
				r.Get("/", contentHandler.ListPages)
				r.Post("/", contentHandler.CreatePage)
				r.Get("/{id}", contentHandler.GetPage)
				r.Put("/{id}", contentHandler.UpdatePage)
				r.Delete("/{id}", contentHandler.DeletePage)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Get("/", messageHandler.ListMessages)
				r.Patch("/{id}", messageHandler.UpdateMessage)
				r.Delete("/{id}", messageHandler.DeleteMessage)
			})
		})
	})

	// --- 管理画面ページ ---
	// /admin配下は未登録のパスも含めてゲートを通す。例外はログインページのみ。
	r.Route("/admin", func(r chi.Router) {
		r.Use(pageGate(contentTeam...))
		r.Get("/", adminHandler.Dashboard)
		r.Get("/login", adminHandler.Login)
		r.Get("/blog", adminHandler.Blog)
		r.Get("/pages", adminHandler.Pages)
		r.Get("/messages", adminHandler.Messages)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequirePageRole(middleware.DefaultLoginPath, adminOnly...))
			r.Get("/users", adminHandler.Users)
			r.Get("/settings", adminHandler.Settings)
		})
	})

	return r
}
