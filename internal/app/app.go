package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/portfolio/internal/auth"
	"github.com/hitoshi/portfolio/internal/config"
	"github.com/hitoshi/portfolio/internal/contact"
	"github.com/hitoshi/portfolio/internal/content"
	"github.com/hitoshi/portfolio/internal/database"
	"github.com/hitoshi/portfolio/internal/handler"
	"github.com/hitoshi/portfolio/internal/identity"
	"github.com/hitoshi/portfolio/internal/logger"
	"github.com/hitoshi/portfolio/internal/mail"
	"github.com/hitoshi/portfolio/internal/metrics"
	"github.com/hitoshi/portfolio/internal/middleware"
	"github.com/hitoshi/portfolio/internal/repository"
	"github.com/hitoshi/portfolio/internal/security"
	"github.com/hitoshi/portfolio/internal/user"
	"github.com/hitoshi/portfolio/internal/worker/keyrotation"
	"github.com/hitoshi/portfolio/internal/worker/reconcile"
)

// keyRotationCheckInterval は鍵ローテーション要否を確認する間隔。
const keyRotationCheckInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("env", cfg.AppEnv),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// infra はプロセスが保持する外部接続。
type infra struct {
	db    *sql.DB
	redis *redis.Client
}

func (i *infra) Close() {
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", slog.String("error", err.Error()))
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			slog.Warn("failed to close database", slog.String("error", err.Error()))
		}
	}
}

// connect はPostgreSQLとRedisに接続する。
func connect(ctx context.Context, cfg *config.Config) (*infra, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	rdb, err := repository.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("redis connection established")

	return &infra{db: db, redis: rdb}, nil
}

// components はserveとworkerが共有するドメインサービス群。
type components struct {
	keys         *identity.KeySet
	sessions     *auth.SessionService
	adapter      *auth.Adapter
	bootstrapper *auth.Bootstrapper
	users        *user.Service
	contents     *content.Service
	messages     *contact.Service
	tasks        repository.ReconcileRepository
}

// wire はリポジトリからサービスまでの依存関係を組み立てる。
func wire(cfg *config.Config, in *infra, mc metrics.MetricsCollector) (*components, error) {
	// 1. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(in.db)
	resetRepo := repository.NewPostgresPasswordResetRepo(in.db)
	keyRepo := repository.NewPostgresSigningKeyRepo(in.db)
	profileRepo := repository.NewPostgresProfileRepo(in.db)
	reconcileRepo := repository.NewPostgresReconcileRepo(in.db)
	postRepo := repository.NewPostgresPostRepo(in.db)
	pageRepo := repository.NewPostgresPageRepo(in.db)
	messageRepo := repository.NewPostgresMessageRepo(in.db)
	ledger := repository.NewRedisTokenLedger(in.redis)

	// 2. IDプロバイダーの初期化
	cipher, err := identity.NewKeyCipher(cfg.KeyEncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cipher: %w", err)
	}
	keys := identity.NewKeySet(keyRepo, cipher, cfg.KeyCacheTTL)
	provider := identity.NewProvider(accountRepo, resetRepo, keys, ledger, identity.Config{
		Issuer:             cfg.BaseURL,
		IDTokenTTL:         cfg.IDTokenTTL,
		RecentSignInWindow: cfg.RecentSignInWindow,
	})

	// 3. 認証アダプターの初期化
	mailer := mail.NewSMTPMailer(mail.Config{
		Host:            cfg.SMTPHost,
		Port:            cfg.SMTPPort,
		Username:        cfg.SMTPUsername,
		Password:        cfg.SMTPPassword,
		From:            cfg.SMTPFrom,
		ContactNotifyTo: cfg.ContactNotifyTo,
	})
	if !mailer.IsConfigured() {
		slog.Warn("SMTP is not configured; password reset and contact notification mails are disabled")
	}
	caller := auth.NewCaller(cfg.UpstreamTimeout, mc)
	adapter := auth.NewAdapter(provider, profileRepo, reconcileRepo, mailer, caller, cfg.BaseURL)
	sessions := auth.NewSessionService(provider, caller, auth.SessionConfig{
		MaxAge: cfg.SessionTTL(),
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	})

	// 4. ドメインサービスの初期化
	sanitizer := security.NewContentSanitizer()

	return &components{
		keys:         keys,
		sessions:     sessions,
		adapter:      adapter,
		bootstrapper: auth.NewBootstrapper(adapter, cfg.AdminSetupSecret, cfg.AdminEmail),
		users:        user.NewService(profileRepo, adapter),
		contents:     content.NewService(postRepo, pageRepo, sanitizer),
		messages:     contact.NewService(messageRepo, mailer, sanitizer),
		tasks:        reconcileRepo,
	}, nil
}

// newRegistry はプロセス・Goランタイムのコレクタを含むレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newRouterDeps はHTTPルーターの依存関係を構築する。
func newRouterDeps(cfg *config.Config, in *infra, c *components, reg *prometheus.Registry, mc metrics.MetricsCollector, limiter *middleware.RateLimiter) *handler.RouterDeps {
	return &handler.RouterDeps{
		Logger:            slog.Default(),
		Metrics:           mc,
		SessionVerifier:   c.sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Production:        cfg.IsProduction(),
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:      limiter,
		RateLimitSignIn:  cfg.RateLimitSignIn,
		RateLimitContact: cfg.RateLimitContact,

		AuthService:    c.adapter,
		SessionService: c.sessions,
		Bootstrapper:   c.bootstrapper,

		UserService:    c.users,
		ContentService: c.contents,
		MessageService: c.messages,

		MetricsHandler: metrics.Handler(reg),
		HealthChecks:   in.healthChecks(),
	}
}

func (in *infra) healthChecks() []handler.HealthCheck {
	return []handler.HealthCheck{
		{Name: "database", Ping: in.db.PingContext},
		{Name: "redis", Ping: func(ctx context.Context) error { return in.redis.Ping(ctx).Err() }},
	}
}

// newWorkerMetricsServer はワーカーの/metricsと/healthを公開するサーバーを返す。
func newWorkerMetricsServer(port string, reg prometheus.Gatherer, checks ...handler.HealthCheck) *http.Server {
	r := chi.NewRouter()
	r.Get("/health", handler.NewHealthHandler(checks...))
	r.Handle("/metrics", metrics.Handler(reg))

	return &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB・Redisに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	in, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	reg := newRegistry()
	mc := metrics.NewCollector(reg)

	c, err := wire(cfg, in, mc)
	if err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(5 * time.Minute)
	defer limiter.Stop()

	router := handler.NewRouter(newRouterDeps(cfg, in, c, reg, mc, limiter))

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 整合性回復ワーカーと鍵ローテーションジョブを起動し、ctxがキャンセルされるまで動かす。
func runWorker(ctx context.Context, cfg *config.Config) error {
	in, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer in.Close()

	reg := newRegistry()
	mc := metrics.NewCollector(reg)

	c, err := wire(cfg, in, mc)
	if err != nil {
		return err
	}

	metricsServer := newWorkerMetricsServer(cfg.WorkerMetricsPort, reg, in.healthChecks()...)
	go func() {
		slog.Info("worker metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server failed", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	reconciler := reconcile.NewWorker(c.tasks, c.adapter, mc, slog.Default())
	rotation := keyrotation.NewJob(c.keys, mc, slog.Default(), cfg.KeyRotationInterval, cfg.SessionTTL())

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("key_rotation_interval", cfg.KeyRotationInterval),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rotation.Start(ctx, keyRotationCheckInterval)
	}()

	// 整合性回復ワーカーをメインgoroutineで実行（ブロッキング）
	reconciler.Start(ctx, cfg.ReconcileInterval)
	wg.Wait()

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
