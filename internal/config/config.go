// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/portfolio/internal/identity"
)

// MinKeyEncryptionSecretLen は署名鍵暗号化シークレットの最小バイト長。
const MinKeyEncryptionSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string
	RedisURL    string

	// Identity
	KeyEncryptionSecret string
	IDTokenTTL          time.Duration
	RecentSignInWindow  time.Duration
	KeyRotationInterval time.Duration
	KeyCacheTTL         time.Duration
	UpstreamTimeout     time.Duration

	// Bootstrap
	AdminSetupSecret string
	AdminEmail       string

	// Session
	SessionMaxAge int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitSignIn  int
	RateLimitContact int

	// Mail
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	ContactNotifyTo string

	// Worker
	ReconcileInterval time.Duration
	WorkerMetricsPort string

	// Logging
	LogLevel string

	// Server
	AppEnv     string
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境で動作しているかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// SessionTTL はセッションCookieの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.KeyEncryptionSecret = os.Getenv("KEY_ENCRYPTION_SECRET")
	if cfg.KeyEncryptionSecret == "" {
		missing = append(missing, "KEY_ENCRYPTION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.KeyEncryptionSecret) < MinKeyEncryptionSecretLen {
		return nil, fmt.Errorf("KEY_ENCRYPTION_SECRET must be at least %d bytes", MinKeyEncryptionSecretLen)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.IDTokenTTL = getEnvDuration("ID_TOKEN_TTL", time.Hour)
	cfg.RecentSignInWindow = getEnvDuration("RECENT_SIGN_IN_WINDOW", 5*time.Minute)
	cfg.KeyRotationInterval = getEnvDuration("KEY_ROTATION_INTERVAL", 720*time.Hour)
	cfg.KeyCacheTTL = getEnvDuration("KEY_CACHE_TTL", 10*time.Minute)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 5*time.Second)
	cfg.AdminSetupSecret = os.Getenv("ADMIN_SETUP_SECRET")
	cfg.AdminEmail = strings.ToLower(getEnvString("ADMIN_EMAIL", "admin@example.com"))
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 1209600)
	cfg.RateLimitSignIn = getEnvInt("RATE_LIMIT_SIGN_IN", 10)
	cfg.RateLimitContact = getEnvInt("RATE_LIMIT_CONTACT", 5)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "")
	cfg.ContactNotifyTo = getEnvString("CONTACT_NOTIFY_TO", "")
	cfg.ReconcileInterval = getEnvDuration("RECONCILE_INTERVAL", time.Minute)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = cfg.IsProduction()
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9091")

	if ttl := cfg.SessionTTL(); ttl < identity.MinSessionDuration || ttl > identity.MaxSessionDuration {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be between %d and %d seconds",
			int(identity.MinSessionDuration/time.Second), int(identity.MaxSessionDuration/time.Second))
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
