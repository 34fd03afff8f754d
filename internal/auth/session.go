package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/portfolio/internal/model"
)

const (
	// SessionCookieName はセッションCookieの名前。
	SessionCookieName = "admin-session"
	// DefaultSessionMaxAge はセッションCookieの有効期間（14日）。
	DefaultSessionMaxAge = 14 * 24 * time.Hour
)

// SessionProvider はセッションCookieの発行と検証を行うIDプロバイダーの操作。
type SessionProvider interface {
	CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error)
	VerifySessionCookie(ctx context.Context, cookie string, checkRevoked bool) (*model.Claims, error)
}

// SessionConfig はセッションCookieの属性。
type SessionConfig struct {
	MaxAge time.Duration
	Secure bool
	Domain string
}

// SessionService は短命のIDトークンを長期のセッションCookieに交換し、検証する。
// サーバー側ではセッションを保存せず、検証は毎回署名から導出する。
type SessionService struct {
	provider SessionProvider
	caller   *Caller
	cfg      SessionConfig
}

// NewSessionService はSessionServiceを生成する。
func NewSessionService(provider SessionProvider, caller *Caller, cfg SessionConfig) *SessionService {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultSessionMaxAge
	}
	return &SessionService{provider: provider, caller: caller, cfg: cfg}
}

// CreateSession はIDトークンを検証・消費してセッションCookieを返す。
// 期限切れ・不正・使用済み・サインインから時間が経ちすぎたトークンはINVALID_TOKEN。
func (s *SessionService) CreateSession(ctx context.Context, idToken string) (*http.Cookie, error) {
	if idToken == "" {
		return nil, model.NewInvalidTokenError()
	}

	var value string
	if err := s.caller.Write(ctx, "create_session", func(ctx context.Context) error {
		var err error
		value, err = s.provider.CreateSessionCookie(ctx, idToken, s.cfg.MaxAge)
		return err
	}); err != nil {
		return nil, err
	}

	return s.cookie(value, int(s.cfg.MaxAge/time.Second)), nil
}

// VerifySession はCookie値を署名・有効期限・失効状態について検証し、クレームを返す。
// 検証できない場合はSESSION_INVALID、失効確認のためのストアに到達できない場合はUPSTREAM_UNAVAILABLE。
func (s *SessionService) VerifySession(ctx context.Context, value string) (*model.Claims, error) {
	if value == "" {
		return nil, model.NewSessionInvalidError()
	}

	var claims *model.Claims
	err := s.caller.Read(ctx, "verify_session", func(ctx context.Context) error {
		var err error
		claims, err = s.provider.VerifySessionCookie(ctx, value, true)
		return err
	})
	if err != nil {
		if model.HasCode(err, model.ErrCodeSessionInvalid) {
			slog.Debug("session cookie rejected")
		}
		return nil, err
	}
	return claims, nil
}

// DestroySession は同じ属性で即時に期限切れとなるCookieを返す。セッションが無くても使える。
func (s *SessionService) DestroySession() *http.Cookie {
	return s.cookie("", -1)
}

func (s *SessionService) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   s.cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	}
}
