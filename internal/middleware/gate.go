package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/portfolio/internal/auth"
	"github.com/hitoshi/portfolio/internal/metrics"
	"github.com/hitoshi/portfolio/internal/model"
)

// DefaultLoginPath はゲートの対象外となるログインページ。
const DefaultLoginPath = "/admin/login"

// GateState はリクエストごとのゲート判定状態。
type GateState int

const (
	Unauthenticated GateState = iota
	AuthenticatedNoRole
	AuthenticatedWithRole
	GateError
)

func (s GateState) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AuthenticatedNoRole:
		return "authenticated_no_role"
	case AuthenticatedWithRole:
		return "authenticated_with_role"
	default:
		return "error"
	}
}

// GateDecision はゲートの判定結果。
type GateDecision struct {
	State  GateState
	Claims *model.Claims
	Role   model.Role
	// Err はGateErrorまたはAuthenticatedNoRoleの理由。
	Err error
}

// SessionVerifier はCookie値からクレームを検証する。
type SessionVerifier interface {
	VerifySession(ctx context.Context, value string) (*model.Claims, error)
}

// GateConfig はリダイレクト型ゲートの設定。
type GateConfig struct {
	// AllowedRoles は通過を許すロール。空の場合は管理者のみ。
	AllowedRoles []model.Role
	LoginPath    string
	Metrics      metrics.MetricsCollector
}

// Gate はセッションCookieとロールクレームでアクセスを判定する。
// リクエスト間で状態を持たず、同じCookieと鍵なら常に同じ判定になる。
type Gate struct {
	verifier SessionVerifier
	allowed  map[model.Role]struct{}
	metrics  metrics.MetricsCollector
}

// NewGate はGateを生成する。rolesが空の場合は管理者のみ許可する。
func NewGate(verifier SessionVerifier, mc metrics.MetricsCollector, roles ...model.Role) *Gate {
	if len(roles) == 0 {
		roles = []model.Role{model.RoleAdmin}
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return &Gate{verifier: verifier, allowed: allowed, metrics: mc}
}

// Decide はリクエストのCookieを検証し、判定を返す。
func (g *Gate) Decide(r *http.Request) GateDecision {
	d := g.decide(r)
	g.metrics.RecordGateDecision(d.State.String())
	return d
}

func (g *Gate) decide(r *http.Request) GateDecision {
	cookie, err := r.Cookie(auth.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return GateDecision{State: Unauthenticated}
	}

	claims, err := g.verifier.VerifySession(r.Context(), cookie.Value)
	if err != nil {
		return GateDecision{State: GateError, Err: err}
	}

	role, err := auth.ResolveRole(claims.Custom)
	if err != nil {
		return GateDecision{State: AuthenticatedNoRole, Claims: claims, Err: err}
	}
	if _, ok := g.allowed[role]; !ok {
		return GateDecision{State: AuthenticatedNoRole, Claims: claims, Role: role}
	}
	return GateDecision{State: AuthenticatedWithRole, Claims: claims, Role: role}
}

// NewAccessGate は管理画面ページ用のリダイレクト型ゲートを返す。
// 未認証・検証失敗はログインページへ、ロール不足は?error=unauthorized付きでリダイレクトする。
// ログインページと完全一致するパスだけはゲートを通さない。
func NewAccessGate(verifier SessionVerifier, cfg GateConfig) func(next http.Handler) http.Handler {
	gate := NewGate(verifier, cfg.Metrics, cfg.AllowedRoles...)
	loginPath := cfg.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == loginPath {
				next.ServeHTTP(w, r)
				return
			}

			d := gate.Decide(r)
			switch d.State {
			case AuthenticatedWithRole:
				next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), &Principal{Claims: d.Claims, Role: d.Role})))
			case AuthenticatedNoRole:
				annotateRequest(r.Context(), d.Claims.UID)
				slog.Info("access denied: role not allowed",
					slog.String("uid", d.Claims.UID),
					slog.String("role", string(d.Role)),
					slog.String("path", r.URL.Path),
				)
				http.Redirect(w, r, loginPath+"?error=unauthorized", http.StatusSeeOther)
			case GateError:
				logGateError(r, d.Err)
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
			default:
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
			}
		})
	}
}

// RequirePageRole はNewAccessGateの内側で、通過済みの主体のロールをさらに絞り込む。
// 主体がない場合はログインページへ、ロール不足は?error=unauthorized付きでリダイレクトする。
func RequirePageRole(loginPath string, roles ...model.Role) func(next http.Handler) http.Handler {
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	allowed := make(map[model.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Redirect(w, r, loginPath, http.StatusSeeOther)
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				slog.Info("access denied: role not allowed",
					slog.String("uid", p.Claims.UID),
					slog.String("role", string(p.Role)),
					slog.String("path", r.URL.Path),
				)
				http.Redirect(w, r, loginPath+"?error=unauthorized", http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewAPIAccessGate はAPI用のゲートを返す。判定はNewAccessGateと同じで、
// リダイレクトの代わりにJSONエラー（401/403、上流障害は503）を返す。
func NewAPIAccessGate(verifier SessionVerifier, mc metrics.MetricsCollector, roles ...model.Role) func(next http.Handler) http.Handler {
	gate := NewGate(verifier, mc, roles...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := gate.Decide(r)
			switch d.State {
			case AuthenticatedWithRole:
				next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), &Principal{Claims: d.Claims, Role: d.Role})))
			case AuthenticatedNoRole:
				annotateRequest(r.Context(), d.Claims.UID)
				if errors.Is(d.Err, auth.ErrAmbiguousRole) {
					WriteErrorResponse(w, http.StatusForbidden, model.NewAmbiguousRoleError())
					return
				}
				WriteErrorResponse(w, http.StatusForbidden, model.NewUnauthorizedError())
			case GateError:
				logGateError(r, d.Err)
				if model.HasCode(d.Err, model.ErrCodeUpstreamUnavailable) {
					WriteError(w, d.Err)
					return
				}
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionInvalidError())
			default:
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionInvalidError())
			}
		})
	}
}

func logGateError(r *http.Request, err error) {
	if model.HasCode(err, model.ErrCodeSessionInvalid) {
		slog.Info("session rejected by gate", slog.String("path", r.URL.Path))
		return
	}
	slog.Warn("gate could not verify session",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
