package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

const (
	// MinSessionDuration と MaxSessionDuration はセッションCookieの有効期間の許容範囲。
	MinSessionDuration = 5 * time.Minute
	MaxSessionDuration = 14 * 24 * time.Hour

	maxCustomClaimsBytes = 1000
	resetTokenBytes      = 32
)

// reservedClaims はカスタムクレームに使えない名前。
var reservedClaims = map[string]struct{}{
	"acr": {}, "amr": {}, "at_hash": {}, "aud": {}, "auth_time": {}, "azp": {},
	"cnf": {}, "c_hash": {}, "exp": {}, "iat": {}, "iss": {}, "jti": {},
	"nbf": {}, "nonce": {}, "sub": {}, "email": {}, "claims": {}, "firebase": {},
}

// Config はProviderの設定。
type Config struct {
	Issuer             string
	IDTokenTTL         time.Duration
	RecentSignInWindow time.Duration
	ResetTokenTTL      time.Duration
	BcryptCost         int
}

// Provider はアカウント・トークン・セッションCookieを扱うIDプロバイダー。
type Provider struct {
	accounts repository.AccountRepository
	resets   repository.PasswordResetRepository
	keys     *KeySet
	ledger   repository.TokenLedger
	cfg      Config
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Option はProviderの生成オプション。
type Option func(*Provider)

// WithClock は時刻取得関数を差し替える。鍵の作成時刻にも同じ時計を使う。
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
		if p.keys != nil {
			p.keys.now = now
		}
	}
}

// NewProvider はProviderを生成する。
func NewProvider(
	accounts repository.AccountRepository,
	resets repository.PasswordResetRepository,
	keys *KeySet,
	ledger repository.TokenLedger,
	cfg Config,
	opts ...Option,
) *Provider {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.ResetTokenTTL == 0 {
		cfg.ResetTokenTTL = time.Hour
	}
	p := &Provider{
		accounts: accounts,
		resets:   resets,
		keys:     keys,
		ledger:   ledger,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AccountInput はアカウント作成時の入力。
type AccountInput struct {
	Email        string
	Password     string
	DisplayName  string
	CustomClaims map[string]any
}

// SignInWithPassword はメールアドレスとパスワードを検証し、短命のIDトークンを返す。
// アカウントの有無は呼び出し側から区別できない。
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (string, error) {
	account, err := p.accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", err
	}
	if account == nil {
		// 応答時間でアカウントの有無が分からないよう、ダミーハッシュと比較する
		checkPassword(p.dummy(), password)
		return "", ErrInvalidCredentials
	}
	if !checkPassword(account.PasswordHash, password) || account.Disabled {
		return "", ErrInvalidCredentials
	}

	now := p.now()
	claims := &tokenClaims{
		Email:    account.Email,
		AuthTime: now.Unix(),
		Custom:   account.CustomClaims,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.cfg.Issuer,
			Subject:   account.UID,
			Audience:  jwt.ClaimStrings{audienceIDToken},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.IDTokenTTL)),
		},
	}
	return p.sign(ctx, claims)
}

// VerifyIDToken はIDトークンを検証してクレームを返す。消費はしない。
func (p *Provider) VerifyIDToken(ctx context.Context, idToken string) (*model.Claims, error) {
	claims, err := p.parse(ctx, idToken, audienceIDToken, ErrInvalidToken)
	if err != nil {
		return nil, err
	}
	return claims.toModel(), nil
}

// CreateSessionCookie はIDトークンを検証・消費し、expiresIn有効なセッションCookie値を返す。
// サインインからRecentSignInWindow以上経過したトークンはErrStaleSignIn、
// 既に使われたトークンはErrTokenConsumed。
func (p *Provider) CreateSessionCookie(ctx context.Context, idToken string, expiresIn time.Duration) (string, error) {
	if expiresIn < MinSessionDuration || expiresIn > MaxSessionDuration {
		return "", ErrInvalidExpiry
	}

	claims, err := p.parse(ctx, idToken, audienceIDToken, ErrInvalidToken)
	if err != nil {
		return "", err
	}

	now := p.now()
	authTime := time.Unix(claims.AuthTime, 0)
	if now.Sub(authTime) > p.cfg.RecentSignInWindow {
		return "", ErrStaleSignIn
	}

	if err := p.checkRevoked(ctx, claims, ErrInvalidToken); err != nil {
		return "", err
	}

	remaining := claims.ExpiresAt.Time.Sub(now)
	consumed, err := p.ledger.Consume(ctx, claims.ID, remaining)
	if err != nil {
		return "", err
	}
	if !consumed {
		return "", ErrTokenConsumed
	}

	session := &tokenClaims{
		Email:    claims.Email,
		AuthTime: claims.AuthTime,
		Custom:   claims.Custom,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.cfg.Issuer,
			Subject:   claims.Subject,
			Audience:  jwt.ClaimStrings{audienceSession},
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return p.sign(ctx, session)
}

// VerifySessionCookie はセッションCookieを検証する。
// checkRevokedがtrueの場合、アカウントが存在し有効で、トークン失効後のサインインであることも確認する。
func (p *Provider) VerifySessionCookie(ctx context.Context, cookie string, checkRevoked bool) (*model.Claims, error) {
	claims, err := p.parse(ctx, cookie, audienceSession, ErrSessionInvalid)
	if err != nil {
		return nil, err
	}
	if checkRevoked {
		if err := p.checkRevoked(ctx, claims, ErrSessionRevoked); err != nil {
			return nil, err
		}
	}
	return claims.toModel(), nil
}

// checkRevoked はアカウントの存在・有効性・トークン失効時刻を確認する。
// 失効している場合はrevokedを返し、ストアに到達できない場合はそのエラーを返す。
func (p *Provider) checkRevoked(ctx context.Context, claims *tokenClaims, revoked error) error {
	account, err := p.accounts.FindByID(ctx, claims.Subject)
	if err != nil {
		return err
	}
	if account == nil || account.Disabled {
		return revoked
	}
	if claims.AuthTime < account.TokensValidAfter.Unix() {
		return revoked
	}
	return nil
}

// CreateAccount はアカウントを作成する。
func (p *Provider) CreateAccount(ctx context.Context, in AccountInput) (*model.Account, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, ErrInvalidCredentials
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := validateCustomClaims(in.CustomClaims); err != nil {
		return nil, err
	}

	hash, err := hashPassword(in.Password, p.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	now := p.now()
	account := &model.Account{
		UID:              uuid.NewString(),
		Email:            email,
		PasswordHash:     hash,
		DisplayName:      in.DisplayName,
		CustomClaims:     copyClaims(in.CustomClaims),
		TokensValidAfter: now.Truncate(time.Second),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, err
	}
	return account, nil
}

// GetAccount はUIDでアカウントを取得する。
func (p *Provider) GetAccount(ctx context.Context, uid string) (*model.Account, error) {
	account, err := p.accounts.FindByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// GetAccountByEmail はメールアドレスでアカウントを取得する。
func (p *Provider) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	account, err := p.accounts.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// SetCustomUserClaims はカスタムクレームを丸ごと置き換える。同じ値で何度呼んでも結果は同じ。
// nilまたは空のmapはクレームの削除を意味する。
func (p *Provider) SetCustomUserClaims(ctx context.Context, uid string, claims map[string]any) error {
	if err := validateCustomClaims(claims); err != nil {
		return err
	}
	return p.notFound(p.accounts.UpdateClaims(ctx, uid, copyClaims(claims)))
}

// DeleteAccount はアカウントを削除する。
func (p *Provider) DeleteAccount(ctx context.Context, uid string) error {
	return p.notFound(p.accounts.Delete(ctx, uid))
}

// UpdateDisplayName は表示名を更新する。
func (p *Provider) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	return p.notFound(p.accounts.UpdateDisplayName(ctx, uid, displayName))
}

// UpdatePassword はパスワードを変更し、既存のセッションをすべて失効させる。
func (p *Provider) UpdatePassword(ctx context.Context, uid, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := hashPassword(newPassword, p.cfg.BcryptCost)
	if err != nil {
		return err
	}
	return p.notFound(p.accounts.UpdatePassword(ctx, uid, hash, p.validAfter()))
}

// RevokeRefreshTokens は現在時刻より前に認証されたトークンとセッションを失効させる。
func (p *Provider) RevokeRefreshTokens(ctx context.Context, uid string) error {
	return p.notFound(p.accounts.RevokeTokens(ctx, uid, p.validAfter()))
}

// GeneratePasswordResetToken はパスワード再設定トークンを発行する。
// トークン本体は返すのみで、ハッシュだけを保存する。
func (p *Provider) GeneratePasswordResetToken(ctx context.Context, email string) (string, error) {
	account, err := p.GetAccountByEmail(ctx, email)
	if err != nil {
		return "", err
	}

	raw := make([]byte, resetTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	now := p.now()
	if err := p.resets.Create(ctx, &model.PasswordReset{
		TokenHash: hashResetToken(token),
		UID:       account.UID,
		ExpiresAt: now.Add(p.cfg.ResetTokenTTL),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	return token, nil
}

// ConfirmPasswordReset は再設定トークンを消費してパスワードを変更する。
func (p *Provider) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if token == "" {
		return ErrResetTokenInvalid
	}
	reset, err := p.resets.Consume(ctx, hashResetToken(token), p.now())
	if err != nil {
		return err
	}
	if reset == nil {
		return ErrResetTokenInvalid
	}
	if err := p.UpdatePassword(ctx, reset.UID, newPassword); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}
	return nil
}

// validAfter はトークン失効の基準時刻を返す。auth_timeは秒精度のため秒で切り捨てる。
func (p *Provider) validAfter() time.Time {
	return p.now().Truncate(time.Second)
}

func (p *Provider) notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}

func (p *Provider) dummy() string {
	p.dummyOnce.Do(func() {
		h, err := hashPassword(uuid.NewString(), p.cfg.BcryptCost)
		if err == nil {
			p.dummyHash = h
		}
	})
	return p.dummyHash
}

func validateCustomClaims(claims map[string]any) error {
	for name := range claims {
		if _, ok := reservedClaims[name]; ok {
			return fmt.Errorf("%w: %q is reserved", ErrInvalidClaims, name)
		}
	}
	b, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	if len(b) > maxCustomClaimsBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidClaims, maxCustomClaimsBytes)
	}
	return nil
}

func copyClaims(claims map[string]any) map[string]any {
	out := make(map[string]any, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
