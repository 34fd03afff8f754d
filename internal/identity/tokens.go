package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/portfolio/internal/model"
)

const (
	audienceIDToken = "portfolio:id-token"
	audienceSession = "portfolio:session"
)

// tokenClaims はIDトークンとセッションCookieに共通のJWTペイロード。
// 両者はaudで区別し、一方を他方として使うことはできない。
type tokenClaims struct {
	Email    string         `json:"email,omitempty"`
	AuthTime int64          `json:"auth_time"`
	Custom   map[string]any `json:"claims,omitempty"`
	jwt.RegisteredClaims
}

func (c *tokenClaims) toModel() *model.Claims {
	out := &model.Claims{
		UID:      c.Subject,
		Email:    c.Email,
		AuthTime: time.Unix(c.AuthTime, 0),
		Custom:   c.Custom,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	if out.Custom == nil {
		out.Custom = map[string]any{}
	}
	return out
}

// sign は有効な署名鍵でclaimsに署名し、ヘッダーにkidを付ける。
func (p *Provider) sign(ctx context.Context, claims *tokenClaims) (string, error) {
	kid, priv, err := p.keys.Signer(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load signing key: %w", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parse は署名・発行者・audience・有効期限を検証する。exp以降は猶予なしで拒否する。
// 鍵の取得自体に失敗した場合（DB障害など）は、トークン不正とは区別してそのエラーを返す。
func (p *Provider) parse(ctx context.Context, raw, audience string, invalid error) (*tokenClaims, error) {
	var lookupErr error
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, ErrUnknownKey
			}
			pub, err := p.keys.VerificationKey(ctx, kid)
			if err != nil {
				lookupErr = err
				return nil, err
			}
			return pub, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithIssuer(p.cfg.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(p.now),
	)
	if lookupErr != nil && !errors.Is(lookupErr, ErrUnknownKey) {
		return nil, fmt.Errorf("failed to look up verification key: %w", lookupErr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", invalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", invalid)
	}
	return claims, nil
}
