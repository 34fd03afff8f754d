// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"

	"github.com/hitoshi/portfolio/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	principalContextKey  = contextKey("principal")
	requestLogContextKey = contextKey("request_log")
)

// Principal はゲートで検証済みのリクエスト主体。
type Principal struct {
	Claims *model.Claims
	Role   model.Role
}

// ContextWithPrincipal はコンテキストに検証済みの主体を注入する。
// テストやゲート以外のコンテキスト生成でも使用する。
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	annotateRequest(ctx, p.Claims.UID)
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext はゲートを通過したリクエストの主体を返す。
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok && p != nil && p.Claims != nil
}

// requestLog はログミドルウェアが出力する、下流で判明したリクエスト属性。
type requestLog struct {
	uid string
}

func annotateRequest(ctx context.Context, uid string) {
	if rl, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		rl.uid = uid
	}
}
