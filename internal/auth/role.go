package auth

import (
	"errors"
	"fmt"

	"github.com/hitoshi/portfolio/internal/model"
)

// RoleClaim はロールを格納するカスタムクレーム名。
const RoleClaim = "role"

var (
	// ErrNoRole はクレームから有効なロールが得られない。
	ErrNoRole = errors.New("auth: no role claim")
	// ErrAmbiguousRole は複数のロールが同時に指定されている。
	ErrAmbiguousRole = errors.New("auth: ambiguous role claims")
)

// ResolveRole はカスタムクレームからロールを1つ決定する。
// "role"文字列クレームと、旧形式の真偽値フラグ（{"admin": true} など）の両方を読む。
// 異なるロールが2つ以上見つかった場合はErrAmbiguousRoleで拒否し、どれかを選ぶことはしない。
func ResolveRole(claims map[string]any) (model.Role, error) {
	found := make(map[model.Role]struct{}, 1)

	if v, ok := claims[RoleClaim]; ok {
		s, _ := v.(string)
		r, valid := model.ParseRole(s)
		if !valid {
			return "", fmt.Errorf("%w: unrecognised role %v", ErrNoRole, v)
		}
		found[r] = struct{}{}
	}
	for _, r := range model.AllRoles() {
		if flag, ok := claims[string(r)].(bool); ok && flag {
			found[r] = struct{}{}
		}
	}

	switch len(found) {
	case 0:
		return "", ErrNoRole
	case 1:
		for r := range found {
			return r, nil
		}
	}
	return "", ErrAmbiguousRole
}

// RoleClaims はroleだけを持つクレームを返す。
func RoleClaims(role model.Role) map[string]any {
	return map[string]any{RoleClaim: string(role)}
}

// WithRole はclaimsのロールをroleに置き換えたコピーを返す。旧形式のフラグは取り除く。
func WithRole(claims map[string]any, role model.Role) map[string]any {
	out := make(map[string]any, len(claims)+1)
	for k, v := range claims {
		out[k] = v
	}
	for _, r := range model.AllRoles() {
		delete(out, string(r))
	}
	out[RoleClaim] = string(role)
	return out
}
