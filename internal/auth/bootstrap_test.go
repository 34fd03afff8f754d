package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/hitoshi/portfolio/internal/identity"
	"github.com/hitoshi/portfolio/internal/model"
)

const (
	testSetupSecret = "s3cret-setup-value"
	testAdminEmail  = "admin@example.com"
)

func newTestBootstrapper(env *adapterEnv, secret string) *Bootstrapper {
	b := NewBootstrapper(env.adapter, secret, testAdminEmail)
	b.generate = func() (string, error) { return "generated-password", nil }
	return b
}

// TestBootstrapper_RejectsWrongOrEmptySecret はシークレット不一致を常に拒否することを検証する。
func TestBootstrapper_RejectsWrongOrEmptySecret(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		presented  string
	}{
		{"wrong secret", testSetupSecret, "guess"},
		{"empty presented", testSetupSecret, ""},
		{"not configured", "", ""},
		{"not configured, anything presented", "", "anything"},
		{"prefix", testSetupSecret, testSetupSecret[:5]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAdapterEnv()
			b := newTestBootstrapper(env, tt.configured)

			_, err := b.CreateAdmin(context.Background(), tt.presented)

			if !model.HasCode(err, model.ErrCodeUnauthorized) {
				t.Errorf("err = %v, want UNAUTHORIZED", err)
			}
			if env.idp.count() != 0 {
				t.Error("no account should be created")
			}
		})
	}
}

// TestBootstrapper_CreateThenExists は2回目以降がexistsになり、管理者が二重に作られないことを検証する。
func TestBootstrapper_CreateThenExists(t *testing.T) {
	env := newAdapterEnv()
	b := newTestBootstrapper(env, testSetupSecret)
	ctx := context.Background()

	first, err := b.CreateAdmin(ctx, testSetupSecret)
	if err != nil {
		t.Fatalf("first CreateAdmin: %v", err)
	}
	if first.Status != BootstrapCreated || first.Password != "generated-password" || first.UID == "" {
		t.Errorf("first = %+v", first)
	}
	if role, _ := ResolveRole(env.idp.claims(first.UID)); role != model.RoleAdmin {
		t.Errorf("admin claim missing: %v", env.idp.claims(first.UID))
	}

	for i := 0; i < 2; i++ {
		again, err := b.CreateAdmin(ctx, testSetupSecret)
		if err != nil {
			t.Fatalf("CreateAdmin #%d: %v", i+2, err)
		}
		if again.Status != BootstrapExists || again.UID != first.UID {
			t.Errorf("CreateAdmin #%d = %+v, want exists with uid %s", i+2, again, first.UID)
		}
		if again.Password != "" {
			t.Error("password must only be returned on creation")
		}
	}
	if env.idp.count() != 1 {
		t.Errorf("accounts = %d, want 1", env.idp.count())
	}
}

// TestBootstrapper_ExistingAccountWithoutAdminRole は既存アカウントに管理者ロールとプロフィールを付与することを検証する。
func TestBootstrapper_ExistingAccountWithoutAdminRole(t *testing.T) {
	env := newAdapterEnv()
	acct := env.idp.add(testAdminEmail, RoleClaims(model.RoleViewer))
	b := newTestBootstrapper(env, testSetupSecret)

	res, err := b.CreateAdmin(context.Background(), testSetupSecret)
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if res.Status != BootstrapExists || res.UID != acct.UID {
		t.Errorf("res = %+v", res)
	}
	if role, _ := ResolveRole(env.idp.claims(acct.UID)); role != model.RoleAdmin {
		t.Errorf("claims = %v, want admin", env.idp.claims(acct.UID))
	}
	if p := env.profiles.profiles[acct.UID]; p == nil || p.Role != model.RoleAdmin {
		t.Errorf("profile = %+v, want admin profile", p)
	}
}

// TestBootstrapper_ConcurrentCreateFallsBackToExists は同時作成で重複した場合にexistsへ切り替わることを検証する。
func TestBootstrapper_ConcurrentCreateFallsBackToExists(t *testing.T) {
	env := newAdapterEnv()
	var once sync.Once
	var raced *model.Account
	// 1回目の検索の後、作成の直前に別リクエストが同じメールで作成した状況を作る
	env.idp.createFn = func(_ context.Context, in identity.AccountInput) (*model.Account, error) {
		once.Do(func() { raced = env.idp.add(in.Email, RoleClaims(model.RoleAdmin)) })
		return nil, identity.ErrEmailExists
	}
	b := newTestBootstrapper(env, testSetupSecret)

	res, err := b.CreateAdmin(context.Background(), testSetupSecret)
	if err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}
	if res.Status != BootstrapExists || res.UID != raced.UID {
		t.Errorf("res = %+v, want exists for %s", res, raced.UID)
	}
	if env.idp.count() != 1 {
		t.Errorf("accounts = %d, want 1", env.idp.count())
	}
}

// TestBootstrapper_UpstreamDown は上流障害が伝わることを検証する。
func TestBootstrapper_UpstreamDown(t *testing.T) {
	env := newAdapterEnv()
	env.idp.getByEmailFn = func(context.Context, string) (*model.Account, error) {
		return nil, errConnRefused
	}
	b := newTestBootstrapper(env, testSetupSecret)

	_, err := b.CreateAdmin(context.Background(), testSetupSecret)

	if !model.HasCode(err, model.ErrCodeUpstreamUnavailable) {
		t.Errorf("err = %v, want UPSTREAM_UNAVAILABLE", err)
	}
}
