package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"github.com/hitoshi/portfolio/internal/identity"
	"github.com/hitoshi/portfolio/internal/model"
)

const bootstrapPasswordBytes = 12

// BootstrapStatus は初回管理者作成の結果種別。
type BootstrapStatus string

const (
	BootstrapExists  BootstrapStatus = "exists"
	BootstrapCreated BootstrapStatus = "created"
)

// BootstrapResult は初回管理者作成の結果。Passwordは新規作成時にだけ1度返す。
type BootstrapResult struct {
	Status   BootstrapStatus
	UID      string
	Password string
}

// Bootstrapper は共有シークレットで初回の管理者アカウントを作成する。
type Bootstrapper struct {
	adapter  *Adapter
	secret   string
	email    string
	generate func() (string, error)
}

// NewBootstrapper はBootstrapperを生成する。secretが空の場合は常に拒否する。
func NewBootstrapper(adapter *Adapter, secret, adminEmail string) *Bootstrapper {
	return &Bootstrapper{
		adapter: adapter,
		secret:  secret,
		email:   adminEmail,
		generate: func() (string, error) {
			return identity.GeneratePassword(bootstrapPasswordBytes)
		},
	}
}

// CreateAdmin はシークレットを検証し、管理者アカウントが無ければ作成する。
// 既に存在する場合は管理者ロールとプロフィールを保証してexistsを返し、二重には作らない。
func (b *Bootstrapper) CreateAdmin(ctx context.Context, presented string) (*BootstrapResult, error) {
	if !b.secretMatches(presented) {
		slog.Warn("bootstrap rejected: secret mismatch")
		return nil, model.NewUnauthorizedError()
	}

	existing, err := b.adapter.AccountByEmail(ctx, b.email)
	if err != nil && !model.HasCode(err, model.ErrCodeUserNotFound) {
		return nil, err
	}
	if existing != nil {
		return b.ensureAdmin(ctx, existing)
	}

	password, err := b.generate()
	if err != nil {
		slog.Error("failed to generate bootstrap password", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}

	profile, err := b.adapter.CreateUser(ctx, CreateUserInput{
		Email:       b.email,
		Password:    password,
		Role:        model.RoleAdmin,
		DisplayName: "Administrator",
	})
	if model.HasCode(err, model.ErrCodeEmailAlreadyExists) {
		// 同時に別のリクエストが作成した
		existing, err = b.adapter.AccountByEmail(ctx, b.email)
		if err != nil {
			return nil, err
		}
		return b.ensureAdmin(ctx, existing)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("bootstrap admin created", slog.String("uid", profile.UID))
	return &BootstrapResult{Status: BootstrapCreated, UID: profile.UID, Password: password}, nil
}

func (b *Bootstrapper) ensureAdmin(ctx context.Context, account *model.Account) (*BootstrapResult, error) {
	if err := b.adapter.EnsureProfile(ctx, account, model.RoleAdmin); err != nil {
		return nil, err
	}
	if role, err := ResolveRole(account.CustomClaims); err != nil || role != model.RoleAdmin {
		if err := b.adapter.UpdateRole(ctx, account.UID, model.RoleAdmin); err != nil {
			return nil, err
		}
	}
	return &BootstrapResult{Status: BootstrapExists, UID: account.UID}, nil
}

func (b *Bootstrapper) secretMatches(presented string) bool {
	if b.secret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(b.secret)) == 1
}
