package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/portfolio/internal/identity"
	"github.com/hitoshi/portfolio/internal/metrics"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

// IdentityProvider はアダプターが利用するIDプロバイダーの操作。
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (string, error)
	VerifyIDToken(ctx context.Context, idToken string) (*model.Claims, error)
	CreateAccount(ctx context.Context, in identity.AccountInput) (*model.Account, error)
	GetAccount(ctx context.Context, uid string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	SetCustomUserClaims(ctx context.Context, uid string, claims map[string]any) error
	DeleteAccount(ctx context.Context, uid string) error
	UpdateDisplayName(ctx context.Context, uid, displayName string) error
	UpdatePassword(ctx context.Context, uid, newPassword string) error
	RevokeRefreshTokens(ctx context.Context, uid string) error
	GeneratePasswordResetToken(ctx context.Context, email string) (string, error)
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

// compile-time interface check
var _ IdentityProvider = (*identity.Provider)(nil)

// ResetMailer はパスワード再設定リンクを送信する。
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, to, link string) error
}

// CreateUserInput はユーザー作成時の入力。
type CreateUserInput struct {
	Email       string
	Password    string
	Role        model.Role
	DisplayName string
}

// Adapter はアプリケーションの操作をIDプロバイダーとプロフィールストアの呼び出しに変換する。
// 複数ステップの操作が途中で失敗した場合は整合性回復タスクを記録し、PARTIAL_FAILUREを返す。
type Adapter struct {
	idp      IdentityProvider
	profiles repository.ProfileRepository
	tasks    repository.ReconcileRepository
	mailer   ResetMailer
	caller   *Caller
	metrics  metrics.MetricsCollector
	baseURL  string
	now      func() time.Time
}

// NewAdapter はAdapterを生成する。
func NewAdapter(
	idp IdentityProvider,
	profiles repository.ProfileRepository,
	tasks repository.ReconcileRepository,
	mailer ResetMailer,
	caller *Caller,
	baseURL string,
) *Adapter {
	return &Adapter{
		idp:      idp,
		profiles: profiles,
		tasks:    tasks,
		mailer:   mailer,
		caller:   caller,
		metrics:  caller.Metrics(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

// SignIn はメールアドレスとパスワードで認証し、セッション作成に1回だけ使えるIDトークンを返す。
// 成功時はプロフィールの最終ログイン日時を更新する（失敗してもサインインは成功扱い）。
func (a *Adapter) SignIn(ctx context.Context, email, password string) (string, error) {
	var token string
	err := a.caller.Write(ctx, "sign_in", func(ctx context.Context) error {
		var err error
		token, err = a.idp.SignInWithPassword(ctx, email, password)
		return err
	})
	if err != nil {
		if model.HasCode(err, model.ErrCodeInvalidCredentials) {
			a.metrics.RecordSignIn("invalid_credentials")
		} else {
			a.metrics.RecordSignIn("error")
		}
		return "", err
	}

	a.metrics.RecordSignIn("success")
	a.touchLastLogin(ctx, token)
	return token, nil
}

func (a *Adapter) touchLastLogin(ctx context.Context, token string) {
	var claims *model.Claims
	err := a.caller.Read(ctx, "verify_id_token", func(ctx context.Context) error {
		var err error
		claims, err = a.idp.VerifyIDToken(ctx, token)
		return err
	})
	if err == nil {
		err = a.caller.Write(ctx, "touch_last_login", func(ctx context.Context) error {
			return a.profiles.TouchLastLogin(ctx, claims.UID, a.now())
		})
	}
	if err != nil {
		slog.Warn("failed to update last login",
			slog.String("error", err.Error()),
		)
	}
}

// CreateUser は認証レコードとプロフィールを作成する。ロールはクレームとして認証レコードと同時に設定する。
// プロフィール作成に失敗した場合は認証レコードを削除して元に戻し、それも失敗した場合は
// 削除タスクを記録してPARTIAL_FAILUREを返す。
func (a *Adapter) CreateUser(ctx context.Context, in CreateUserInput) (*model.UserProfile, error) {
	if !in.Role.Valid() {
		return nil, model.NewInvalidRequestError("role must be one of admin, editor, viewer")
	}

	var account *model.Account
	err := a.caller.Write(ctx, "create_account", func(ctx context.Context) error {
		var err error
		account, err = a.idp.CreateAccount(ctx, identity.AccountInput{
			Email:        in.Email,
			Password:     in.Password,
			DisplayName:  in.DisplayName,
			CustomClaims: RoleClaims(in.Role),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	profile := &model.UserProfile{
		UID:         account.UID,
		Email:       account.Email,
		DisplayName: in.DisplayName,
		Role:        in.Role,
		CreatedAt:   account.CreatedAt,
	}
	profileErr := a.caller.Write(ctx, "create_profile", func(ctx context.Context) error {
		return a.profiles.Create(ctx, profile)
	})
	if profileErr == nil {
		slog.Info("user created",
			slog.String("uid", profile.UID),
			slog.String("role", string(profile.Role)),
		)
		return profile, nil
	}

	undoErr := a.caller.Write(ctx, "delete_account", func(ctx context.Context) error {
		return a.idp.DeleteAccount(ctx, account.UID)
	})
	if undoErr == nil || model.HasCode(undoErr, model.ErrCodeUserNotFound) {
		slog.Warn("user creation rolled back",
			slog.String("uid", account.UID),
			slog.String("error", profileErr.Error()),
		)
		return nil, asUpstream(profileErr, "create_profile")
	}

	return nil, a.partialFailure(ctx, "create_user", account.UID, []stepResult{
		{"create_account", nil},
		{"create_profile", profileErr},
		{"delete_account", undoErr},
	}, model.ReconcileDeleteAccount)
}

// SetCustomClaims はカスタムクレームを丸ごと置き換える。同じ値で繰り返し呼んでも結果は変わらない。
// クレームにロールが含まれる場合はプロフィールのロールも追従させ、ロールが変わったときは
// 既存セッションを失効させる。
func (a *Adapter) SetCustomClaims(ctx context.Context, uid string, claims map[string]any) error {
	role, err := ResolveRole(claims)
	switch {
	case errors.Is(err, ErrAmbiguousRole):
		return model.NewAmbiguousRoleError()
	case err != nil && hasRoleString(claims):
		return model.NewInvalidClaimsError(err.Error())
	}

	previous, err := a.currentRole(ctx, uid)
	if err != nil {
		return err
	}

	if err := a.caller.Write(ctx, "set_custom_claims", func(ctx context.Context) error {
		return a.idp.SetCustomUserClaims(ctx, uid, claims)
	}); err != nil {
		return err
	}

	slog.Info("custom claims updated", slog.String("uid", uid))
	return a.syncRole(ctx, "set_custom_claims", uid, previous, role)
}

// UpdateRole はロールを変更する。クレームを先に書き換え（アクセス制御の正）、
// 次にプロフィールの表示用コピーを更新する。
func (a *Adapter) UpdateRole(ctx context.Context, uid string, role model.Role) error {
	if !role.Valid() {
		return model.NewInvalidRequestError("role must be one of admin, editor, viewer")
	}

	account, err := a.Account(ctx, uid)
	if err != nil {
		return err
	}
	previous, _ := ResolveRole(account.CustomClaims)

	if err := a.caller.Write(ctx, "set_custom_claims", func(ctx context.Context) error {
		return a.idp.SetCustomUserClaims(ctx, uid, WithRole(account.CustomClaims, role))
	}); err != nil {
		return err
	}

	slog.Info("user role updated",
		slog.String("uid", uid),
		slog.String("from", string(previous)),
		slog.String("to", string(role)),
	)
	return a.syncRole(ctx, "update_role", uid, previous, role)
}

// syncRole はクレーム更新後の後続ステップ（セッション失効とプロフィール更新）を行う。
// roleが空の場合は何もしない。
func (a *Adapter) syncRole(ctx context.Context, op, uid string, previous, role model.Role) error {
	if role == "" {
		return nil
	}

	steps := []stepResult{{"set_custom_claims", nil}}
	var kinds []model.ReconcileKind

	if previous != role {
		err := a.caller.Write(ctx, "revoke_sessions", func(ctx context.Context) error {
			return a.idp.RevokeRefreshTokens(ctx, uid)
		})
		steps = append(steps, stepResult{"revoke_sessions", err})
		if err != nil {
			kinds = append(kinds, model.ReconcileRevokeSessions)
		}
	}

	err := a.caller.Write(ctx, "update_profile_role", func(ctx context.Context) error {
		return a.profiles.UpdateRole(ctx, uid, role)
	})
	steps = append(steps, stepResult{"update_profile_role", err})
	if err != nil {
		kinds = append(kinds, model.ReconcileProfileRole)
	}

	if len(kinds) > 0 {
		return a.partialFailure(ctx, op, uid, steps, kinds...)
	}
	return nil
}

func (a *Adapter) currentRole(ctx context.Context, uid string) (model.Role, error) {
	account, err := a.Account(ctx, uid)
	if err != nil {
		return "", err
	}
	role, _ := ResolveRole(account.CustomClaims)
	return role, nil
}

// DeleteUser は認証レコードのみを削除する。プロフィールは削除しない。
// 既に削除済みの場合はUSER_NOT_FOUND。
func (a *Adapter) DeleteUser(ctx context.Context, uid string) error {
	if err := a.caller.Write(ctx, "delete_account", func(ctx context.Context) error {
		return a.idp.DeleteAccount(ctx, uid)
	}); err != nil {
		return err
	}
	slog.Info("account deleted", slog.String("uid", uid))
	return nil
}

// RemoveUser は認証レコードとプロフィールの両方を削除する。
// 片方だけ成功した場合は残った側の削除タスクを記録してPARTIAL_FAILUREを返す。
// どちらも存在しない場合はUSER_NOT_FOUND。
func (a *Adapter) RemoveUser(ctx context.Context, uid string) error {
	accountErr := a.caller.Write(ctx, "delete_account", func(ctx context.Context) error {
		return a.idp.DeleteAccount(ctx, uid)
	})
	profileErr := a.caller.Write(ctx, "delete_profile", func(ctx context.Context) error {
		return a.profiles.Delete(ctx, uid)
	})

	accountGone := model.HasCode(accountErr, model.ErrCodeUserNotFound)
	profileGone := errors.Is(profileErr, repository.ErrNotFound)
	if accountGone && profileGone {
		return model.NewUserNotFoundError()
	}
	if accountGone {
		accountErr = nil
	}
	if profileGone {
		profileErr = nil
	}

	switch {
	case accountErr == nil && profileErr == nil:
		slog.Info("user removed", slog.String("uid", uid))
		return nil
	case accountErr != nil && profileErr != nil:
		return asUpstream(accountErr, "delete_account")
	case accountErr != nil:
		return a.partialFailure(ctx, "remove_user", uid, []stepResult{
			{"delete_account", accountErr},
			{"delete_profile", nil},
		}, model.ReconcileDeleteAccount)
	default:
		return a.partialFailure(ctx, "remove_user", uid, []stepResult{
			{"delete_account", nil},
			{"delete_profile", profileErr},
		}, model.ReconcileDeleteProfile)
	}
}

// UpdateDisplayName は認証レコードとプロフィールの表示名を更新する。
func (a *Adapter) UpdateDisplayName(ctx context.Context, uid, displayName string) error {
	if err := a.caller.Write(ctx, "update_account_name", func(ctx context.Context) error {
		return a.idp.UpdateDisplayName(ctx, uid, displayName)
	}); err != nil {
		return err
	}
	err := a.caller.Write(ctx, "update_profile_name", func(ctx context.Context) error {
		return a.profiles.UpdateDisplayName(ctx, uid, displayName)
	})
	if err != nil {
		return a.partialFailure(ctx, "update_display_name", uid, []stepResult{
			{"update_account_name", nil},
			{"update_profile_name", err},
		})
	}
	return nil
}

// ChangePassword はパスワードを変更する。既存のセッションはすべて失効する。
func (a *Adapter) ChangePassword(ctx context.Context, uid, newPassword string) error {
	if err := a.caller.Write(ctx, "update_password", func(ctx context.Context) error {
		return a.idp.UpdatePassword(ctx, uid, newPassword)
	}); err != nil {
		return err
	}
	slog.Info("password changed", slog.String("uid", uid))
	return nil
}

// ResetPassword は再設定リンクをメールで送る。アカウントの有無にかかわらず成功を返す。
func (a *Adapter) ResetPassword(ctx context.Context, email string) error {
	var token string
	err := a.caller.Write(ctx, "generate_reset_token", func(ctx context.Context) error {
		var err error
		token, err = a.idp.GeneratePasswordResetToken(ctx, email)
		return err
	})
	if model.HasCode(err, model.ErrCodeUserNotFound) {
		slog.Debug("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	link := a.baseURL + "/admin/reset-password?token=" + url.QueryEscape(token)
	if err := a.mailer.SendPasswordReset(ctx, email, link); err != nil {
		// 送信失敗を返すとアカウントの存在が分かるため、記録のみ行う
		slog.Error("failed to send password reset mail",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// ConfirmPasswordReset は再設定トークンを消費して新しいパスワードを設定する。
func (a *Adapter) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	return a.caller.Write(ctx, "confirm_password_reset", func(ctx context.Context) error {
		return a.idp.ConfirmPasswordReset(ctx, token, newPassword)
	})
}

// Account はUIDで認証レコードを取得する。
func (a *Adapter) Account(ctx context.Context, uid string) (*model.Account, error) {
	var account *model.Account
	err := a.caller.Read(ctx, "get_account", func(ctx context.Context) error {
		var err error
		account, err = a.idp.GetAccount(ctx, uid)
		return err
	})
	return account, err
}

// AccountByEmail はメールアドレスで認証レコードを取得する。
func (a *Adapter) AccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var account *model.Account
	err := a.caller.Read(ctx, "get_account_by_email", func(ctx context.Context) error {
		var err error
		account, err = a.idp.GetAccountByEmail(ctx, email)
		return err
	})
	return account, err
}

// EnsureProfile はaccountのプロフィールが無ければroleで作成し、あればロールを合わせる。
func (a *Adapter) EnsureProfile(ctx context.Context, account *model.Account, role model.Role) error {
	var profile *model.UserProfile
	if err := a.caller.Read(ctx, "get_profile", func(ctx context.Context) error {
		var err error
		profile, err = a.profiles.FindByID(ctx, account.UID)
		return err
	}); err != nil {
		return err
	}

	if profile == nil {
		return a.caller.Write(ctx, "create_profile", func(ctx context.Context) error {
			err := a.profiles.Create(ctx, &model.UserProfile{
				UID:         account.UID,
				Email:       account.Email,
				DisplayName: account.DisplayName,
				Role:        role,
				CreatedAt:   account.CreatedAt,
			})
			if errors.Is(err, repository.ErrDuplicate) {
				return nil
			}
			return err
		})
	}
	if profile.Role == role {
		return nil
	}
	return a.caller.Write(ctx, "update_profile_role", func(ctx context.Context) error {
		return a.profiles.UpdateRole(ctx, account.UID, role)
	})
}

// DeleteProfile はプロフィールだけを削除する。既に無い場合はUSER_NOT_FOUND。
func (a *Adapter) DeleteProfile(ctx context.Context, uid string) error {
	err := a.caller.Write(ctx, "delete_profile", func(ctx context.Context) error {
		return a.profiles.Delete(ctx, uid)
	})
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewUserNotFoundError()
	}
	return err
}

// RevokeSessions はuidの既存セッションをすべて失効させる。
func (a *Adapter) RevokeSessions(ctx context.Context, uid string) error {
	return a.caller.Write(ctx, "revoke_sessions", func(ctx context.Context) error {
		return a.idp.RevokeRefreshTokens(ctx, uid)
	})
}

// stepResult は複数ステップ操作の各ステップの結果。
type stepResult struct {
	name string
	err  error
}

// partialFailure は部分失敗をステップごとの結果とともに記録し、kindsごとに
// 整合性回復タスクを登録してPARTIAL_FAILUREを返す。
func (a *Adapter) partialFailure(ctx context.Context, op, uid string, steps []stepResult, kinds ...model.ReconcileKind) error {
	detail := make([]string, 0, len(steps))
	attrs := []any{
		slog.String("operation", op),
		slog.String("uid", uid),
	}
	var failed []string
	for _, s := range steps {
		outcome := "ok"
		if s.err != nil {
			outcome = s.err.Error()
			failed = append(failed, s.name)
		}
		detail = append(detail, s.name+"="+outcome)
		attrs = append(attrs, slog.String("step."+s.name, outcome))
	}

	// リクエストのキャンセルに巻き込まれないよう切り離したコンテキストで記録する
	recordCtx := context.WithoutCancel(ctx)
	var taskIDs []string
	for _, kind := range kinds {
		task := &model.ReconcileTask{
			ID:        uuid.NewString(),
			UID:       uid,
			Kind:      kind,
			Operation: op,
			Detail:    strings.Join(detail, "; "),
			CreatedAt: a.now(),
		}
		if err := a.caller.Write(recordCtx, "record_reconcile_task", func(ctx context.Context) error {
			return a.tasks.Create(ctx, task)
		}); err != nil {
			attrs = append(attrs, slog.String("task_error."+string(kind), err.Error()))
			continue
		}
		taskIDs = append(taskIDs, task.ID)
	}
	attrs = append(attrs, slog.Any("task_ids", taskIDs))

	slog.Error("privileged operation partially failed", attrs...)
	a.metrics.RecordPartialFailure(op)
	return model.NewPartialFailureError(op, failed...)
}

// asUpstream はrepositoryの生エラーを上流障害に寄せる。APIErrorはそのまま返す。
func asUpstream(err error, op string) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return model.NewUpstreamUnavailableError(op)
}

func hasRoleString(claims map[string]any) bool {
	_, ok := claims[RoleClaim]
	return ok
}
