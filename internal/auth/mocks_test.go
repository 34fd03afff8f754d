package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/portfolio/internal/identity"
	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

// --- モック定義 ---

// mockIDP はメモリ上のアカウントを持つIdentityProvider。
// xxxFnが設定されていればそちらを優先する。
type mockIDP struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
	revoked  []string
	seq      int

	signInFn        func(ctx context.Context, email, password string) (string, error)
	verifyIDTokenFn func(ctx context.Context, token string) (*model.Claims, error)
	createFn        func(ctx context.Context, in identity.AccountInput) (*model.Account, error)
	setClaimsFn     func(ctx context.Context, uid string, claims map[string]any) error
	deleteFn        func(ctx context.Context, uid string) error
	revokeFn        func(ctx context.Context, uid string) error
	resetTokenFn    func(ctx context.Context, email string) (string, error)
	getByEmailFn    func(ctx context.Context, email string) (*model.Account, error)
}

func newMockIDP() *mockIDP {
	return &mockIDP{accounts: map[string]*model.Account{}}
}

func (m *mockIDP) add(email string, claims map[string]any) *model.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	a := &model.Account{
		UID:          fmt.Sprintf("uid-%d", m.seq),
		Email:        email,
		CustomClaims: claims,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	m.accounts[a.UID] = a
	return a
}

func (m *mockIDP) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

func (m *mockIDP) claims(uid string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[uid]; ok {
		return a.CustomClaims
	}
	return nil
}

func (m *mockIDP) SignInWithPassword(ctx context.Context, email, password string) (string, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return "", identity.ErrInvalidCredentials
}

func (m *mockIDP) VerifyIDToken(ctx context.Context, token string) (*model.Claims, error) {
	if m.verifyIDTokenFn != nil {
		return m.verifyIDTokenFn(ctx, token)
	}
	return nil, identity.ErrInvalidToken
}

func (m *mockIDP) CreateAccount(ctx context.Context, in identity.AccountInput) (*model.Account, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	m.mu.Lock()
	for _, a := range m.accounts {
		if a.Email == in.Email {
			m.mu.Unlock()
			return nil, identity.ErrEmailExists
		}
	}
	m.mu.Unlock()
	a := m.add(in.Email, in.CustomClaims)
	return a, nil
}

func (m *mockIDP) GetAccount(_ context.Context, uid string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[uid]
	if !ok {
		return nil, identity.ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (m *mockIDP) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Email == email {
			c := *a
			return &c, nil
		}
	}
	return nil, identity.ErrAccountNotFound
}

func (m *mockIDP) SetCustomUserClaims(ctx context.Context, uid string, claims map[string]any) error {
	if m.setClaimsFn != nil {
		return m.setClaimsFn(ctx, uid, claims)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[uid]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.CustomClaims = claims
	return nil
}

func (m *mockIDP) DeleteAccount(ctx context.Context, uid string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, uid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[uid]; !ok {
		return identity.ErrAccountNotFound
	}
	delete(m.accounts, uid)
	return nil
}

func (m *mockIDP) UpdateDisplayName(_ context.Context, uid, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[uid]
	if !ok {
		return identity.ErrAccountNotFound
	}
	a.DisplayName = name
	return nil
}

func (m *mockIDP) UpdatePassword(_ context.Context, uid, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[uid]; !ok {
		return identity.ErrAccountNotFound
	}
	m.revoked = append(m.revoked, uid)
	return nil
}

func (m *mockIDP) RevokeRefreshTokens(ctx context.Context, uid string) error {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, uid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, uid)
	return nil
}

func (m *mockIDP) GeneratePasswordResetToken(ctx context.Context, email string) (string, error) {
	if m.resetTokenFn != nil {
		return m.resetTokenFn(ctx, email)
	}
	return "", identity.ErrAccountNotFound
}

func (m *mockIDP) ConfirmPasswordReset(_ context.Context, token, _ string) error {
	if token == "" {
		return identity.ErrResetTokenInvalid
	}
	return nil
}

// mockProfileRepo はメモリ上のProfileRepository。
type mockProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*model.UserProfile
	calls    []string

	createErr     error
	updateRoleErr error
	deleteErr     error
	touchErr      error
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: map[string]*model.UserProfile{}}
}

func (m *mockProfileRepo) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockProfileRepo) Create(_ context.Context, p *model.UserProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("create")
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.profiles[p.UID]; ok {
		return repository.ErrDuplicate
	}
	c := *p
	m.profiles[p.UID] = &c
	return nil
}

func (m *mockProfileRepo) FindByID(_ context.Context, uid string) (*model.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (m *mockProfileRepo) List(context.Context) ([]*model.UserProfile, error) { return nil, nil }
func (m *mockProfileRepo) Count(context.Context) (int, error)                 { return len(m.profiles), nil }

func (m *mockProfileRepo) UpdateRole(_ context.Context, uid string, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("update_role")
	if m.updateRoleErr != nil {
		return m.updateRoleErr
	}
	p, ok := m.profiles[uid]
	if !ok {
		return repository.ErrNotFound
	}
	p.Role = role
	return nil
}

func (m *mockProfileRepo) UpdateDisplayName(_ context.Context, uid, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[uid]
	if !ok {
		return repository.ErrNotFound
	}
	p.DisplayName = name
	return nil
}

func (m *mockProfileRepo) TouchLastLogin(_ context.Context, uid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.touchErr != nil {
		return m.touchErr
	}
	p, ok := m.profiles[uid]
	if !ok {
		return repository.ErrNotFound
	}
	p.LastLogin = &at
	return nil
}

func (m *mockProfileRepo) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.profiles[uid]; !ok {
		return repository.ErrNotFound
	}
	delete(m.profiles, uid)
	return nil
}

// mockReconcileRepo は登録されたタスクを保持する。
type mockReconcileRepo struct {
	mu        sync.Mutex
	tasks     []*model.ReconcileTask
	createErr error
}

func (m *mockReconcileRepo) Create(_ context.Context, task *model.ReconcileTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.tasks = append(m.tasks, task)
	return nil
}

func (m *mockReconcileRepo) ClaimPending(context.Context, int) ([]*model.ReconcileTask, error) {
	return nil, nil
}
func (m *mockReconcileRepo) MarkResolved(context.Context, string, time.Time) error { return nil }
func (m *mockReconcileRepo) RecordFailure(context.Context, string, string) error   { return nil }
func (m *mockReconcileRepo) CountPending(context.Context) (int, error)             { return len(m.tasks), nil }

func (m *mockReconcileRepo) kinds() []model.ReconcileKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ReconcileKind, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Kind)
	}
	return out
}

// mockMailer は送信されたリンクを保持する。
type mockMailer struct {
	sent []string
	err  error
}

func (m *mockMailer) SendPasswordReset(_ context.Context, to, link string) error {
	m.sent = append(m.sent, to+" "+link)
	return m.err
}

// mockMetrics は記録回数を数える。
type mockMetrics struct {
	mu       sync.Mutex
	signIns  map[string]int
	upstream map[string]int
	partial  map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{signIns: map[string]int{}, upstream: map[string]int{}, partial: map[string]int{}}
}

func (m *mockMetrics) RecordGateDecision(string) {}
func (m *mockMetrics) RecordSignIn(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signIns[result]++
}
func (m *mockMetrics) RecordUpstreamFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upstream[op]++
}
func (m *mockMetrics) RecordPartialFailure(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partial[op]++
}
func (m *mockMetrics) RecordReconcile(string, string) {}
func (m *mockMetrics) RecordKeyRotation(string)       {}
func (m *mockMetrics) RecordHTTPStatus(int)           {}

var errConnRefused = errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")

type adapterEnv struct {
	adapter  *Adapter
	idp      *mockIDP
	profiles *mockProfileRepo
	tasks    *mockReconcileRepo
	mailer   *mockMailer
	metrics  *mockMetrics
}

func newAdapterEnv() *adapterEnv {
	env := &adapterEnv{
		idp:      newMockIDP(),
		profiles: newMockProfileRepo(),
		tasks:    &mockReconcileRepo{},
		mailer:   &mockMailer{},
		metrics:  newMockMetrics(),
	}
	caller := NewCaller(time.Second, env.metrics)
	caller.backoff = time.Millisecond
	env.adapter = NewAdapter(env.idp, env.profiles, env.tasks, env.mailer, caller, "https://example.com/")
	return env
}
