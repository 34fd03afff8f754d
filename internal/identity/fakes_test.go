package identity

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

const testSecret = "identity-test-secret-at-least-32-bytes"

// testClock はテストから進められる時計。
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// memAccounts はメモリ上のAccountRepository。
type memAccounts struct {
	mu      sync.Mutex
	byID    map[string]*model.Account
	findErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byID: map[string]*model.Account{}}
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	c.CustomClaims = copyClaims(a.CustomClaims)
	return &c
}

func (m *memAccounts) Create(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Email == strings.ToLower(a.Email) {
			return repository.ErrDuplicate
		}
	}
	m.byID[a.UID] = cloneAccount(a)
	return nil
}

func (m *memAccounts) FindByID(_ context.Context, uid string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	a, ok := m.byID[uid]
	if !ok {
		return nil, nil
	}
	return cloneAccount(a), nil
}

func (m *memAccounts) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, a := range m.byID {
		if a.Email == strings.ToLower(email) {
			return cloneAccount(a), nil
		}
	}
	return nil, nil
}

func (m *memAccounts) update(uid string, fn func(a *model.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[uid]
	if !ok {
		return repository.ErrNotFound
	}
	fn(a)
	return nil
}

func (m *memAccounts) UpdateClaims(_ context.Context, uid string, claims map[string]any) error {
	return m.update(uid, func(a *model.Account) { a.CustomClaims = copyClaims(claims) })
}

func (m *memAccounts) UpdatePassword(_ context.Context, uid, hash string, validAfter time.Time) error {
	return m.update(uid, func(a *model.Account) {
		a.PasswordHash = hash
		a.TokensValidAfter = validAfter
	})
}

func (m *memAccounts) UpdateDisplayName(_ context.Context, uid, name string) error {
	return m.update(uid, func(a *model.Account) { a.DisplayName = name })
}

func (m *memAccounts) RevokeTokens(_ context.Context, uid string, validAfter time.Time) error {
	return m.update(uid, func(a *model.Account) { a.TokensValidAfter = validAfter })
}

func (m *memAccounts) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[uid]; !ok {
		return repository.ErrNotFound
	}
	delete(m.byID, uid)
	return nil
}

func (m *memAccounts) setDisabled(uid string, disabled bool) {
	_ = m.update(uid, func(a *model.Account) { a.Disabled = disabled })
}

// memKeys はメモリ上のSigningKeyRepository。
type memKeys struct {
	mu      sync.Mutex
	keys    map[string]*model.SigningKey
	findErr error
	lookups int
}

func newMemKeys() *memKeys {
	return &memKeys{keys: map[string]*model.SigningKey{}}
}

func (m *memKeys) Create(_ context.Context, k *model.SigningKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *k
	m.keys[k.KID] = &c
	return nil
}

func (m *memKeys) FindByKID(_ context.Context, kid string) (*model.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.findErr != nil {
		return nil, m.findErr
	}
	k, ok := m.keys[kid]
	if !ok {
		return nil, nil
	}
	c := *k
	return &c, nil
}

func (m *memKeys) FindActive(_ context.Context) (*model.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []*model.SigningKey
	for _, k := range m.keys {
		if k.RetiredAt == nil && k.RevokedAt == nil {
			active = append(active, k)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
	c := *active[0]
	return &c, nil
}

func (m *memKeys) ListRetired(_ context.Context) ([]*model.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.SigningKey
	for _, k := range m.keys {
		if k.RetiredAt != nil && k.RevokedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memKeys) Retire(_ context.Context, kid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return repository.ErrNotFound
	}
	if k.RetiredAt == nil {
		k.RetiredAt = &at
	}
	return nil
}

func (m *memKeys) Revoke(_ context.Context, kid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[kid]
	if !ok {
		return repository.ErrNotFound
	}
	k.RevokedAt = &at
	if k.RetiredAt == nil {
		k.RetiredAt = &at
	}
	return nil
}

// memResets はメモリ上のPasswordResetRepository。
type memResets struct {
	mu     sync.Mutex
	resets map[string]*model.PasswordReset
}

func newMemResets() *memResets {
	return &memResets{resets: map[string]*model.PasswordReset{}}
}

func (m *memResets) Create(_ context.Context, r *model.PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *r
	m.resets[r.TokenHash] = &c
	return nil
}

func (m *memResets) Consume(_ context.Context, hash string, now time.Time) (*model.PasswordReset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resets[hash]
	if !ok || r.UsedAt != nil || !now.Before(r.ExpiresAt) {
		return nil, nil
	}
	r.UsedAt = &now
	c := *r
	return &c, nil
}

type testEnv struct {
	provider *Provider
	accounts *memAccounts
	keyRepo  *memKeys
	keys     *KeySet
	clock    *testClock
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cipher, err := NewKeyCipher(testSecret)
	if err != nil {
		t.Fatalf("NewKeyCipher: %v", err)
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		accounts: newMemAccounts(),
		keyRepo:  newMemKeys(),
		clock:    newTestClock(),
		redis:    mr,
	}
	env.keys = NewKeySet(env.keyRepo, cipher, time.Minute)
	env.provider = NewProvider(
		env.accounts, newMemResets(), env.keys, repository.NewRedisTokenLedger(client),
		Config{
			Issuer:             "https://portfolio.test",
			IDTokenTTL:         time.Hour,
			RecentSignInWindow: 5 * time.Minute,
			BcryptCost:         4,
		},
		WithClock(env.clock.Now),
	)
	return env
}

func (e *testEnv) createAccount(t *testing.T, email, password string, claims map[string]any) *model.Account {
	t.Helper()
	a, err := e.provider.CreateAccount(context.Background(), AccountInput{
		Email: email, Password: password, DisplayName: "Test", CustomClaims: claims,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func (e *testEnv) signIn(t *testing.T, email, password string) string {
	t.Helper()
	tok, err := e.provider.SignInWithPassword(context.Background(), email, password)
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}
	return tok
}

var errStoreDown = errors.New("connection refused")
