package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hitoshi/portfolio/internal/model"
	"github.com/hitoshi/portfolio/internal/repository"
)

const (
	algES256         = "ES256"
	keyCacheCapacity = 64
)

// KeySet は署名鍵の生成・ローテーション・検証鍵のキャッシュを管理する。
// 検証鍵はKEY_CACHE_TTLの間だけキャッシュするため、別プロセスで失効した鍵も
// 最大でその期間が過ぎれば検証に使われなくなる。
type KeySet struct {
	repo   repository.SigningKeyRepository
	cipher *KeyCipher
	cache  *expirable.LRU[string, *ecdsa.PublicKey]
	now    func() time.Time

	// 同一プロセス内で鍵の同時生成を防ぐ
	mu sync.Mutex
}

// NewKeySet はKeySetを生成する。
func NewKeySet(repo repository.SigningKeyRepository, cipher *KeyCipher, cacheTTL time.Duration) *KeySet {
	return &KeySet{
		repo:   repo,
		cipher: cipher,
		cache:  expirable.NewLRU[string, *ecdsa.PublicKey](keyCacheCapacity, nil, cacheTTL),
		now:    time.Now,
	}
}

// Signer は署名に使う鍵のkidと秘密鍵を返す。
// 有効な鍵が1つもない場合は新しく生成する。
func (k *KeySet) Signer(ctx context.Context) (string, *ecdsa.PrivateKey, error) {
	active, err := k.repo.FindActive(ctx)
	if err != nil {
		return "", nil, err
	}
	if active == nil {
		k.mu.Lock()
		defer k.mu.Unlock()
		// ロック取得までに他のリクエストが生成しているかもしれない
		if active, err = k.repo.FindActive(ctx); err != nil {
			return "", nil, err
		}
		if active == nil {
			if active, err = k.generate(ctx); err != nil {
				return "", nil, err
			}
		}
	}

	priv, err := k.decodePrivate(active.PrivateKey)
	if err != nil {
		return "", nil, err
	}
	return active.KID, priv, nil
}

// VerificationKey はkidに対応する公開鍵を返す。失効済み・未知のkidはErrUnknownKey。
func (k *KeySet) VerificationKey(ctx context.Context, kid string) (*ecdsa.PublicKey, error) {
	if pub, ok := k.cache.Get(kid); ok {
		return pub, nil
	}

	sk, err := k.repo.FindByKID(ctx, kid)
	if err != nil {
		return nil, err
	}
	if sk == nil || sk.RevokedAt != nil {
		return nil, fmt.Errorf("kid %q: %w", kid, ErrUnknownKey)
	}

	pub, err := decodePublic(sk.PublicKey)
	if err != nil {
		return nil, err
	}
	k.cache.Add(kid, pub)
	return pub, nil
}

// Rotate は有効な鍵がinterval以上前に作られていれば新しい鍵を作り、古い鍵を退役させる。
// 新しい鍵を作った場合はそのkidを返す。
func (k *KeySet) Rotate(ctx context.Context, interval time.Duration) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	active, err := k.repo.FindActive(ctx)
	if err != nil {
		return "", err
	}
	now := k.now()
	if active != nil && now.Sub(active.CreatedAt) < interval {
		return "", nil
	}

	next, err := k.generate(ctx)
	if err != nil {
		return "", err
	}
	if active != nil {
		if err := k.repo.Retire(ctx, active.KID, now); err != nil {
			return next.KID, fmt.Errorf("failed to retire key %s: %w", active.KID, err)
		}
	}
	return next.KID, nil
}

// RevokeExpired は退役からmaxSessionAge以上経過した鍵を失効させる。
// その鍵で署名したセッションは既にすべて期限切れになっている。
func (k *KeySet) RevokeExpired(ctx context.Context, maxSessionAge time.Duration) ([]string, error) {
	retired, err := k.repo.ListRetired(ctx)
	if err != nil {
		return nil, err
	}

	now := k.now()
	var revoked []string
	var errs []error
	for _, sk := range retired {
		if sk.RetiredAt == nil || now.Sub(*sk.RetiredAt) < maxSessionAge {
			continue
		}
		if err := k.Revoke(ctx, sk.KID); err != nil {
			errs = append(errs, err)
			continue
		}
		revoked = append(revoked, sk.KID)
	}
	return revoked, errors.Join(errs...)
}

// Revoke は鍵を即時失効させ、このプロセスのキャッシュからも取り除く。
func (k *KeySet) Revoke(ctx context.Context, kid string) error {
	if err := k.repo.Revoke(ctx, kid, k.now()); err != nil {
		return fmt.Errorf("failed to revoke key %s: %w", kid, err)
	}
	k.cache.Remove(kid)
	return nil
}

func (k *KeySet) generate(ctx context.Context) (*model.SigningKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	encrypted, err := k.cipher.Encrypt(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	if err != nil {
		return nil, err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	sk := &model.SigningKey{
		KID:        uuid.NewString(),
		Algorithm:  algES256,
		PrivateKey: encrypted,
		PublicKey:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		CreatedAt:  k.now(),
	}
	if err := k.repo.Create(ctx, sk); err != nil {
		return nil, err
	}
	return sk, nil
}

func (k *KeySet) decodePrivate(encrypted string) (*ecdsa.PrivateKey, error) {
	pemBytes, err := k.cipher.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt signing key: %w", err)
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("invalid private key pem")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	priv, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key is not ECDSA")
	}
	return priv, nil
}

func decodePublic(pemText string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("invalid public key pem")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("verification key is not ECDSA")
	}
	return pub, nil
}
