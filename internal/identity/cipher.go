package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const cipherPrefixV1 = "v1:"

// KeyCipher は署名鍵の秘密鍵をAES-256-GCMで暗号化する。
// 鍵はKEY_ENCRYPTION_SECRETからHKDF-SHA256で導出する。
type KeyCipher struct {
	aead cipher.AEAD
}

// NewKeyCipher はsecretから暗号鍵を導出してKeyCipherを生成する。
func NewKeyCipher(secret string) (*KeyCipher, error) {
	if secret == "" {
		return nil, errors.New("key encryption secret is empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("portfolio signing keys")), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &KeyCipher{aead: aead}, nil
}

// Encrypt は平文をnonce||ciphertextのbase64にして"v1:"を付けて返す。
func (c *KeyCipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return cipherPrefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt はEncryptの出力を復号する。
func (c *KeyCipher) Decrypt(ciphertext string) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, cipherPrefixV1) {
		return nil, errors.New("unknown ciphertext version")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, cipherPrefixV1))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return nil, errors.New("ciphertext too short")
	}
	pt, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return pt, nil
}
