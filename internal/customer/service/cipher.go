package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/smallbiznis/storefront/internal/customer/domain"
)

// envelope is the stored form of an encrypted profile field.
type envelope struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// fieldCipher seals profile fields with AES-256-GCM. The key is the SHA-256
// of the configured secret.
type fieldCipher struct {
	gcm cipher.AEAD
}

func newFieldCipher(secret string) (*fieldCipher, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, domain.ErrEncryptionKeyMissing
	}
	sum := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &fieldCipher{gcm: gcm}, nil
}

func (c *fieldCipher) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.gcm.Seal(nil, nonce, []byte(plain), nil)
	out, err := json.Marshal(envelope{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (c *fieldCipher) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	var env envelope
	if err := json.Unmarshal([]byte(stored), &env); err != nil || env.Version != 1 {
		return "", domain.ErrInvalidCiphertext
	}
	nonce, err := base64.RawStdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != c.gcm.NonceSize() {
		return "", domain.ErrInvalidCiphertext
	}
	sealed, err := base64.RawStdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", domain.ErrInvalidCiphertext
	}
	plain, err := c.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", domain.ErrInvalidCiphertext
	}
	return string(plain), nil
}
