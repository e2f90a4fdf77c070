// Package vault seals remote-account passwords at rest with AES-GCM under a
// key derived from the operator's master key.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// EnvKey names the environment variable that overrides the configured key.
const EnvKey = "CHECKTIME_ENCRYPTION_KEY"

const (
	kdfSalt       = "checktime_salt"
	kdfIterations = 100000
	keyLen        = 32
)

var (
	ErrNoKey      = errors.New("vault: encryption key is not set")
	ErrCiphertext = errors.New("vault: decryption failed (wrong key or tampered data)")
)

type Vault struct {
	aead cipher.AEAD
}

// New derives the AES-256 key from master.
func New(master string) (*Vault, error) {
	if strings.TrimSpace(master) == "" {
		return nil, ErrNoKey
	}
	key := pbkdf2.Key([]byte(master), []byte(kdfSalt), kdfIterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: gcm}, nil
}

// FromEnv prefers CHECKTIME_ENCRYPTION_KEY and falls back to configured.
func FromEnv(configured string) (*Vault, error) {
	if v := strings.TrimSpace(os.Getenv(EnvKey)); v != "" {
		return New(v)
	}
	return New(configured)
}

// Seal encrypts plaintext and returns hex(nonce || ciphertext). The empty
// string seals to itself.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return hex.EncodeToString(v.aead.Seal(nonce, nonce, []byte(plaintext), nil)), nil
}

func (v *Vault) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := hex.DecodeString(strings.TrimSpace(sealed))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	n := v.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("%w: ciphertext too short", ErrCiphertext)
	}
	out, err := v.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(out), nil
}
