package chat

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// SnapshotKeyEnv holds the optional at-rest key for persisted sessions.
const SnapshotKeyEnv = "MINDFULCHAT_SNAPSHOT_KEY"

const sealedPrefix = "gcm1:"

var errInvalidCiphertext = errors.New("invalid snapshot ciphertext")

// SnapshotCipher seals persisted snapshots with AES-GCM. A nil cipher
// stores plaintext.
type SnapshotCipher struct {
	aead cipher.AEAD
}

// NewSnapshotCipherFromEnv returns nil when the key is not configured.
func NewSnapshotCipherFromEnv() (*SnapshotCipher, error) {
	raw := strings.TrimSpace(os.Getenv(SnapshotKeyEnv))
	if raw == "" {
		return nil, nil
	}
	c, err := NewSnapshotCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SnapshotKeyEnv, err)
	}
	return c, nil
}

// NewSnapshotCipher accepts a 32-byte raw key or its base64 form.
func NewSnapshotCipher(raw string) (*SnapshotCipher, error) {
	key, err := decodeKey(raw)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SnapshotCipher{aead: aead}, nil
}

func decodeKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (c *SnapshotCipher) seal(plain []byte) (string, error) {
	if c == nil {
		return string(plain), nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	buf := append(nonce, c.aead.Seal(nil, nonce, plain, nil)...)
	return sealedPrefix + base64.StdEncoding.EncodeToString(buf), nil
}

// open returns the plaintext of stored. Unsealed values pass through so
// snapshots written before a key was configured still load.
func (c *SnapshotCipher) open(stored string) ([]byte, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return []byte(stored), nil
	}
	if c == nil {
		return nil, errors.New("sealed snapshot but no key configured")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return nil, errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return nil, errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, errInvalidCiphertext
	}
	return plain, nil
}
