package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

// secretBox seals credential secrets with AES-GCM. The key lives next to the
// database with owner-only permissions; when keyPath is empty (in-memory
// databases) an ephemeral key is generated.
type secretBox struct {
	aead cipher.AEAD
}

func newSecretBox(keyPath string) (*secretBox, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &secretBox{aead: aead}, nil
}

func loadOrCreateKey(keyPath string) ([]byte, error) {
	if keyPath != "" {
		if key, err := os.ReadFile(keyPath); err == nil {
			if len(key) != 32 {
				return nil, fmt.Errorf("key file %s has %d bytes, want 32", keyPath, len(key))
			}
			return key, nil
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	if keyPath != "" {
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("writing key file: %w", err)
		}
	}
	return key, nil
}

// Seal encrypts a plaintext secret. The nonce is prepended to the ciphertext.
func (b *secretBox) Seal(plaintext string) ([]byte, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return b.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a sealed secret.
func (b *secretBox) Open(sealed []byte) (string, error) {
	if len(sealed) < b.aead.NonceSize() {
		return "", fmt.Errorf("sealed secret too short")
	}
	nonce, ciphertext := sealed[:b.aead.NonceSize()], sealed[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting secret: %w", err)
	}
	return string(plaintext), nil
}
