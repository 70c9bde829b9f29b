package database

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// Camera passwords are stored AES-256-GCM encrypted. The same
// CAMERA_ENCRYPTION_KEY must be shared with whatever system writes
// camera records.

func gcmFromKey(key string) (cipher.AEAD, error) {
	if key == "" {
		return nil, fmt.Errorf("camera encryption key is not set")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// EncryptPassword encrypts a camera password for storage.
func EncryptPassword(key, plaintext string) (string, error) {
	gcm, err := gcmFromKey(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptPassword decrypts a stored camera password.
func DecryptPassword(key, encrypted string) (string, error) {
	gcm, err := gcmFromKey(key)
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("invalid encrypted password encoding: %v", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("encrypted password too short")
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt camera password: %v", err)
	}
	return string(plaintext), nil
}
