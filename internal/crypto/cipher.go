package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const nonceLen = 12 // 96-bit nonce for GCM

var (
	// ErrEncrypt is returned when sealing fails.
	ErrEncrypt = errors.New("encryption failed")
	// ErrDecrypt is returned for any decryption failure: wrong key,
	// truncated blob, or GCM authentication failure. The cause is
	// deliberately not distinguished to the caller.
	ErrDecrypt = errors.New("decryption failed")
)

// Encrypt encrypts plaintext under a key derived from masterKey and a fresh
// random salt, using AES-256-GCM with a random 12-byte nonce.
// Returns base64(salt || nonce || ciphertext+tag). Every call produces a
// fresh salt and nonce, so the derived key is never reused.
func Encrypt(plaintext string, masterKey []byte) (string, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", fmt.Errorf("%w: generating salt: %v", ErrEncrypt, err)
	}

	key := DeriveEncryptionKey(masterKey, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncrypt, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncrypt, err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncrypt, err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	// salt || nonce || ciphertext+tag
	blob := make([]byte, 0, saltLen+nonceLen+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. The salt and nonce are read back at fixed
// offsets and the per-blob key is re-derived from masterKey.
func Decrypt(blob string, masterKey []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(data) < saltLen+nonceLen+1 {
		return "", ErrDecrypt
	}

	salt := data[:saltLen]
	nonce := data[saltLen : saltLen+nonceLen]
	ciphertext := data[saltLen+nonceLen:]

	key := DeriveEncryptionKey(masterKey, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", ErrDecrypt
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecrypt
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
