package crypto

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

const (
	masterIterations = 200_000
	blobIterations   = 100_000
	keyLen           = 32 // 256-bit
	saltLen          = 16
)

// masterSalt is the fixed application-wide salt for master key derivation.
// Every device derives the same master key from the same password, which is
// what makes a blob written on one device decryptable on another.
var masterSalt = []byte("goalsync-master-key-derivation-salt-v1")

// DeriveMasterKey derives the 256-bit master key from a password using
// PBKDF2-HMAC-SHA256 with the fixed application salt. The master key is
// never used directly as a cipher key; see DeriveEncryptionKey.
func DeriveMasterKey(password string) []byte {
	return pbkdf2.Key([]byte(password), masterSalt, masterIterations, keyLen, sha256.New)
}

// DeriveEncryptionKey derives a per-blob AES-256-GCM key from the master key
// and a per-encryption random salt. Fewer iterations than the master pass:
// this runs on every sync, while the master derivation runs once per login.
func DeriveEncryptionKey(masterKey, salt []byte) []byte {
	return pbkdf2.Key(masterKey, salt, blobIterations, keyLen, sha256.New)
}

// GenerateSalt returns 16 bytes of cryptographically secure random data.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}
