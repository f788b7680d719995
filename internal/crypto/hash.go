package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the SHA-256 hex digest of data. Used for cheap
// content-equality comparisons, not for anything security-sensitive.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// HashPassword returns the authentication hash sent to the server:
// SHA256(password + "|" + userID). The raw password never leaves the client.
func HashPassword(password, userID string) string {
	return Hash(password + "|" + userID)
}
