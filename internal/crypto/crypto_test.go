package crypto

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	k1 := DeriveMasterKey("hunter2hunter2")
	k2 := DeriveMasterKey("hunter2hunter2")

	if !bytes.Equal(k1, k2) {
		t.Fatal("same password should produce same master key")
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k1))
	}
}

func TestDeriveMasterKey_DifferentPasswords(t *testing.T) {
	k1 := DeriveMasterKey("password-one")
	k2 := DeriveMasterKey("password-two")

	if bytes.Equal(k1, k2) {
		t.Fatal("different passwords should produce different keys")
	}
}

func TestDeriveEncryptionKey_SaltDependent(t *testing.T) {
	master := DeriveMasterKey("hunter2hunter2")

	k1 := DeriveEncryptionKey(master, []byte("salt-aaaa-aaaa-aa"))
	k2 := DeriveEncryptionKey(master, []byte("salt-bbbb-bbbb-bb"))

	if bytes.Equal(k1, k2) {
		t.Fatal("different salts should produce different blob keys")
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k1))
	}
}

func TestEncryptDecrypt_Roundtrip(t *testing.T) {
	master := DeriveMasterKey("supersecure")
	plaintext := `{"version":1,"goalTargets":{"g1":40}}`

	blob, err := Encrypt(plaintext, master)
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decrypt(blob, master)
	if err != nil {
		t.Fatal(err)
	}
	if got != plaintext {
		t.Fatalf("expected %q, got %q", plaintext, got)
	}
}

func TestEncrypt_FreshSaltAndNonce(t *testing.T) {
	master := DeriveMasterKey("supersecure")

	b1, err := Encrypt("same content", master)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := Encrypt("same content", master)
	if err != nil {
		t.Fatal(err)
	}

	if b1 == b2 {
		t.Fatal("two encryptions of same plaintext should differ (random salt/nonce)")
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	master := DeriveMasterKey("supersecure")

	blob, err := Encrypt("secret settings", master)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := base64.StdEncoding.DecodeString(blob)

	// Flip one byte at every position: salt, nonce, ciphertext, tag.
	// Decryption must fail uniformly, never return corrupted plaintext.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0xff

		if _, err := Decrypt(base64.StdEncoding.EncodeToString(mutated), master); err == nil {
			t.Fatalf("expected failure after flipping byte %d", i)
		}
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	blob, err := Encrypt("secret", DeriveMasterKey("password-one"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Decrypt(blob, DeriveMasterKey("password-two")); err == nil {
		t.Fatal("expected error for wrong key")
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	master := DeriveMasterKey("supersecure")

	for _, blob := range []string{"", "not base64 at all!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := Decrypt(blob, master); err == nil {
			t.Fatalf("expected error for blob %q", blob)
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	h1 := Hash(`{"a":1}`)
	h2 := Hash(`{"a":1}`)

	if h1 != h2 {
		t.Fatal("same input should produce same hash")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
	if h1 == Hash(`{"a":2}`) {
		t.Fatal("different inputs should produce different hashes")
	}
}

func TestHashPassword_IncludesUserID(t *testing.T) {
	h1 := HashPassword("supersecure", "a@example.com")
	h2 := HashPassword("supersecure", "b@example.com")

	if h1 == h2 {
		t.Fatal("same password for different users should hash differently")
	}
	if strings.Contains(h1, "supersecure") {
		t.Fatal("hash must not contain the raw password")
	}
	if h1 != Hash("supersecure|a@example.com") {
		t.Fatal("password hash must be SHA256(password + \"|\" + userID)")
	}
}
