package jwtutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestParseAccessToken_RoundTrip(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	token, err := GenerateAccessToken(NewClaims("user-1", "admin", time.Minute), key)
	if err != nil {
		t.Fatalf("GenerateAccessToken returned error: %v", err)
	}

	claims, err := ParseAccessToken(token, &key.PublicKey)
	if err != nil {
		t.Fatalf("ParseAccessToken returned error: %v", err)
	}
	if claims.UserID != "user-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseAccessToken_RejectsExpiredAndForeignKeys(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	expired, err := GenerateAccessToken(NewClaims("user-1", "admin", -time.Minute), key)
	if err != nil {
		t.Fatalf("GenerateAccessToken returned error: %v", err)
	}
	if _, err := ParseAccessToken(expired, &key.PublicKey); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	valid, err := GenerateAccessToken(NewClaims("user-1", "admin", time.Minute), key)
	if err != nil {
		t.Fatalf("GenerateAccessToken returned error: %v", err)
	}
	other := newTestKey(t)
	if _, err := ParseAccessToken(valid, &other.PublicKey); err == nil {
		t.Fatal("expected token signed by another key to be rejected")
	}
}

func TestLoadPublicKey(t *testing.T) {
	t.Parallel()

	key := newTestKey(t)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	if _, err := LoadPublicKey(string(pemBytes), ""); err != nil {
		t.Fatalf("inline pem: %v", err)
	}

	path := filepath.Join(t.TempDir(), "jwt.pub")
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	loaded, err := LoadPublicKey("", path)
	if err != nil {
		t.Fatalf("file pem: %v", err)
	}
	if loaded.N.Cmp(key.PublicKey.N) != 0 {
		t.Fatal("loaded key does not match")
	}

	if _, err := LoadPublicKey("", ""); err == nil {
		t.Fatal("expected error when no key is configured")
	}
}
