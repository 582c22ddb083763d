// Package testutil provides shared fixtures for the provider's tests:
// a seeded in-memory store, a token manager on a cached test key, and
// ready-made clients and users.
package testutil

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/helix-auth/helix/jwt"
	"github.com/helix-auth/helix/storage"
	"github.com/helix-auth/helix/storage/memory"
)

// TestIssuer is the issuer URL used across tests.
const TestIssuer = "https://auth.example.com"

// TestClientSecret is the plaintext secret of seeded confidential clients.
const TestClientSecret = "test-client-secret"

// TestUserPassword is the plaintext password of seeded users.
const TestUserPassword = "correct horse battery staple"

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

// TestKey returns a process-wide RSA key so each test does not pay for
// key generation.
func TestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey
}

// NewStore returns an in-memory store that stops its sweeper on cleanup.
func NewStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.NewWithInterval(time.Hour)
	t.Cleanup(s.Stop)
	return s
}

// NewTokenManager returns a token manager signing with the shared test key.
func NewTokenManager(t *testing.T) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(TestKey(t), TestIssuer, nil)
	if err != nil {
		t.Fatalf("failed to build token manager: %v", err)
	}
	return m
}

// HashSecret bcrypt-hashes a plaintext at the minimum cost, which is what
// tests want: correct by construction, fast to verify.
func HashSecret(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	return string(hash)
}

// SeedConfidentialClient stores and returns a confidential client that is
// allowed every grant and response type.
func SeedConfidentialClient(t *testing.T, store storage.ClientStore) *storage.Client {
	t.Helper()
	client := &storage.Client{
		ClientID:     "test-client",
		SecretHash:   HashSecret(t, TestClientSecret),
		ClientName:   "Test Client",
		RedirectURIs: []string{"https://rp.example.com/callback"},
		Scopes:       []string{"openid", "profile", "email"},
		CreatedAt:    time.Now(),
	}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	return client
}

// SeedPKCEClient stores and returns a public client that requires PKCE.
func SeedPKCEClient(t *testing.T, store storage.ClientStore) *storage.Client {
	t.Helper()
	client := &storage.Client{
		ClientID:     "test-pkce-client",
		ClientName:   "Test PKCE Client",
		RedirectURIs: []string{"https://native.example.com/callback"},
		Scopes:       []string{"openid", "profile"},
		RequirePKCE:  true,
		CreatedAt:    time.Now(),
	}
	if err := store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("failed to seed client: %v", err)
	}
	return client
}

// SeedUser stores and returns a user with profile and email claims.
func SeedUser(t *testing.T, store storage.UserStore) *storage.User {
	t.Helper()
	user := &storage.User{
		ID:           "test-user-1",
		Username:     "alice",
		PasswordHash: HashSecret(t, TestUserPassword),
		Claims: map[string]any{
			"name":  "Alice Liddell",
			"email": "alice@example.com",
		},
		Groups: []string{"staff"},
		Roles:  []string{"user"},
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}
