package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
)

const keyBits = 2048

// LoadOrGenerateKey returns the process signing key. If a PEM file exists at
// path it is parsed and reused; otherwise a fresh keypair is generated and
// written there with 0600 permissions. An empty path yields an ephemeral key.
func LoadOrGenerateKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		key, err := rsa.GenerateKey(rand.Reader, keyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		return key, nil
	}

	if data, err := os.ReadFile(path); err == nil {
		key, err := parsePrivateKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key %s: %w", path, err)
		}
		return key, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read signing key %s: %w", path, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist signing key %s: %w", path, err)
	}

	return key, nil
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key is not RSA")
	}
	return key, nil
}

// keyIDFor derives a stable key identifier from the public key so the kid
// survives process restarts with the same persisted key.
func keyIDFor(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(pub.N.Bytes())
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// JSONWebKey is a single RFC 7517 key entry.
type JSONWebKey struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the document served at /.well-known/jwks.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JWKS exports the verification key as an RFC 7517 key set.
func (m *Manager) JWKS() JSONWebKeySet {
	return JSONWebKeySet{
		Keys: []JSONWebKey{
			{
				Kty: "RSA",
				Use: "sig",
				Kid: m.keyID,
				Alg: "RS256",
				N:   base64.RawURLEncoding.EncodeToString(m.publicKey.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(m.publicKey.E)).Bytes()),
			},
		},
	}
}
