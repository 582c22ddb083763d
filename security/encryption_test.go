package security

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncryptorRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}

	plaintext := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if ciphertext == plaintext {
		t.Error("expected ciphertext to differ from plaintext")
	}

	decrypted, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestEncryptorDisabledPassthrough(t *testing.T) {
	enc, err := NewEncryptor(nil)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	if enc.IsEnabled() {
		t.Error("expected encryption to be disabled without a key")
	}

	out, err := enc.Encrypt("value")
	if err != nil || out != "value" {
		t.Errorf("expected passthrough, got %q, %v", out, err)
	}
}

func TestEncryptorRejectsBadKeySize(t *testing.T) {
	if _, err := NewEncryptor([]byte("too-short")); err == nil {
		t.Error("expected error for short key")
	}
}

func TestEncryptorRejectsTamperedCiphertext(t *testing.T) {
	key, _ := GenerateKey()
	enc, _ := NewEncryptor(key)

	ciphertext, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	tampered := strings.Replace(ciphertext, string(ciphertext[len(ciphertext)-2]), "0", 1)
	if tampered == ciphertext {
		tampered = "A" + ciphertext[1:]
	}
	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("expected tampered ciphertext to fail decryption")
	}
}

func TestKeyFromBase64RoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	decoded, err := KeyFromBase64(base64.StdEncoding.EncodeToString(key))
	if err != nil {
		t.Fatalf("KeyFromBase64 failed: %v", err)
	}
	if !bytes.Equal(decoded, key) {
		t.Error("expected key to round-trip through base64")
	}
}
