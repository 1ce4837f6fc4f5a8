// Cinelog - Watch History Sync and Library Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinelog

package auth

import (
	"encoding/base64"
	"strings"
	"testing"
)

func newTestEncryptor(t *testing.T) *TokenEncryptor {
	t.Helper()
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateEncryptionKey: %v", err)
	}
	enc, err := NewTokenEncryptor(key)
	if err != nil {
		t.Fatalf("NewTokenEncryptor: %v", err)
	}
	return enc
}

func TestTokenEncryptor_RoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "access token", plaintext: "simkl-access-token-abc123"},
		{name: "empty string", plaintext: ""},
		{name: "unicode", plaintext: "tökén-ünïcode"},
		{name: "long value", plaintext: strings.Repeat("x", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			if tt.plaintext != "" && ciphertext == tt.plaintext {
				t.Error("ciphertext equals plaintext")
			}

			decrypted, err := enc.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if decrypted != tt.plaintext {
				t.Errorf("round trip mismatch: got %q, want %q", decrypted, tt.plaintext)
			}
		})
	}
}

func TestTokenEncryptor_NoncesUnique(t *testing.T) {
	enc := newTestEncryptor(t)

	a, err := enc.Encrypt("same-plaintext")
	if err != nil {
		t.Fatal(err)
	}
	b, err := enc.Encrypt("same-plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two encryptions of the same plaintext produced identical ciphertext")
	}
}

func TestTokenEncryptor_TamperedCiphertext(t *testing.T) {
	enc := newTestEncryptor(t)

	ciphertext, err := enc.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ciphertext)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := enc.Decrypt(tampered); err == nil {
		t.Error("expected error decrypting tampered ciphertext")
	}
}

func TestTokenEncryptor_InvalidInputs(t *testing.T) {
	enc := newTestEncryptor(t)

	tests := []struct {
		name       string
		ciphertext string
	}{
		{name: "not base64", ciphertext: "!!!not-base64!!!"},
		{name: "too short", ciphertext: base64.StdEncoding.EncodeToString([]byte("short"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Decrypt(tt.ciphertext); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestTokenEncryptor_Disabled(t *testing.T) {
	enc, err := NewTokenEncryptor("")
	if err != nil {
		t.Fatalf("NewTokenEncryptor(\"\") should not error: %v", err)
	}
	if enc != nil {
		t.Fatal("expected nil encryptor when key is empty")
	}
	if enc.IsEnabled() {
		t.Error("nil encryptor should report disabled")
	}

	// A nil encryptor passes values through unchanged.
	out, err := enc.Encrypt("plaintext")
	if err != nil || out != "plaintext" {
		t.Errorf("Encrypt on nil = %q, %v; want passthrough", out, err)
	}
}

func TestNewTokenEncryptor_ShortKey(t *testing.T) {
	short := base64.StdEncoding.EncodeToString([]byte("tooshort"))
	if _, err := NewTokenEncryptor(short); err == nil {
		t.Error("expected error for key under 16 bytes")
	}
}
