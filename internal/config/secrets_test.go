package config

import (
	"errors"
	"testing"
)

type fakeDecryptor struct {
	values map[string]string
	err    error
}

func (d *fakeDecryptor) DecryptString(ciphertext string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	plain, ok := d.values[ciphertext]
	if !ok {
		return "", errors.New("unknown ciphertext")
	}
	return plain, nil
}

func TestIsEncrypted(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"ENC(abc123)", true},
		{"ENC()", true},
		{"plaintext", false},
		{"ENC(unclosed", false},
		{"enc(abc)", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := IsEncrypted(tc.value); got != tc.want {
			t.Errorf("IsEncrypted(%q) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap("cipherbytes")
	if wrapped != "ENC(cipherbytes)" {
		t.Errorf("expected 'ENC(cipherbytes)', got '%s'", wrapped)
	}
	if !IsEncrypted(wrapped) {
		t.Error("wrapped value should report as encrypted")
	}
	if got := Unwrap(wrapped); got != "cipherbytes" {
		t.Errorf("expected 'cipherbytes', got '%s'", got)
	}
}

func TestResolveSecrets(t *testing.T) {
	cfg := Default()
	cfg.Archive.Passphrase = "ENC(pp)"
	cfg.Notify.Gotify.Token = "ENC(gt)"
	cfg.Storage.S3.SecretKey = "plain-secret"

	d := &fakeDecryptor{values: map[string]string{
		"pp": "real-passphrase",
		"gt": "real-token",
	}}

	if err := cfg.ResolveSecrets(d); err != nil {
		t.Fatalf("ResolveSecrets failed: %v", err)
	}

	if cfg.Archive.Passphrase != "real-passphrase" {
		t.Errorf("expected decrypted passphrase, got '%s'", cfg.Archive.Passphrase)
	}
	if cfg.Notify.Gotify.Token != "real-token" {
		t.Errorf("expected decrypted token, got '%s'", cfg.Notify.Gotify.Token)
	}
	if cfg.Storage.S3.SecretKey != "plain-secret" {
		t.Errorf("unwrapped value must pass through, got '%s'", cfg.Storage.S3.SecretKey)
	}
}

func TestResolveSecrets_DecryptError(t *testing.T) {
	cfg := Default()
	cfg.Archive.Passphrase = "ENC(bad)"

	d := &fakeDecryptor{err: errors.New("cipher failure")}
	if err := cfg.ResolveSecrets(d); err == nil {
		t.Error("expected error when decryption fails")
	}
}
