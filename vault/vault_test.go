package vault

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func newTestVault(t *testing.T) (*Vault, string) {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "Frostband", "frostband.key")
	return New(NewKeyFile(keyPath), nil), keyPath
}

func TestVault_RoundTrip(t *testing.T) {
	v, _ := newTestVault(t)

	for _, secret := range []string{"a", "0123456789abcdef0123456789abcdef", "päss wörd ✓"} {
		blob := v.Encrypt(secret)
		if blob == "" {
			t.Fatalf("Encrypt(%q) returned empty blob", secret)
		}
		if blob == secret {
			t.Fatalf("Encrypt(%q) returned plaintext", secret)
		}
		if _, err := base64.StdEncoding.DecodeString(blob); err != nil {
			t.Errorf("blob is not base64: %v", err)
		}
		if got := v.Decrypt(blob); got != secret {
			t.Errorf("Decrypt(Encrypt(%q)) = %q", secret, got)
		}
	}
}

func TestVault_EmptyString(t *testing.T) {
	v, keyPath := newTestVault(t)
	if got := v.Encrypt(""); got != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty", got)
	}
	if got := v.Decrypt(""); got != "" {
		t.Errorf("Decrypt(\"\") = %q, want empty", got)
	}
	if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
		t.Error("key file created without any encryption")
	}
}

func TestVault_NondeterministicBlobs(t *testing.T) {
	v, _ := newTestVault(t)
	if v.Encrypt("token") == v.Encrypt("token") {
		t.Error("two encryptions produced the same blob; nonce not random")
	}
}

func TestVault_DecryptFailuresYieldEmpty(t *testing.T) {
	v, _ := newTestVault(t)
	valid := v.Encrypt("token")

	raw, _ := base64.StdEncoding.DecodeString(valid)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name string
		blob string
	}{
		{"not base64", "%%%not-base64%%%"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("short"))},
		{"tampered", tampered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.Decrypt(tt.blob); got != "" {
				t.Errorf("Decrypt() = %q, want empty", got)
			}
			if v.Available(tt.blob) {
				t.Error("Available() = true, want false")
			}
		})
	}
}

func TestKeyFile_CreatedOwnerOnlyAndReused(t *testing.T) {
	v, keyPath := newTestVault(t)
	blob := v.Encrypt("token")

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if info.Size() != KeySize {
		t.Errorf("key size = %d, want %d", info.Size(), KeySize)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %o, want 600", info.Mode().Perm())
	}

	// A fresh vault over the same key file opens the blob.
	again := New(NewKeyFile(keyPath), nil)
	if got := again.Decrypt(blob); got != "token" {
		t.Errorf("Decrypt with reloaded key = %q, want token", got)
	}
}

func TestKeyFile_LostKeyInvalidatesBlob(t *testing.T) {
	v, keyPath := newTestVault(t)
	blob := v.Encrypt("token")

	if err := os.Remove(keyPath); err != nil {
		t.Fatal(err)
	}
	fresh := New(NewKeyFile(keyPath), nil)
	if got := fresh.Decrypt(blob); got != "" {
		t.Errorf("Decrypt after key loss = %q, want empty", got)
	}
	if _, err := os.Stat(keyPath); !os.IsNotExist(err) {
		t.Error("Decrypt must not create a key file")
	}

	// A new key is generated on the next encryption and old blobs stay dead.
	_ = fresh.Encrypt("other")
	if got := New(NewKeyFile(keyPath), nil).Decrypt(blob); got != "" {
		t.Errorf("old blob opened under new key: %q", got)
	}
}

func TestKeyFile_CorruptKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "frostband.key")
	if err := os.WriteFile(keyPath, []byte("too short"), 0o600); err != nil {
		t.Fatal(err)
	}
	v := New(NewKeyFile(keyPath), nil)
	if got := v.Encrypt("token"); got != "" {
		t.Errorf("Encrypt with corrupt key = %q, want empty", got)
	}
}

type panickyProtector struct{}

func (panickyProtector) Name() string { return "panicky" }

func (panickyProtector) Protect([]byte) ([]byte, error) { return []byte("x"), nil }

func (panickyProtector) Unprotect([]byte) ([]byte, error) { panic("boom") }

func TestVault_DecryptRecoversPanic(t *testing.T) {
	v := New(panickyProtector{}, nil)
	if got := v.Decrypt(base64.StdEncoding.EncodeToString([]byte("blob"))); got != "" {
		t.Errorf("Decrypt() = %q, want empty", got)
	}
}

func TestBasicCredentials(t *testing.T) {
	v, _ := newTestVault(t)
	creds := &BasicCredentials{Name: "AID123", Blob: v.Encrypt("s3cret"), Vault: v}

	var gotName, gotToken string
	err := creds.Basic(func(name, token string) error {
		gotName = name
		// token is wiped after the callback returns.
		gotToken = strings.Clone(token)
		return nil
	})
	if err != nil {
		t.Fatalf("Basic() error = %v", err)
	}
	if gotName != "AID123" || gotToken != "s3cret" {
		t.Errorf("Basic() gave %q/%q", gotName, gotToken)
	}

	sentinel := errors.New("upload failed")
	if err := creds.Basic(func(string, string) error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("Basic() error = %v, want callback error", err)
	}

	missing := &BasicCredentials{Name: "AID123", Vault: v}
	if err := missing.Basic(func(string, string) error { return nil }); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Basic() without blob = %v, want ErrNoCredential", err)
	}
}
