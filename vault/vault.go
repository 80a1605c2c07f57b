// Package vault protects the ingestion API token at rest.
//
// The token is stored as a base64 blob produced by a Protector. On Windows
// the blob is bound to the current user through DPAPI; elsewhere it is
// sealed with XChaCha20-Poly1305 under a random key kept in a 0600 key
// file. Decryption never fails loudly: any problem yields an empty string,
// which callers treat as "no credential".
package vault

import (
	"encoding/base64"

	"github.com/awnumar/memguard"

	"github.com/FadeVT/Frostband/log"
)

// Protector seals and opens secrets. The blob format is owned by the
// implementation and is not versioned.
type Protector interface {
	Name() string
	Protect(plaintext []byte) ([]byte, error)
	Unprotect(blob []byte) ([]byte, error)
}

// Detect selects the protector for this machine: the platform secret
// store when it is usable, otherwise a key file at keyPath.
func Detect(keyPath string) Protector {
	if p := platformProtector(); p != nil {
		return p
	}
	return NewKeyFile(keyPath)
}

// Vault encrypts and decrypts credential strings.
type Vault struct {
	protector Protector
	logger    *log.Logger
}

// New creates a Vault. A nil logger discards output.
func New(protector Protector, logger *log.Logger) *Vault {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Vault{protector: protector, logger: logger.With("vault")}
}

// Protector returns the protector selected for this vault.
func (v *Vault) Protector() Protector { return v.protector }

// Encrypt returns the base64 blob for plaintext. The empty string maps to
// the empty string, and a protector failure is logged and also yields "".
func (v *Vault) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	blob, err := v.protector.Protect([]byte(plaintext))
	if err != nil {
		v.logger.Error("encrypt failed", map[string]any{"protector": v.protector.Name(), "error": err.Error()})
		return ""
	}
	return base64.StdEncoding.EncodeToString(blob)
}

// Decrypt returns the plaintext for blob, or "" on any failure.
func (v *Vault) Decrypt(blob string) string {
	buf := v.open(blob)
	if buf == nil {
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}

// Available reports whether blob decrypts to a non-empty secret.
func (v *Vault) Available(blob string) bool {
	buf := v.open(blob)
	if buf == nil {
		return false
	}
	buf.Destroy()
	return true
}

// open decrypts blob into locked memory. It returns nil for empty or
// undecryptable blobs and recovers from protector panics.
func (v *Vault) open(blob string) (buf *memguard.LockedBuffer) {
	if blob == "" {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("decrypt panicked", map[string]any{"panic": r})
			buf = nil
		}
	}()

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		v.logger.Warn("credential blob is not base64", nil)
		return nil
	}
	plaintext, err := v.protector.Unprotect(raw)
	if err != nil {
		v.logger.Warn("decrypt failed", map[string]any{"protector": v.protector.Name(), "error": err.Error()})
		return nil
	}
	if len(plaintext) == 0 {
		return nil
	}
	// NewBufferFromBytes wipes plaintext after copying it.
	return memguard.NewBufferFromBytes(plaintext)
}
