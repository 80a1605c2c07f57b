package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size in bytes of the key file contents.
const KeySize = chacha20poly1305.KeySize

// KeyFile seals secrets with XChaCha20-Poly1305 under a random key stored
// in a file readable only by the owner. The blob layout is
//
//	[Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// Losing or replacing the key file invalidates every blob.
type KeyFile struct {
	path string

	mu  sync.Mutex
	key []byte
}

// NewKeyFile returns a protector backed by the key at path. The key is
// created on first use.
func NewKeyFile(path string) *KeyFile {
	return &KeyFile{path: path}
}

// Name identifies the protector in logs.
func (k *KeyFile) Name() string { return "keyfile" }

// Path returns the key file location.
func (k *KeyFile) Path() string { return k.path }

// Protect encrypts plaintext with a fresh random nonce.
func (k *KeyFile) Protect(plaintext []byte) ([]byte, error) {
	key, err := k.loadOrCreate()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}
	return aead.Seal(out, out[:chacha20poly1305.NonceSizeX], plaintext, nil), nil
}

// Unprotect authenticates and decrypts a blob produced by Protect.
func (k *KeyFile) Unprotect(blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("blob is %d bytes, minimum is %d", len(blob), chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead)
	}
	key, err := k.load()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, blob[:chacha20poly1305.NonceSizeX], blob[chacha20poly1305.NonceSizeX:], nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed (wrong key or tampered blob): %w", err)
	}
	return plaintext, nil
}

// load reads an existing key. A missing key is an error: decrypting never
// creates one.
func (k *KeyFile) load() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return k.key, nil
	}
	return k.readLocked()
}

func (k *KeyFile) loadOrCreate() ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return k.key, nil
	}

	key, err := k.readLocked()
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	// O_EXCL so a concurrently created key is never overwritten.
	f, err := os.OpenFile(k.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return k.readLocked()
		}
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(key); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close key file: %w", err)
	}
	k.key = key
	return key, nil
}

func (k *KeyFile) readLocked() ([]byte, error) {
	key, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key file %s is %d bytes, want %d", k.path, len(key), KeySize)
	}
	k.key = key
	return key, nil
}
