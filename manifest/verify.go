package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/FadeVT/Frostband/iox"
)

// Failure prefixes used in verification reports.
const (
	FailMissing  = "MISSING: "
	FailMismatch = "MISMATCH: "
)

// HashFile returns the lowercase hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer iox.DiscardClose(f)

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify hashes every entry under localDir and reports one line per bad
// entry, in manifest order: "MISSING: <path>" when the file is absent and
// "MISMATCH: <path>" when its digest differs or it cannot be read. An
// empty result means every entry verified.
func Verify(localDir string, entries []Entry) []string {
	var failures []string
	for _, e := range entries {
		local := filepath.Join(localDir, filepath.FromSlash(e.Path))
		got, err := HashFile(local)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			failures = append(failures, FailMissing+e.Path)
		case err != nil:
			failures = append(failures, FailMismatch+e.Path)
		case !strings.EqualFold(got, e.Hash):
			failures = append(failures, FailMismatch+e.Path)
		}
	}
	return failures
}

// ParseFile reads and parses a manifest file.
func ParseFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(string(data)), nil
}
