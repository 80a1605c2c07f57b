// Package bundle reads and writes the archives Frostband moves around:
// gzip tarballs pulled from the device and dated zip bundles of local
// captures.
package bundle

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/FadeVT/Frostband/iox"
)

// ErrUnsafePath is returned for archive entries that would land outside
// the destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ExtractTarGz unpacks the gzip tarball at src into dest, overwriting
// existing files. Only directories and regular files are materialized;
// other entry types are skipped. It returns the slash-separated relative
// paths of the extracted files in archive order.
func ExtractTarGz(src, dest string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open bundle: %w", err)
	}
	defer iox.DiscardClose(f)

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer iox.DiscardClose(gz)

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	var extracted []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return extracted, nil
		}
		if err != nil {
			return extracted, fmt.Errorf("read tar entry: %w", err)
		}

		rel, target, err := safeTarget(dest, hdr.Name)
		if err != nil {
			return extracted, err
		}
		if rel == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return extracted, fmt.Errorf("create dir %s: %w", rel, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr); err != nil {
				return extracted, fmt.Errorf("extract %s: %w", rel, err)
			}
			extracted = append(extracted, rel)
		}
	}
}

// safeTarget maps an archive name to a path under dest.
func safeTarget(dest, name string) (string, string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	rel := strings.TrimPrefix(clean, "/")
	if strings.HasPrefix(name, "/") || strings.Contains("/"+name+"/", "/../") {
		return "", "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if rel == "" || rel == "." {
		return "", "", nil
	}
	return rel, filepath.Join(dest, filepath.FromSlash(rel)), nil
}

func writeEntry(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		iox.DiscardClose(out)
		return err
	}
	return out.Close()
}
