package bundle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/FadeVT/Frostband/iox"
)

// ErrDuplicateEntry is returned when two inputs would share a zip entry name.
var ErrDuplicateEntry = errors.New("duplicate archive entry")

// EntryName is the name a file at p gets inside a zip rooted at root: its
// slash-separated path relative to root, or its base name when p lies
// outside root.
func EntryName(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return filepath.Base(p)
	}
	return filepath.ToSlash(rel)
}

// WriteZip writes a deflate zip at dest holding each file in paths under
// its EntryName relative to root. Colliding names are rejected before
// anything is written. The archive is built in a temp file and renamed
// into place, so dest only appears once complete.
func WriteZip(dest, root string, paths []string) error {
	names := make([]string, len(paths))
	seen := make(map[string]string, len(paths))
	for i, p := range paths {
		name := EntryName(root, p)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s and %s both map to %s", ErrDuplicateEntry, prev, p, name)
		}
		seen[name] = p
		names[i] = name
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".zip-*")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = iox.RemoveQuiet(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	for i, p := range paths {
		if err := addZipFile(zw, p, names[i]); err != nil {
			iox.DiscardClose(zw)
			iox.DiscardClose(tmp)
			return err
		}
	}
	if err := zw.Close(); err != nil {
		iox.DiscardClose(tmp)
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	tmpName = ""
	return nil
}

func addZipFile(zw *zip.Writer, p, name string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	defer iox.DiscardClose(f)

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", p, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", p, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", p, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compress %s: %w", p, err)
	}
	return nil
}

// ZipEntries lists the names stored in the zip at path.
func ZipEntries(path string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(r)

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}
