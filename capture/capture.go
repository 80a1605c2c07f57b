// Package capture manages pulled artifacts in the local capture directory:
// listing, deleting and archiving them into dated zip bundles.
package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/FadeVT/Frostband/bundle"
)

// DefaultPattern matches capture artifacts.
const DefaultPattern = "*.wiglecsv"

// ArchiveDateLayout names archive bundles by local date.
const ArchiveDateLayout = "2006-01-02"

// ErrNotConfirmed is returned by destructive operations the caller did not confirm.
var ErrNotConfirmed = errors.New("operation not confirmed")

// ErrArchiveExists is returned when today's archive exists and overwrite was not requested.
var ErrArchiveExists = errors.New("archive already exists")

// Artifact is one local capture file.
type Artifact struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List walks dir recursively and returns files matching DefaultPattern,
// sorted by path. A missing dir yields an empty list.
func List(dir string) ([]Artifact, error) {
	return ListPattern(dir, DefaultPattern)
}

// ListPattern is List with a caller-supplied glob for file names.
func ListPattern(dir, pattern string) ([]Artifact, error) {
	var out []Artifact
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil || !ok {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Artifact{Path: p, Name: d.Name(), Size: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Summary is an aggregate over the capture directory.
type Summary struct {
	Files        int   `json:"files"`
	Bytes        int64 `json:"bytes"`
	Archives     int   `json:"archives"`
	ArchiveBytes int64 `json:"archive_bytes"`
}

// Summarize counts capture artifacts and the zip archives directly under dir.
func Summarize(dir string) (Summary, error) {
	var s Summary
	arts, err := List(dir)
	if err != nil {
		return s, err
	}
	for _, a := range arts {
		s.Files++
		s.Bytes += a.Size
	}
	zips, err := filepath.Glob(filepath.Join(dir, "*.zip"))
	if err != nil {
		return s, err
	}
	for _, z := range zips {
		if info, err := os.Stat(z); err == nil {
			s.Archives++
			s.ArchiveBytes += info.Size()
		}
	}
	return s, nil
}

// Delete removes each path. It refuses to act unless confirmed. Files
// that are already gone count as deleted.
func Delete(paths []string, confirmed bool) ([]string, error) {
	if !confirmed {
		return nil, ErrNotConfirmed
	}
	var deleted []string
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, p)
	}
	return deleted, errors.Join(errs...)
}

// ArchivePath returns the bundle path Archive writes for now.
func ArchivePath(dir string, now time.Time) string {
	return filepath.Join(dir, now.Format(ArchiveDateLayout)+".zip")
}

// ArchiveResult describes a finished archive.
type ArchiveResult struct {
	Path     string   `json:"path"`
	Archived []string `json:"archived"`
	// RemoveErrors lists originals that were archived but could not be removed.
	RemoveErrors []string `json:"remove_errors,omitempty"`
}

// Archive bundles the existing files among paths into dir/YYYY-MM-DD.zip
// under their paths relative to dir, then removes the originals once the
// bundle is confirmed to hold every one of them. Archiving is
// destructive to the source set once the zip is written. An existing
// bundle is replaced only when overwrite is set.
func Archive(dir string, paths []string, now time.Time, overwrite bool) (ArchiveResult, error) {
	res := ArchiveResult{Path: ArchivePath(dir, now)}

	if _, err := os.Stat(res.Path); err == nil && !overwrite {
		return res, fmt.Errorf("%w: %s", ErrArchiveExists, filepath.Base(res.Path))
	}

	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			res.Archived = append(res.Archived, p)
		}
	}
	if len(res.Archived) == 0 {
		return res, errors.New("no files to archive")
	}

	if err := bundle.WriteZip(res.Path, dir, res.Archived); err != nil {
		return res, err
	}
	if err := checkArchive(res.Path, dir, res.Archived); err != nil {
		return res, err
	}

	for _, p := range res.Archived {
		if err := os.Remove(p); err != nil {
			res.RemoveErrors = append(res.RemoveErrors, fmt.Sprintf("%s: %v", filepath.Base(p), err))
		}
	}
	return res, nil
}

// checkArchive reopens the written bundle and confirms it lists an entry
// for every archived file.
func checkArchive(zipPath, dir string, paths []string) error {
	names, err := bundle.ZipEntries(zipPath)
	if err != nil {
		return fmt.Errorf("reopen archive: %w", err)
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, p := range paths {
		if !have[bundle.EntryName(dir, p)] {
			return fmt.Errorf("archive %s is missing %s; originals kept", filepath.Base(zipPath), p)
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit: "512 B", "1.5 KB", "2.0 GB".
func FormatBytes(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case n >= GB:
		return fmt.Sprintf("%.1f GB", float64(n)/GB)
	case n >= MB:
		return fmt.Sprintf("%.1f MB", float64(n)/MB)
	case n >= KB:
		return fmt.Sprintf("%.1f KB", float64(n)/KB)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
