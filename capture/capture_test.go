package capture

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/FadeVT/Frostband/bundle"
)

func write(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "b.wiglecsv", "bb")
	write(t, dir, "nested/a.wiglecsv", "a")
	write(t, dir, "notes.txt", "ignored")
	write(t, dir, "2024-05-01.zip", "zip")

	got, err := List(dir)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var names []string
	for _, a := range got {
		names = append(names, a.Name)
	}
	if want := []string{"b.wiglecsv", "a.wiglecsv"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v (sorted by path)", names, want)
	}
	if got[0].Size != 2 {
		t.Errorf("Size = %d, want 2", got[0].Size)
	}
}

func TestList_MissingDir(t *testing.T) {
	got, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(got) != 0 {
		t.Errorf("List() = %v, %v", got, err)
	}
}

func TestSummarize(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.wiglecsv", "1234")
	write(t, dir, "x/b.wiglecsv", "56")
	write(t, dir, "2024-05-01.zip", "zipzip")

	s, err := Summarize(dir)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	want := Summary{Files: 2, Bytes: 6, Archives: 1, ArchiveBytes: 6}
	if s != want {
		t.Errorf("Summarize() = %+v, want %+v", s, want)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.wiglecsv", "a")
	gone := filepath.Join(dir, "gone.wiglecsv")

	if _, err := Delete([]string{a}, false); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("Delete(unconfirmed) error = %v", err)
	}
	if _, err := os.Stat(a); err != nil {
		t.Fatal("unconfirmed delete removed a file")
	}

	deleted, err := Delete([]string{a, gone}, true)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("deleted = %v", deleted)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Error("file still present")
	}
}

func TestArchive(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.wiglecsv", "alpha")
	b := write(t, dir, "sub/b.wiglecsv", "bravo")
	missing := filepath.Join(dir, "missing.wiglecsv")
	now := time.Date(2024, 5, 1, 22, 30, 0, 0, time.Local)

	res, err := Archive(dir, []string{a, b, missing}, now, false)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if want := filepath.Join(dir, "2024-05-01.zip"); res.Path != want {
		t.Errorf("Path = %q, want %q", res.Path, want)
	}
	if len(res.Archived) != 2 || len(res.RemoveErrors) != 0 {
		t.Errorf("result = %+v", res)
	}

	names, err := bundle.ZipEntries(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	if want := []string{"a.wiglecsv", "sub/b.wiglecsv"}; !reflect.DeepEqual(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s not removed after archiving", p)
		}
	}
}

func TestArchive_SameBaseNameInSubdirs(t *testing.T) {
	dir := t.TempDir()
	x1 := write(t, dir, "day1/x.wiglecsv", "first")
	x2 := write(t, dir, "day2/x.wiglecsv", "second")
	now := time.Date(2024, 5, 2, 8, 0, 0, 0, time.Local)

	res, err := Archive(dir, []string{x1, x2}, now, false)
	if err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	names, err := bundle.ZipEntries(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	if want := []string{"day1/x.wiglecsv", "day2/x.wiglecsv"}; !reflect.DeepEqual(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}
}

func TestArchive_CollidingNamesKeepOriginals(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	x1 := write(t, outside, "a/x.wiglecsv", "first")
	x2 := write(t, outside, "b/x.wiglecsv", "second")
	now := time.Date(2024, 5, 3, 8, 0, 0, 0, time.Local)

	_, err := Archive(dir, []string{x1, x2}, now, false)
	if !errors.Is(err, bundle.ErrDuplicateEntry) {
		t.Fatalf("Archive() error = %v, want ErrDuplicateEntry", err)
	}
	for _, p := range []string{x1, x2} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed after a refused archive", p)
		}
	}
	if _, err := os.Stat(ArchivePath(dir, now)); !os.IsNotExist(err) {
		t.Error("archive written despite colliding names")
	}
}

func TestArchive_Overwrite(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.Local)
	write(t, dir, "2024-05-01.zip", "old")
	a := write(t, dir, "a.wiglecsv", "alpha")

	if _, err := Archive(dir, []string{a}, now, false); !errors.Is(err, ErrArchiveExists) {
		t.Fatalf("Archive() error = %v, want ErrArchiveExists", err)
	}
	if _, err := os.Stat(a); err != nil {
		t.Fatal("refused archive removed the source")
	}

	if _, err := Archive(dir, []string{a}, now, true); err != nil {
		t.Fatalf("Archive(overwrite) error = %v", err)
	}
	names, err := bundle.ZipEntries(filepath.Join(dir, "2024-05-01.zip"))
	if err != nil || !reflect.DeepEqual(names, []string{"a.wiglecsv"}) {
		t.Errorf("entries = %v, %v", names, err)
	}
}

func TestArchive_NothingToArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := Archive(dir, []string{filepath.Join(dir, "x.wiglecsv")}, time.Now(), false)
	if err == nil {
		t.Fatal("Archive() expected error")
	}
	if _, statErr := os.Stat(ArchivePath(dir, time.Now())); !os.IsNotExist(statErr) {
		t.Error("empty archive written")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatBytes(tt.n); got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}
