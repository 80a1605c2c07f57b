package lode

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"captures", "captures", ""},
		{"captures/frostband", "captures", "frostband"},
		{"captures/a/b", "captures", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q", tt.in, b, p)
		}
	}
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name    string
		cfg     StoreConfig
		wantErr bool
	}{
		{"fs", StoreConfig{Backend: BackendFS, Path: t.TempDir()}, false},
		{"fs without path", StoreConfig{Backend: BackendFS}, true},
		{"memory", StoreConfig{Backend: BackendMemory}, false},
		{"s3 without bucket", StoreConfig{Backend: BackendS3}, true},
		{"unknown", StoreConfig{Backend: "gcs"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFactory(t.Context(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewFactory() error = %v, wantErr %v", err, tt.wantErr)
			}
			if f == nil {
				return
			}
			if _, err := f(); err != nil {
				t.Errorf("factory() error = %v", err)
			}
		})
	}
}

func TestMirror_PutFS(t *testing.T) {
	root := t.TempDir()
	factory, err := NewFactory(t.Context(), StoreConfig{Backend: BackendFS, Path: root})
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "2024-05-01.zip")
	if err := os.WriteFile(src, []byte("PK-bundle"), 0o644); err != nil {
		t.Fatal(err)
	}

	key, err := NewMirror(factory).Put(t.Context(), src)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "archives/2024-05-01.zip" {
		t.Errorf("key = %q", key)
	}
	got, err := os.ReadFile(filepath.Join(root, "archives", "2024-05-01.zip"))
	if err != nil || string(got) != "PK-bundle" {
		t.Errorf("mirrored file = %q, %v", got, err)
	}
}

func TestMirror_PutMissingFile(t *testing.T) {
	m := NewMirror(sharedFactory(nil))
	if _, err := m.Put(t.Context(), filepath.Join(t.TempDir(), "absent.zip")); err == nil {
		t.Fatal("Put of a missing file should fail")
	}
}
