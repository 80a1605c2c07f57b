// Package manifest builds, parses and verifies content-hash manifests.
//
// A manifest is the text produced by sha256sum: one line per file holding
// 64 lowercase hex characters, two separator characters and a path
// relative to the manifest root. Lines are ordered by path.
package manifest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/FadeVT/Frostband/remote"
)

// HashLen is the length of a hex-encoded SHA-256 digest.
const HashLen = 64

// Entry is one manifest line.
type Entry struct {
	Hash string `json:"hash"`
	Path string `json:"path"`
}

// NormalizePath strips any leading "./" from a relative path.
func NormalizePath(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return p
}

// findFiles lists files matching pattern under the current directory,
// NUL-separated and sorted bytewise.
func findFiles(pattern string) string {
	return "find . -type f -name " + remote.Quote(pattern) + " -print0 | LC_ALL=C sort -z"
}

// BuildCommand returns the remote shell command that prints the manifest
// of files under root matching pattern. When remoteOut is set the manifest
// is also written to that remote path.
func BuildCommand(root, pattern, remoteOut string) string {
	cmd := "cd " + remote.Quote(root) + " && " + findFiles(pattern) + " | xargs -0 -r sha256sum"
	if remoteOut != "" {
		cmd += " | tee " + remote.Quote(remoteOut)
	}
	return cmd
}

// PackCommand returns the remote shell command that packs the same file
// set BuildCommand hashes into a gzip tarball at remoteOut.
func PackCommand(root, pattern, remoteOut string) string {
	return "cd " + remote.Quote(root) + " && " + findFiles(pattern) + " | tar --null -T - -czf " + remote.Quote(remoteOut)
}

// RemoveBatchSize bounds how many paths one RemoveCommands command names.
const RemoveBatchSize = 200

// RemoveCommands returns remote shell commands that remove exactly the
// given relative paths under root, batched to keep each command line short.
// Files that appeared after the manifest was built are never touched.
func RemoveCommands(root string, rels []string) []string {
	var cmds []string
	for start := 0; start < len(rels); start += RemoveBatchSize {
		end := min(start+RemoveBatchSize, len(rels))
		var b strings.Builder
		b.WriteString("cd ")
		b.WriteString(remote.Quote(root))
		b.WriteString(" && rm -f --")
		for _, rel := range rels[start:end] {
			b.WriteByte(' ')
			b.WriteString(remote.Quote(NormalizePath(rel)))
		}
		cmds = append(cmds, b.String())
	}
	return cmds
}

// Paths returns the paths of entries in order.
func Paths(entries []Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths
}

// ListCommand returns the remote shell command that prints one relative
// path per line for files under root matching pattern.
func ListCommand(root, pattern string) string {
	return "cd " + remote.Quote(root) + " && find . -type f -name " + remote.Quote(pattern) + " -print"
}

// ParseList reads ListCommand output into normalized, sorted relative paths.
func ParseList(text string) []string {
	var paths []string
	for _, line := range strings.Split(text, "\n") {
		p := NormalizePath(strings.TrimSpace(line))
		if p == "" || p == "." {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// List runs ListCommand on shell and returns the matching relative paths.
func List(ctx context.Context, shell remote.Shell, root, pattern string) ([]string, error) {
	res := shell.Execute(ctx, ListCommand(root, pattern))
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("list remote files: %w", err)
	}
	return ParseList(res.Stdout), nil
}

// Build runs BuildCommand once on shell and returns the manifest text.
func Build(ctx context.Context, shell remote.Shell, root, pattern, remoteOut string) (string, error) {
	res := shell.Execute(ctx, BuildCommand(root, pattern, remoteOut))
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("build manifest: %w", err)
	}
	return res.Stdout, nil
}

// Parse reads manifest text. Lines that do not start with a 64 character
// hex digest followed by two separator characters and a non-empty path are
// skipped. The result is sorted by path.
func Parse(text string) []Entry {
	var entries []Entry
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) <= HashLen+2 {
			continue
		}
		hash := line[:HashLen]
		if !isHex(hash) {
			continue
		}
		path := NormalizePath(line[HashLen+2:])
		if path == "" {
			continue
		}
		entries = append(entries, Entry{Hash: strings.ToLower(hash), Path: path})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Format renders entries in sha256sum text form.
func Format(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Hash)
		b.WriteString("  ")
		b.WriteString(e.Path)
		b.WriteByte('\n')
	}
	return b.String()
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
