// Package remote runs shell commands on the collection device and copies
// files from it.
//
// Two transports implement the same Client interface: an in-process SSH
// client (NativeClient) and the system OpenSSH binaries (OpenSSH). Command
// exit status is data, not an error: a failed channel is reported as
// ExitConnectFailed with the error text in Stderr.
package remote

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
)

// ExitConnectFailed is the exit code reported when the command never ran
// because the channel to the device could not be established.
const ExitConnectFailed = -1

// Result is the outcome of one remote command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Err returns a *CommandError for a non-zero exit, or nil.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &CommandError{ExitCode: r.ExitCode, Stderr: strings.TrimSpace(r.Stderr)}
}

// CommandError describes a remote command that exited non-zero.
type CommandError struct {
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.ExitCode == ExitConnectFailed {
		return "connection failed: " + e.Stderr
	}
	if e.Stderr == "" {
		return fmt.Sprintf("remote command exited %d", e.ExitCode)
	}
	return fmt.Sprintf("remote command exited %d: %s", e.ExitCode, e.Stderr)
}

// Shell executes a command on the device and blocks until it finishes.
// There is no internal timeout.
type Shell interface {
	Execute(ctx context.Context, command string) Result
}

// Fetcher copies a single remote file to a local path, replacing it.
type Fetcher interface {
	Fetch(ctx context.Context, remotePath, localPath string) error
}

// Client is a connection to the device able to run commands and pull files.
type Client interface {
	Shell
	Fetcher
	io.Closer
}

// Target identifies the device account.
type Target struct {
	Host string
	User string
	Port int
}

// Destination returns user@host.
func (t Target) Destination() string {
	return t.User + "@" + t.Host
}

// Address returns host:port for dialing.
func (t Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	if strings.Contains(t.Host, ":") && !strings.HasPrefix(t.Host, "[") {
		return "[" + t.Host + "]:" + strconv.Itoa(port)
	}
	return t.Host + ":" + strconv.Itoa(port)
}

// Options configures New.
type Options struct {
	Target
	// Transport is "native" or "openssh". Empty means native.
	Transport             string
	IdentityFile          string
	KnownHosts            string
	InsecureIgnoreHostKey bool
}

// New builds a Client for the configured transport. No connection is made
// until the first command or fetch.
func New(opts Options) (Client, error) {
	switch opts.Transport {
	case "", "native":
		return NewNativeClient(NativeConfig{
			Target:                opts.Target,
			IdentityFile:          opts.IdentityFile,
			KnownHosts:            opts.KnownHosts,
			InsecureIgnoreHostKey: opts.InsecureIgnoreHostKey,
		}), nil
	case "openssh":
		return NewOpenSSH(OpenSSHConfig{
			Target:                opts.Target,
			IdentityFile:          opts.IdentityFile,
			KnownHosts:            opts.KnownHosts,
			InsecureIgnoreHostKey: opts.InsecureIgnoreHostKey,
		}), nil
	default:
		return nil, fmt.Errorf("unknown ssh transport %q (must be native or openssh)", opts.Transport)
	}
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Join joins a remote root and a relative artifact path with forward slashes.
func Join(root, rel string) string {
	return path.Join(root, strings.TrimPrefix(rel, "./"))
}
