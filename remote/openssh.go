package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// OpenSSHConfig configures OpenSSH.
type OpenSSHConfig struct {
	Target
	IdentityFile          string
	KnownHosts            string
	InsecureIgnoreHostKey bool
	// SSHPath and SCPPath default to "ssh" and "scp" on PATH.
	SSHPath string
	SCPPath string
}

// runFunc executes a local program and reports its exit status.
type runFunc func(ctx context.Context, name string, args ...string) Result

// streamFunc is runFunc with the program's stdout sent to w.
type streamFunc func(ctx context.Context, w io.Writer, name string, args ...string) Result

// OpenSSH drives the system ssh and scp binaries in batch mode, so key or
// agent authentication must already be set up.
type OpenSSH struct {
	cfg    OpenSSHConfig
	run    runFunc
	stream streamFunc
}

// NewOpenSSH creates an OpenSSH transport.
func NewOpenSSH(cfg OpenSSHConfig) *OpenSSH {
	if cfg.SSHPath == "" {
		cfg.SSHPath = "ssh"
	}
	if cfg.SCPPath == "" {
		cfg.SCPPath = "scp"
	}
	return &OpenSSH{cfg: cfg, run: runLocal, stream: streamLocal}
}

// Execute runs command through ssh. Exit status 255 is ssh's own failure.
func (o *OpenSSH) Execute(ctx context.Context, command string) Result {
	args := o.commonOptions()
	if o.cfg.Port != 0 && o.cfg.Port != 22 {
		args = append(args, "-p", strconv.Itoa(o.cfg.Port))
	}
	args = append(args, o.cfg.Destination(), command)
	return o.run(ctx, o.cfg.SSHPath, args...)
}

// Fetch copies remotePath to localPath. Plain paths go through scp. A path
// with characters the remote shell would reinterpret is streamed with
// "cat" over ssh instead, since legacy scp expands the path remotely and
// SFTP-mode scp does not, so no single quoting suits both.
func (o *OpenSSH) Fetch(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}
	if !scpSafe(remotePath) {
		return o.fetchCat(ctx, remotePath, localPath)
	}
	args := o.commonOptions()
	if o.cfg.Port != 0 && o.cfg.Port != 22 {
		args = append(args, "-P", strconv.Itoa(o.cfg.Port))
	}
	args = append(args, o.cfg.Destination()+":"+remotePath, localPath)
	if err := o.run(ctx, o.cfg.SCPPath, args...).Err(); err != nil {
		return fmt.Errorf("scp %s: %w", remotePath, err)
	}
	return nil
}

func (o *OpenSSH) fetchCat(ctx context.Context, remotePath, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	args := o.commonOptions()
	if o.cfg.Port != 0 && o.cfg.Port != 22 {
		args = append(args, "-p", strconv.Itoa(o.cfg.Port))
	}
	args = append(args, o.cfg.Destination(), "cat -- "+shellPath(remotePath))
	runErr := o.stream(ctx, f, o.cfg.SSHPath, args...).Err()
	closeErr := f.Close()
	if err := errors.Join(runErr, closeErr); err != nil {
		_ = os.Remove(localPath)
		return fmt.Errorf("fetch %s: %w", remotePath, err)
	}
	return nil
}

// shellPath quotes p for the remote shell, leaving a leading "~/" to expand.
func shellPath(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return "~/" + Quote(rest)
	}
	return Quote(p)
}

// scpSafe reports whether p passes through a remote shell unchanged apart
// from a leading "~/".
func scpSafe(p string) bool {
	p = strings.TrimPrefix(p, "~/")
	if p == "" {
		return false
	}
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("/._-+,@%=", r):
		default:
			return false
		}
	}
	return true
}

// Close is a no-op; every call spawns its own process.
func (o *OpenSSH) Close() error { return nil }

func (o *OpenSSH) commonOptions() []string {
	args := []string{"-o", "BatchMode=yes"}
	if o.cfg.IdentityFile != "" {
		args = append(args, "-i", expandHome(o.cfg.IdentityFile))
	}
	switch {
	case o.cfg.InsecureIgnoreHostKey:
		args = append(args, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile="+os.DevNull)
	case o.cfg.KnownHosts != "":
		args = append(args, "-o", "UserKnownHostsFile="+expandHome(o.cfg.KnownHosts))
	}
	return args
}

func runLocal(ctx context.Context, name string, args ...string) Result {
	var stdout bytes.Buffer
	res := streamLocal(ctx, &stdout, name, args...)
	res.Stdout = stdout.String()
	return res
}

func streamLocal(ctx context.Context, w io.Writer, name string, args ...string) Result {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	result := Result{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = ExitConnectFailed
			stderr.WriteString(err.Error())
		}
	}
	result.Stderr = stderr.String()
	return result
}

var _ Client = (*OpenSSH)(nil)
