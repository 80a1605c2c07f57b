package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/FadeVT/Frostband/iox"
)

// DefaultDialTimeout bounds connection establishment only. Commands and
// transfers run without a deadline.
const DefaultDialTimeout = 10 * time.Second

// defaultIdentities are tried in order when no identity file is configured.
var defaultIdentities = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// NativeConfig configures NativeClient.
type NativeConfig struct {
	Target
	// IdentityFile replaces the default identities when set.
	IdentityFile string
	// KnownHosts defaults to ~/.ssh/known_hosts.
	KnownHosts            string
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
}

// NativeClient is an in-process SSH client. It dials lazily and reuses one
// connection for every command and transfer until Close.
type NativeClient struct {
	cfg NativeConfig

	mu        sync.Mutex
	client    *ssh.Client
	agentConn net.Conn
}

// NewNativeClient creates a client. No connection is made yet.
func NewNativeClient(cfg NativeConfig) *NativeClient {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	return &NativeClient{cfg: cfg}
}

// Execute runs command in a new session on the shared connection.
func (c *NativeClient) Execute(ctx context.Context, command string) Result {
	client, err := c.connect(ctx)
	if err != nil {
		return Result{ExitCode: ExitConnectFailed, Stderr: err.Error()}
	}

	session, err := client.NewSession()
	if err != nil {
		// The connection is likely dead; drop it so the next call redials.
		c.reset()
		return Result{ExitCode: ExitConnectFailed, Stderr: fmt.Sprintf("open session: %v", err)}
	}
	defer iox.DiscardClose(session)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	result := Result{}
	if err := session.Run(command); err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		case errors.As(err, &missingErr):
			result.ExitCode = ExitConnectFailed
			stderr.WriteString(err.Error())
		default:
			c.reset()
			result.ExitCode = ExitConnectFailed
			stderr.WriteString(err.Error())
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	return result
}

// Fetch copies remotePath to localPath over SFTP. A partially written
// local file is removed on failure.
func (c *NativeClient) Fetch(ctx context.Context, remotePath, localPath string) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("start sftp: %w", err)
	}
	defer iox.DiscardClose(sc)

	src, err := sc.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote %s: %w", remotePath, err)
	}
	defer iox.DiscardClose(src)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("create local dir: %w", err)
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}

	if _, err := src.WriteTo(dst); err != nil {
		iox.DiscardClose(dst)
		_ = iox.RemoveQuiet(localPath)
		return fmt.Errorf("copy %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		_ = iox.RemoveQuiet(localPath)
		return fmt.Errorf("close %s: %w", localPath, err)
	}
	return nil
}

// Close releases the connection and any agent socket.
func (c *NativeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.agentConn != nil {
		iox.DiscardClose(c.agentConn)
		c.agentConn = nil
	}
	return err
}

func (c *NativeClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		iox.DiscardClose(c.client)
		c.client = nil
	}
}

func (c *NativeClient) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(c.signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.cfg.DialTimeout,
	}

	addr := c.cfg.Address()
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// The dial timeout also bounds the handshake.
	_ = conn.SetDeadline(time.Now().Add(c.cfg.DialTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		iox.DiscardClose(conn)
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.cfg.Destination(), err)
	}
	_ = conn.SetDeadline(time.Time{})

	c.client = ssh.NewClient(sshConn, chans, reqs)
	return c.client, nil
}

// signers collects agent keys followed by identity file keys. Called by the
// handshake with c.mu held.
func (c *NativeClient) signers() ([]ssh.Signer, error) {
	var signers []ssh.Signer

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if c.agentConn == nil {
			if conn, err := net.Dial("unix", sock); err == nil {
				c.agentConn = conn
			}
		}
		if c.agentConn != nil {
			if agentSigners, err := agent.NewClient(c.agentConn).Signers(); err == nil {
				signers = append(signers, agentSigners...)
			}
		}
	}

	for _, path := range c.identityFiles() {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			// Passphrase-protected keys are only usable through the agent.
			continue
		}
		signers = append(signers, signer)
	}

	if len(signers) == 0 {
		return nil, errors.New("no usable SSH keys (agent or identity files)")
	}
	return signers, nil
}

func (c *NativeClient) identityFiles() []string {
	if c.cfg.IdentityFile != "" {
		return []string{expandHome(c.cfg.IdentityFile)}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	paths := make([]string, 0, len(defaultIdentities))
	for _, name := range defaultIdentities {
		paths = append(paths, filepath.Join(home, ".ssh", name))
	}
	return paths
}

func (c *NativeClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in via ssh.insecure_ignore_host_key
	}
	path := c.cfg.KnownHosts
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts %s: %w", path, err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

var _ Client = (*NativeClient)(nil)
