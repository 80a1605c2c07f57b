package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/adapter"
	redisadapter "github.com/FadeVT/Frostband/adapter/redis"
	"github.com/FadeVT/Frostband/adapter/webhook"
	"github.com/FadeVT/Frostband/cli/config"
	"github.com/FadeVT/Frostband/ingest"
	"github.com/FadeVT/Frostband/lode"
	"github.com/FadeVT/Frostband/log"
	"github.com/FadeVT/Frostband/remote"
	"github.com/FadeVT/Frostband/vault"
)

// env is the per-invocation wiring shared by commands: the resolved
// configuration, the logger and the credential vault.
type env struct {
	cfg     *config.Config
	path    string
	logger  *log.Logger
	logFile *os.File
	vault   *vault.Vault
}

// loadEnv reads the config file, applies defaults and command-line
// overrides, and opens the logger. Errors are configuration errors.
func loadEnv(c *cli.Context) (*env, error) {
	path := c.String("config")
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, configError(err)
		}
		path = p
	}

	cfg, err := config.LoadOrEmpty(path)
	if err != nil {
		return nil, configError(err)
	}
	cfg.ApplyDefaults()
	applyOverrides(c, cfg)

	e := &env{cfg: cfg, path: path}
	if logPath := c.String("log-file"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, configError(fmt.Errorf("open log file: %w", err))
		}
		e.logFile = f
		e.logger = log.NewLoggerWithWriter(f)
	} else {
		e.logger = log.NewLoggerWithWriter(c.App.ErrWriter)
	}

	keyPath := filepath.Join(filepath.Dir(path), config.KeyFileName)
	e.vault = vault.New(vault.Detect(keyPath), e.logger)
	return e, nil
}

// applyOverrides copies command-line values over the config file.
func applyOverrides(c *cli.Context, cfg *config.Config) {
	cfg.Remote.Host = resolveString(c, "host", cfg.Remote.Host)
	cfg.Remote.User = resolveString(c, "user", cfg.Remote.User)
	cfg.Remote.Port = resolveInt(c, "port", cfg.Remote.Port)
	cfg.Remote.Dir = resolveString(c, "remote-dir", cfg.Remote.Dir)
	cfg.Remote.Pattern = resolveString(c, "pattern", cfg.Remote.Pattern)
	cfg.SSH.Transport = resolveString(c, "transport", cfg.SSH.Transport)
	cfg.Local.CaptureDir = resolveString(c, "capture-dir", cfg.Local.CaptureDir)
	cfg.Local.OutputDir = resolveString(c, "output-dir", cfg.Local.OutputDir)
}

func (e *env) Close() {
	_ = e.logger.Sync()
	if e.logFile != nil {
		_ = e.logFile.Close()
	}
}

// device returns the user@host label recorded with runs.
func (e *env) device() string {
	if e.cfg.Remote.Host == "" {
		return ""
	}
	return remote.Target{Host: e.cfg.Remote.Host, User: e.cfg.Remote.User}.Destination()
}

func (e *env) remoteClient() (remote.Client, error) {
	if err := e.cfg.RequireRemote(); err != nil {
		return nil, configError(err)
	}
	client, err := remote.New(remote.Options{
		Target: remote.Target{
			Host: e.cfg.Remote.Host,
			User: e.cfg.Remote.User,
			Port: e.cfg.Remote.Port,
		},
		Transport:             e.cfg.SSH.Transport,
		IdentityFile:          e.cfg.SSH.IdentityFile,
		KnownHosts:            e.cfg.SSH.KnownHosts,
		InsecureIgnoreHostKey: e.cfg.SSH.InsecureIgnoreHostKey,
	})
	if err != nil {
		return nil, configError(err)
	}
	return client, nil
}

func (e *env) credentials() *vault.BasicCredentials {
	return &vault.BasicCredentials{
		Name:  e.cfg.WiGLE.APIName,
		Blob:  e.cfg.WiGLE.APITokenEnc,
		Vault: e.vault,
	}
}

func (e *env) hasCredential() bool {
	return e.cfg.WiGLE.APIName != "" && e.vault.Available(e.cfg.WiGLE.APITokenEnc)
}

func (e *env) ingestClient() (*ingest.Client, error) {
	if err := e.cfg.RequireIngestion(); err != nil {
		return nil, configError(err)
	}
	client, err := ingest.New(ingest.Config{
		BaseURL: e.cfg.WiGLE.BaseURL,
		Timeout: e.cfg.WiGLE.Timeout.Duration,
	}, e.credentials())
	if err != nil {
		return nil, configError(err)
	}
	return client, nil
}

// storeConfig maps a config storage section to a lode backend selection.
func storeConfig(s config.StorageConfig) lode.StoreConfig {
	return lode.StoreConfig{
		Backend:      s.Backend,
		Path:         s.Path,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		UsePathStyle: s.S3PathStyle,
	}
}

// ledger opens the run ledger, or returns nil when none is configured.
func (e *env) ledger(ctx context.Context) (*lode.Ledger, error) {
	if !e.cfg.Ledger.Enabled() {
		return nil, nil
	}
	factory, err := lode.NewFactory(ctx, storeConfig(e.cfg.Ledger))
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return lode.NewLedger(e.cfg.Ledger.Dataset, factory)
}

// mirror opens the archive mirror, or returns nil when none is configured.
func (e *env) mirror(ctx context.Context) (*lode.Mirror, error) {
	if !e.cfg.Archive.Enabled() {
		return nil, nil
	}
	factory, err := lode.NewFactory(ctx, storeConfig(e.cfg.Archive))
	if err != nil {
		return nil, fmt.Errorf("archive mirror: %w", err)
	}
	return lode.NewMirror(factory), nil
}

// notifier builds the configured completion adapter, or nil.
func (e *env) notifier() (adapter.Adapter, error) {
	n := e.cfg.Notify
	retries := -1
	if n.Retries != nil {
		retries = *n.Retries
	}
	switch n.Type {
	case "":
		return nil, nil
	case "webhook":
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     n.URL,
			Headers: n.Headers,
			Timeout: n.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		if retries < 0 {
			retries = redisadapter.DefaultRetries
		}
		return redisadapter.New(redisadapter.Config{
			URL:        n.URL,
			Channel:    n.Channel,
			HistoryKey: n.HistoryKey,
			Timeout:    n.Timeout.Duration,
			Retries:    retries,
		})
	default:
		return nil, fmt.Errorf("unknown notify type %q (must be webhook or redis)", n.Type)
	}
}

// ErrDeclined is returned when the user answers no to a confirmation.
var ErrDeclined = errors.New("aborted")

// confirm asks a yes/no question on the app's streams unless --yes was
// given. Anything but y or yes declines.
func confirm(c *cli.Context, prompt string) error {
	if c.Bool("yes") {
		return nil
	}
	fmt.Fprintf(c.App.ErrWriter, "%s [y/N]: ", prompt)
	answer, err := readLine(c.App.Reader)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return ErrDeclined
	}
}

func readLine(r io.Reader) (string, error) {
	if r == nil {
		r = os.Stdin
	}
	return bufio.NewReader(r).ReadString('\n')
}
