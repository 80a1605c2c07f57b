package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Default values applied by ApplyDefaults.
const (
	DefaultCaptureDir   = "./Kismet"
	DefaultOutputDir    = "./WiGLE_Output"
	DefaultPattern      = "*.wiglecsv"
	DefaultService      = "kismet"
	DefaultPort         = 22
	DefaultTransport    = "native"
	DefaultWiGLEBaseURL = "https://api.wigle.net/api/v2"

	// AppDirName is the per-user configuration directory name.
	AppDirName = "Frostband"
	// FileName is the configuration file name inside the app directory.
	FileName = "frostband.yaml"
	// KeyFileName is the vault key file name inside the app directory.
	KeyFileName = "frostband.key"
)

// ErrMissingSetting is wrapped by validation errors for required values.
var ErrMissingSetting = errors.New("missing setting")

// Config represents a frostband.yaml configuration file.
// Missing values are empty, not errors. CLI flags override config values.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Local   LocalConfig   `yaml:"local"`
	WiGLE   WiGLEConfig   `yaml:"wigle"`
	SSH     SSHConfig     `yaml:"ssh"`
	Ledger  StorageConfig `yaml:"ledger,omitempty"`
	Archive StorageConfig `yaml:"archive,omitempty"`
	Notify  AdapterConfig `yaml:"notify,omitempty"`
}

// RemoteConfig describes the collection device.
type RemoteConfig struct {
	Host    string `yaml:"host"`
	User    string `yaml:"user"`
	Port    int    `yaml:"port,omitempty"`
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern,omitempty"`
	// Service is the capture producer systemd unit.
	Service string `yaml:"service,omitempty"`
}

// LocalConfig holds local directories.
type LocalConfig struct {
	CaptureDir string `yaml:"capture_dir"`
	OutputDir  string `yaml:"output_dir"`
}

// WiGLEConfig holds ingestion service credentials.
// APITokenEnc is the vault-encrypted token blob, never plaintext.
type WiGLEConfig struct {
	APIName     string   `yaml:"api_name"`
	APITokenEnc string   `yaml:"api_token_enc"`
	BaseURL     string   `yaml:"base_url,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty"`
}

// SSHConfig configures the remote shell transport.
type SSHConfig struct {
	// Transport is "native" (in-process client) or "openssh" (system binaries).
	Transport             string `yaml:"transport,omitempty"`
	IdentityFile          string `yaml:"identity_file,omitempty"`
	KnownHosts            string `yaml:"known_hosts,omitempty"`
	InsecureIgnoreHostKey bool   `yaml:"insecure_ignore_host_key,omitempty"`
}

// StorageConfig selects a lode backend for the run ledger or archive mirror.
// An empty Backend disables the feature.
type StorageConfig struct {
	Backend     string `yaml:"backend,omitempty"`
	Dataset     string `yaml:"dataset,omitempty"`
	Path        string `yaml:"path,omitempty"`
	Region      string `yaml:"region,omitempty"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	S3PathStyle bool   `yaml:"s3_path_style,omitempty"`
}

// Enabled reports whether a backend is configured.
func (s StorageConfig) Enabled() bool { return s.Backend != "" }

// AdapterConfig holds run-completed notification settings.
type AdapterConfig struct {
	Type    string `yaml:"type,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Channel string `yaml:"channel,omitempty"`
	// HistoryKey keeps recent events in a Redis list when set.
	HistoryKey string            `yaml:"history_key,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

// IsZero lets omitempty drop unset durations.
func (d Duration) IsZero() bool { return d.Duration == 0 }

// ApplyDefaults fills empty values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Remote.Port == 0 {
		c.Remote.Port = DefaultPort
	}
	if c.Remote.Pattern == "" {
		c.Remote.Pattern = DefaultPattern
	}
	if c.Remote.Service == "" {
		c.Remote.Service = DefaultService
	}
	if c.Local.CaptureDir == "" {
		c.Local.CaptureDir = DefaultCaptureDir
	}
	if c.Local.OutputDir == "" {
		c.Local.OutputDir = DefaultOutputDir
	}
	if c.WiGLE.BaseURL == "" {
		c.WiGLE.BaseURL = DefaultWiGLEBaseURL
	}
	if c.SSH.Transport == "" {
		c.SSH.Transport = DefaultTransport
	}
}

// RequireRemote checks the settings needed to reach the collection device.
func (c *Config) RequireRemote() error {
	return requireAll(
		setting{"remote.host", c.Remote.Host},
		setting{"remote.user", c.Remote.User},
		setting{"remote.dir", c.Remote.Dir},
		setting{"local.capture_dir", c.Local.CaptureDir},
	)
}

// RequireIngestion checks the settings needed to talk to the ingestion service.
func (c *Config) RequireIngestion() error {
	return requireAll(
		setting{"wigle.api_name", c.WiGLE.APIName},
		setting{"wigle.api_token_enc", c.WiGLE.APITokenEnc},
	)
}

type setting struct {
	key   string
	value string
}

func requireAll(settings ...setting) error {
	var errs []error
	for _, s := range settings {
		if s.value == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSetting, s.key))
		}
	}
	return errors.Join(errs...)
}

// Dir returns the per-user configuration directory:
// %APPDATA%\Frostband on Windows, ~/.config/Frostband elsewhere.
func Dir() (string, error) {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppDirName), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", AppDirName), nil
}

// DefaultPath returns the default configuration file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}
