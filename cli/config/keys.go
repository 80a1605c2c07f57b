package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrUnknownKey is returned by Set and Get for keys outside SettableKeys.
var ErrUnknownKey = errors.New("unknown config key")

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(ptr func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *ptr(c) },
		set: func(c *Config, v string) error { *ptr(c) = v; return nil },
	}
}

var fields = map[string]field{
	"remote.host":       stringField(func(c *Config) *string { return &c.Remote.Host }),
	"remote.user":       stringField(func(c *Config) *string { return &c.Remote.User }),
	"remote.dir":        stringField(func(c *Config) *string { return &c.Remote.Dir }),
	"remote.pattern":    stringField(func(c *Config) *string { return &c.Remote.Pattern }),
	"remote.service":    stringField(func(c *Config) *string { return &c.Remote.Service }),
	"local.capture_dir": stringField(func(c *Config) *string { return &c.Local.CaptureDir }),
	"local.output_dir":  stringField(func(c *Config) *string { return &c.Local.OutputDir }),
	"wigle.api_name":    stringField(func(c *Config) *string { return &c.WiGLE.APIName }),
	"wigle.base_url":    stringField(func(c *Config) *string { return &c.WiGLE.BaseURL }),
	"ssh.transport": {
		get: func(c *Config) string { return c.SSH.Transport },
		set: func(c *Config, v string) error {
			if v != "" && v != "native" && v != "openssh" {
				return fmt.Errorf("invalid ssh.transport %q (must be native or openssh)", v)
			}
			c.SSH.Transport = v
			return nil
		},
	},
	"ssh.identity_file": stringField(func(c *Config) *string { return &c.SSH.IdentityFile }),
	"ssh.known_hosts":   stringField(func(c *Config) *string { return &c.SSH.KnownHosts }),
	"ssh.insecure_ignore_host_key": {
		get: func(c *Config) string { return strconv.FormatBool(c.SSH.InsecureIgnoreHostKey) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean %q: %w", v, err)
			}
			c.SSH.InsecureIgnoreHostKey = b
			return nil
		},
	},
	"remote.port": {
		get: func(c *Config) string {
			if c.Remote.Port == 0 {
				return ""
			}
			return strconv.Itoa(c.Remote.Port)
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.Remote.Port = 0
				return nil
			}
			p, err := strconv.Atoi(v)
			if err != nil || p < 1 || p > 65535 {
				return fmt.Errorf("invalid port %q", v)
			}
			c.Remote.Port = p
			return nil
		},
	},
	"wigle.timeout": {
		get: func(c *Config) string {
			if c.WiGLE.Timeout.Duration == 0 {
				return ""
			}
			return c.WiGLE.Timeout.String()
		},
		set: func(c *Config, v string) error {
			if v == "" {
				c.WiGLE.Timeout = Duration{}
				return nil
			}
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid duration %q: %w", v, err)
			}
			c.WiGLE.Timeout = Duration{d}
			return nil
		},
	},
}

// SettableKeys lists the keys accepted by Set, in display order.
// The API token is excluded; it is only stored through the vault.
var SettableKeys = []string{
	"remote.host",
	"remote.user",
	"remote.port",
	"remote.dir",
	"remote.pattern",
	"remote.service",
	"local.capture_dir",
	"local.output_dir",
	"wigle.api_name",
	"wigle.base_url",
	"wigle.timeout",
	"ssh.transport",
	"ssh.identity_file",
	"ssh.known_hosts",
	"ssh.insecure_ignore_host_key",
}

// Set assigns a value by dotted key.
func (c *Config) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.set(c, value)
}

// Get returns a value by dotted key.
func (c *Config) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return f.get(c), nil
}
