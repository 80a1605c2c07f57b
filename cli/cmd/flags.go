// Package cmd provides CLI commands for the frostband binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// ConfigFlag overrides the configuration file location.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to frostband.yaml (default: per-user config dir)",
		EnvVars: []string{"FROSTBAND_CONFIG"},
	}

	// LogFileFlag redirects structured logs away from stderr.
	LogFileFlag = &cli.StringFlag{
		Name:  "log-file",
		Usage: "Append structured logs to this file instead of stderr",
	}

	// TUIFlag enables the live progress view for pipeline commands.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Show the live progress view",
	}

	// FramesFlag streams progress as length-prefixed msgpack frames on stdout.
	FramesFlag = &cli.BoolFlag{
		Name:  "frames",
		Usage: "Write progress frames to stdout (decode with 'frostband debug frames')",
	}

	// YesFlag answers confirmation prompts.
	YesFlag = &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Confirm destructive actions without prompting",
	}
)

// GlobalFlags returns the flags accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, LogFileFlag}
}

// ReadOnlyFlags returns the shared flags for all read-only commands.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{FormatFlag, NoColorFlag}
}

// RemoteFlags override the device settings from the config file.
func RemoteFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "Device host (overrides remote.host)"},
		&cli.StringFlag{Name: "user", Usage: "Device user (overrides remote.user)"},
		&cli.IntFlag{Name: "port", Usage: "Device SSH port (overrides remote.port)"},
		&cli.StringFlag{Name: "remote-dir", Usage: "Capture directory on the device (overrides remote.dir)"},
		&cli.StringFlag{Name: "pattern", Usage: "Artifact file pattern (overrides remote.pattern)"},
		&cli.StringFlag{Name: "transport", Usage: "SSH transport: native or openssh (overrides ssh.transport)"},
	}
}

// RunFlags returns the flags shared by pipeline commands.
func RunFlags() []cli.Flag {
	flags := []cli.Flag{
		TUIFlag,
		FramesFlag,
		&cli.StringFlag{Name: "capture-dir", Usage: "Local capture directory (overrides local.capture_dir)"},
	}
	return append(flags, RemoteFlags()...)
}

// resolveString returns the flag value when set on the command line, then
// the config value, then the flag default.
func resolveString(c *cli.Context, name, cfgVal string) string {
	if c.IsSet(name) {
		return c.String(name)
	}
	if cfgVal != "" {
		return cfgVal
	}
	return c.String(name)
}

// resolveInt returns the flag value when set, otherwise cfgVal.
func resolveInt(c *cli.Context, name string, cfgVal int) int {
	if c.IsSet(name) {
		return c.Int(name)
	}
	return cfgVal
}
