// Package main provides the frostband CLI entrypoint.
//
// Usage:
//
//	frostband [--config path] <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: run failed (connectivity, remote command, upload or local I/O)
//   - 2: configuration error
//   - 3: integrity failure (verification mismatch; remote files kept)
//   - 4: completed with per-file failures (direct, local upload, tx fetch)
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/cli/cmd"
	"github.com/FadeVT/Frostband/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

// osExit is replaced in tests.
var osExit = os.Exit

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		osExit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "frostband",
		Usage:   "Move wardriving captures from the collection device into WiGLE",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Flags:   cmd.GlobalFlags(),
		ExitErrHandler: func(c *cli.Context, err error) {
			exitErrHandler(c.App.ErrWriter, err)
		},
		Commands: []*cli.Command{
			cmd.PullCommand(),
			cmd.DirectCommand(),
			cmd.LocalCommand(),
			cmd.TxCommand(),
			cmd.DeviceCommand(),
			cmd.HistoryCommand(),
			cmd.ConfigCommand(),
			cmd.DebugCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(stderr io.Writer, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "" or "exit status N"; skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		osExit(code)
		return
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
	osExit(1)
}
