package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/types"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitRunFailed   = 1
	exitConfigError = 2
	exitIntegrity   = 3
	exitPartial     = 4
)

// exitCodeFor maps a finished run to the process exit code. Integrity
// failures take precedence over the generic failure code, and a completed
// upload run with failed items exits partial.
func exitCodeFor(res *types.RunResult) int {
	switch {
	case res == nil:
		return exitRunFailed
	case len(res.VerificationFailures) > 0:
		return exitIntegrity
	case !res.Succeeded():
		return exitRunFailed
	case res.CountOutcomes()[types.OutcomeFailed] > 0:
		return exitPartial
	default:
		return exitSuccess
	}
}

// configError marks err as a configuration problem.
func configError(err error) error {
	if _, ok := err.(cli.ExitCoder); ok {
		return err
	}
	return cli.Exit(err.Error(), exitConfigError)
}

// failf reports an operational failure.
func failf(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), exitRunFailed)
}
