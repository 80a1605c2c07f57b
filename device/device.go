// Package device controls the capture device over the remote shell: the
// producer service, power state, connectivity checks and a summary of the
// artifacts waiting on it.
package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/FadeVT/Frostband/remote"
)

// ErrNotConfirmed is returned by power actions the caller did not confirm.
var ErrNotConfirmed = errors.New("action not confirmed")

// exitDisconnected is the OpenSSH client status when the server drops the
// session, which is how a successful reboot or shutdown usually ends.
const exitDisconnected = 255

// Controller issues device commands for one producer service.
type Controller struct {
	shell   remote.Shell
	service string
}

// New returns a Controller for service on shell.
func New(shell remote.Shell, service string) *Controller {
	return &Controller{shell: shell, service: service}
}

// ServiceAction is a systemctl verb.
type ServiceAction string

const (
	ActionStart   ServiceAction = "start"
	ActionStop    ServiceAction = "stop"
	ActionRestart ServiceAction = "restart"
)

// Service runs `sudo systemctl <action> <service>`.
func (c *Controller) Service(ctx context.Context, action ServiceAction) error {
	switch action {
	case ActionStart, ActionStop, ActionRestart:
	default:
		return fmt.Errorf("unknown service action %q", action)
	}
	cmd := "sudo systemctl " + string(action) + " " + remote.Quote(c.service)
	if err := c.shell.Execute(ctx, cmd).Err(); err != nil {
		return fmt.Errorf("%s %s: %w", action, c.service, err)
	}
	return nil
}

// ServiceState returns the unit's active state ("active", "inactive",
// "failed", ...). A non-zero exit is a state, not an error.
func (c *Controller) ServiceState(ctx context.Context) (string, error) {
	res := c.shell.Execute(ctx, "systemctl is-active "+remote.Quote(c.service))
	if res.ExitCode == remote.ExitConnectFailed {
		return "", res.Err()
	}
	state := strings.TrimSpace(res.Stdout)
	if state == "" {
		state = "unknown"
	}
	return state, nil
}

// Ping checks that a non-interactive session can run a command.
func (c *Controller) Ping(ctx context.Context) error {
	res := c.shell.Execute(ctx, "echo success")
	if err := res.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(res.Stdout) != "success" {
		return fmt.Errorf("unexpected reply %q", strings.TrimSpace(res.Stdout))
	}
	return nil
}

// Reboot restarts the device.
func (c *Controller) Reboot(ctx context.Context, confirmed bool) error {
	return c.power(ctx, "sudo reboot", confirmed)
}

// Shutdown halts the device.
func (c *Controller) Shutdown(ctx context.Context, confirmed bool) error {
	return c.power(ctx, "sudo shutdown -h now", confirmed)
}

// power checks the device is reachable, then issues cmd. The session
// dropping mid-command counts as success.
func (c *Controller) power(ctx context.Context, cmd string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	if err := c.Ping(ctx); err != nil {
		return err
	}
	res := c.shell.Execute(ctx, cmd)
	switch res.ExitCode {
	case 0, exitDisconnected, remote.ExitConnectFailed:
		return nil
	default:
		return res.Err()
	}
}

// Summary describes the artifacts on the device.
type Summary struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// SummaryCommand prints "<count> <bytes>" for files under root matching pattern.
func SummaryCommand(root, pattern string) string {
	return "cd " + remote.Quote(root) + " && find . -type f -name " + remote.Quote(pattern) +
		` -printf '%s\n' | awk '{n++; s+=$1} END {printf "%d %d\n", n, s}'`
}

// Summarize counts the artifacts under root and their total size.
func (c *Controller) Summarize(ctx context.Context, root, pattern string) (Summary, error) {
	res := c.shell.Execute(ctx, SummaryCommand(root, pattern))
	if err := res.Err(); err != nil {
		return Summary{}, fmt.Errorf("summarize: %w", err)
	}
	return ParseSummary(res.Stdout)
}

// ParseSummary reads SummaryCommand output.
func ParseSummary(out string) (Summary, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return Summary{}, fmt.Errorf("summarize: unexpected output %q", strings.TrimSpace(out))
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: count: %w", err)
	}
	b, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize: bytes: %w", err)
	}
	return Summary{Files: n, Bytes: b}, nil
}
