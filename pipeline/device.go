package pipeline

import (
	"context"
	"os"

	"github.com/FadeVT/Frostband/remote"
)

// Remote holds the device connection and layout shared by both remote
// workflows.
type Remote struct {
	Shell   remote.Shell
	Fetcher remote.Fetcher
	// Dir is the capture directory on the device.
	Dir string
	// Pattern selects artifacts, e.g. "*.wiglecsv".
	Pattern string
	// Service is the producer unit stopped before collection.
	Service string
}

// StopCommand returns the command that stops the producer service.
func StopCommand(service string) string {
	return "sudo systemctl stop " + remote.Quote(service)
}

func (r *Run) execRemote(ctx context.Context, shell remote.Shell, command string) remote.Result {
	res := shell.Execute(ctx, command)
	r.collector.ObserveRemoteCommand(res.OK())
	r.logger.Debug("remote command", map[string]any{
		"command":   command,
		"exit_code": res.ExitCode,
	})
	return res
}

// stopProducer is best-effort: failures are logged and the run continues.
func (r *Run) stopProducer(ctx context.Context, rem Remote) {
	if rem.Service == "" {
		return
	}
	r.logf("Stopping %s...", rem.Service)
	if err := r.execRemote(ctx, rem.Shell, StopCommand(rem.Service)).Err(); err != nil {
		r.logf("Warning: could not stop %s: %v", rem.Service, err)
	}
}

func (r *Run) fetch(ctx context.Context, f remote.Fetcher, remotePath, localPath string) error {
	if err := f.Fetch(ctx, remotePath, localPath); err != nil {
		return err
	}
	if info, err := os.Stat(localPath); err == nil {
		r.collector.AddFetched(info.Size())
	}
	return nil
}
