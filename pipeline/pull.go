package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/FadeVT/Frostband/bundle"
	"github.com/FadeVT/Frostband/log"
	"github.com/FadeVT/Frostband/manifest"
	"github.com/FadeVT/Frostband/metrics"
	"github.com/FadeVT/Frostband/types"
)

// Remote and local names of the pull artifacts.
const (
	RemoteManifestPath = "/tmp/w.sha256"
	RemoteBundlePath   = "/tmp/w.tgz"
	LocalManifestName  = "w.sha256"
	LocalBundleName    = "w.tgz"
)

// VerificationError reports manifest entries that did not verify locally.
type VerificationError struct {
	Failures []string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %d file(s); remote files kept", len(e.Failures))
}

// PullConfig configures PullPurge.
type PullConfig struct {
	Remote
	// CaptureDir receives the bundle, manifest and extracted files.
	CaptureDir string
	// KeepRemote skips deletion after a clean verification.
	KeepRemote  bool
	Logger      *log.Logger
	Collector   *metrics.Collector
	EventBuffer int
}

// PullPurge copies every artifact from the device in one bundle, verifies
// each file against a manifest built on the device, and deletes the remote
// originals only when every entry verified.
type PullPurge struct {
	cfg PullConfig
}

// NewPullPurge validates cfg and returns a pipeline.
func NewPullPurge(cfg PullConfig) (*PullPurge, error) {
	if err := validateRemote(cfg.Remote); err != nil {
		return nil, err
	}
	if cfg.CaptureDir == "" {
		return nil, errors.New("pull: capture dir is required")
	}
	return &PullPurge{cfg: cfg}, nil
}

func validateRemote(rem Remote) error {
	switch {
	case rem.Shell == nil:
		return errors.New("remote shell is required")
	case rem.Fetcher == nil:
		return errors.New("remote fetcher is required")
	case rem.Dir == "":
		return errors.New("remote dir is required")
	case rem.Pattern == "":
		return errors.New("artifact pattern is required")
	}
	return nil
}

// Start begins the run on a new goroutine and returns immediately.
func (p *PullPurge) Start(ctx context.Context) *Run {
	r := newRun(types.PipelinePullPurge, p.cfg.Logger, p.cfg.Collector, p.cfg.EventBuffer)
	r.start(ctx, p.run)
	return r
}

// Execute runs the pipeline and waits for the result.
func (p *PullPurge) Execute(ctx context.Context) *types.RunResult {
	return p.Start(ctx).Wait()
}

func (p *PullPurge) run(ctx context.Context, r *Run, res *types.RunResult) error {
	cfg := p.cfg
	localBundle := filepath.Join(cfg.CaptureDir, LocalBundleName)
	localManifest := filepath.Join(cfg.CaptureDir, LocalManifestName)

	r.setStage(types.StageStoppingProducer)
	r.stopProducer(ctx, cfg.Remote)

	r.setStage(types.StageBuildingManifest)
	r.logf("Building manifest of %s in %s...", cfg.Pattern, cfg.Dir)
	text, err := manifest.Build(ctx, cfg.Shell, cfg.Dir, cfg.Pattern, RemoteManifestPath)
	if err != nil {
		return err
	}
	listed := manifest.Parse(text)
	r.logf("Manifest lists %d file(s)", len(listed))
	if len(listed) == 0 {
		r.logf("No files to pull")
		return nil
	}

	r.setStage(types.StagePackaging)
	r.logf("Packaging files on device...")
	if err := r.execRemote(ctx, cfg.Shell, manifest.PackCommand(cfg.Dir, cfg.Pattern, RemoteBundlePath)).Err(); err != nil {
		return fmt.Errorf("package: %w", err)
	}

	r.setStage(types.StageTransferring)
	r.logf("Transferring %s...", RemoteBundlePath)
	if err := r.fetch(ctx, cfg.Fetcher, RemoteBundlePath, localBundle); err != nil {
		return fmt.Errorf("transfer bundle: %w", err)
	}
	r.logf("Transferring %s...", RemoteManifestPath)
	if err := r.fetch(ctx, cfg.Fetcher, RemoteManifestPath, localManifest); err != nil {
		return fmt.Errorf("transfer manifest: %w", err)
	}

	r.setStage(types.StageExtracting)
	extracted, err := bundle.ExtractTarGz(localBundle, cfg.CaptureDir)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	r.logf("Extracted %d file(s) into %s", len(extracted), cfg.CaptureDir)

	r.setStage(types.StageVerifying)
	entries, err := manifest.ParseFile(localManifest)
	if err != nil {
		return err
	}
	failures := manifest.Verify(cfg.CaptureDir, entries)
	r.collector.AddVerification(len(entries), len(failures))
	if len(failures) > 0 {
		res.VerificationFailures = failures
		for _, f := range failures {
			r.logf("%s", f)
		}
		return &VerificationError{Failures: failures}
	}
	res.Verified = len(entries)
	r.logf("Verified %d file(s)", len(entries))

	if cfg.KeepRemote {
		res.RemoteKept = true
		r.logf("Keeping remote files as requested")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("canceled before deletion: %w", err)
	}

	r.setStage(types.StageDeleting)
	// Deletion is not abandoned midway once started.
	delCtx := context.WithoutCancel(ctx)
	paths := manifest.Paths(entries)
	for _, cmd := range manifest.RemoveCommands(cfg.Dir, paths) {
		if err := r.execRemote(delCtx, cfg.Shell, cmd).Err(); err != nil {
			return fmt.Errorf("delete remote files: %w", err)
		}
	}
	res.RemoteDeleted = len(paths)
	r.collector.AddRemoteDeleted(len(paths))
	r.logf("Deleted %d verified file(s) from device", len(paths))
	return nil
}
