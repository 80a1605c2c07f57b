package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/FadeVT/Frostband/ingest"
	"github.com/FadeVT/Frostband/iox"
	"github.com/FadeVT/Frostband/log"
	"github.com/FadeVT/Frostband/manifest"
	"github.com/FadeVT/Frostband/metrics"
	"github.com/FadeVT/Frostband/remote"
	"github.com/FadeVT/Frostband/types"
	"github.com/FadeVT/Frostband/vault"
)

// TempPrefix names the local scratch copy of a file being uploaded.
const TempPrefix = "temp_"

// ErrNoRemoteFiles fails a direct upload when the device has nothing to send.
var ErrNoRemoteFiles = errors.New("no remote files found")

// DirectConfig configures DirectUpload.
type DirectConfig struct {
	Remote
	// CaptureDir holds the temporary per-file downloads.
	CaptureDir string
	Uploader   ingest.Uploader
	// HasCredential reports whether an API token can be decrypted.
	HasCredential func() bool
	Logger        *log.Logger
	Collector     *metrics.Collector
	EventBuffer   int
}

// DirectUpload sends each remote artifact to the ingestion service one at a
// time and deletes from the device only the files the service accepted.
type DirectUpload struct {
	cfg DirectConfig
}

// NewDirectUpload validates cfg and returns a pipeline.
func NewDirectUpload(cfg DirectConfig) (*DirectUpload, error) {
	if err := validateRemote(cfg.Remote); err != nil {
		return nil, err
	}
	switch {
	case cfg.CaptureDir == "":
		return nil, errors.New("direct: capture dir is required")
	case cfg.Uploader == nil:
		return nil, errors.New("direct: uploader is required")
	case cfg.HasCredential == nil:
		return nil, errors.New("direct: credential check is required")
	}
	return &DirectUpload{cfg: cfg}, nil
}

// Start begins the run on a new goroutine and returns immediately.
func (d *DirectUpload) Start(ctx context.Context) *Run {
	r := newRun(types.PipelineDirectUpload, d.cfg.Logger, d.cfg.Collector, d.cfg.EventBuffer)
	r.start(ctx, d.run)
	return r
}

// Execute runs the pipeline and waits for the result.
func (d *DirectUpload) Execute(ctx context.Context) *types.RunResult {
	return d.Start(ctx).Wait()
}

func (d *DirectUpload) run(ctx context.Context, r *Run, res *types.RunResult) error {
	cfg := d.cfg

	r.setStage(types.StageCheckingCredential)
	if !cfg.HasCredential() {
		return vault.ErrNoCredential
	}

	r.setStage(types.StageStoppingProducer)
	r.stopProducer(ctx, cfg.Remote)

	r.setStage(types.StageListing)
	files, err := manifest.List(ctx, cfg.Shell, cfg.Dir, cfg.Pattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ErrNoRemoteFiles
	}
	r.logf("Found %d remote file(s)", len(files))

	if err := os.MkdirAll(cfg.CaptureDir, 0o755); err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}

	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("canceled after %d of %d file(s): %w", i, len(files), err)
		}
		r.logf("[%d/%d] %s", i+1, len(files), rel)
		outcome := d.transfer(ctx, r, rel)

		r.setStage(types.StageRecording)
		res.Outcomes = append(res.Outcomes, outcome)
		r.recordOutcome(outcome)
	}

	var eligible []string
	for _, o := range res.Outcomes {
		if o.Eligible() {
			eligible = append(eligible, o.Path)
		}
	}
	if len(eligible) == 0 {
		r.logf("No uploads succeeded; remote files kept")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("canceled before cleanup: %w", err)
	}

	r.setStage(types.StageCleanupDeleting)
	delCtx := context.WithoutCancel(ctx)
	var failed error
	start := 0
	for _, cmd := range manifest.RemoveCommands(cfg.Dir, eligible) {
		n := min(manifest.RemoveBatchSize, len(eligible)-start)
		start += n
		if err := r.execRemote(delCtx, cfg.Shell, cmd).Err(); err != nil {
			r.logf("Cleanup batch of %d file(s) failed: %v", n, err)
			failed = errors.Join(failed, err)
			continue
		}
		res.RemoteDeleted += n
	}
	r.collector.AddRemoteDeleted(res.RemoteDeleted)
	r.logf("Deleted %d uploaded file(s) from device", res.RemoteDeleted)
	if failed != nil {
		return fmt.Errorf("delete remote files: %w", failed)
	}
	return nil
}

// transfer downloads one remote file and uploads it. The local copy is
// always removed afterwards.
func (d *DirectUpload) transfer(ctx context.Context, r *Run, rel string) types.UploadOutcome {
	cfg := d.cfg
	name := path.Base(rel)
	tmp := filepath.Join(cfg.CaptureDir, TempPrefix+name)
	defer func() { _ = iox.RemoveQuiet(tmp) }()

	r.setStage(types.StageDownloading)
	if err := r.fetch(ctx, cfg.Fetcher, remote.Join(cfg.Dir, rel), tmp); err != nil {
		return types.Failed(rel, "download: "+err.Error())
	}

	r.setStage(types.StageUploading)
	receipt, err := uploadFile(ctx, cfg.Uploader, tmp, name)
	if err != nil {
		return types.Failed(rel, err.Error())
	}
	return types.Uploaded(rel, receipt.TransactionID)
}

// recordOutcome logs and counts one per-file outcome.
func (r *Run) recordOutcome(o types.UploadOutcome) {
	switch o.Kind {
	case types.OutcomeUploaded:
		r.collector.IncUploadSucceeded()
		r.logf("Uploaded %s (transaction %s)", o.Path, o.TransactionID)
	case types.OutcomeUploadedNoID:
		r.collector.IncUploadNoID()
		r.logf("Uploaded %s (no transaction id returned)", o.Path)
	default:
		r.collector.IncUploadFailed()
		r.logf("Upload failed for %s: %s", o.Path, o.Reason)
	}
}

func uploadFile(ctx context.Context, u ingest.Uploader, localPath, name string) (ingest.Receipt, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return ingest.Receipt{}, err
	}
	defer iox.DiscardClose(f)
	return u.Upload(ctx, name, f)
}
