package pipeline

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/FadeVT/Frostband/ingest"
	"github.com/FadeVT/Frostband/log"
	"github.com/FadeVT/Frostband/metrics"
	"github.com/FadeVT/Frostband/types"
	"github.com/FadeVT/Frostband/vault"
)

// LocalConfig configures LocalUpload.
type LocalConfig struct {
	// Paths are the local capture files to upload.
	Paths         []string
	Uploader      ingest.Uploader
	HasCredential func() bool
	Logger        *log.Logger
	Collector     *metrics.Collector
	EventBuffer   int
}

// LocalUpload uploads already-pulled captures. Nothing is deleted.
type LocalUpload struct {
	cfg LocalConfig
}

// NewLocalUpload validates cfg and returns a pipeline.
func NewLocalUpload(cfg LocalConfig) (*LocalUpload, error) {
	switch {
	case cfg.Uploader == nil:
		return nil, errors.New("local: uploader is required")
	case cfg.HasCredential == nil:
		return nil, errors.New("local: credential check is required")
	}
	return &LocalUpload{cfg: cfg}, nil
}

// Start begins the run on a new goroutine and returns immediately.
func (l *LocalUpload) Start(ctx context.Context) *Run {
	r := newRun(types.PipelineLocalUpload, l.cfg.Logger, l.cfg.Collector, l.cfg.EventBuffer)
	r.start(ctx, l.run)
	return r
}

// Execute runs the pipeline and waits for the result.
func (l *LocalUpload) Execute(ctx context.Context) *types.RunResult {
	return l.Start(ctx).Wait()
}

func (l *LocalUpload) run(ctx context.Context, r *Run, res *types.RunResult) error {
	r.setStage(types.StageCheckingCredential)
	if !l.cfg.HasCredential() {
		return vault.ErrNoCredential
	}
	if len(l.cfg.Paths) == 0 {
		return errors.New("no files selected")
	}
	r.setStage(types.StageUploading)
	res.Outcomes = uploadSelected(ctx, r, l.cfg.Uploader, l.cfg.Paths)
	return nil
}

// uploadSelected uploads each local file and returns one outcome per path.
// A failure does not stop the batch.
func uploadSelected(ctx context.Context, r *Run, u ingest.Uploader, paths []string) []types.UploadOutcome {
	outcomes := make([]types.UploadOutcome, 0, len(paths))
	for i, p := range paths {
		var o types.UploadOutcome
		if err := ctx.Err(); err != nil {
			o = types.Failed(p, err.Error())
		} else {
			r.logf("[%d/%d] %s", i+1, len(paths), filepath.Base(p))
			receipt, err := uploadFile(ctx, u, p, filepath.Base(p))
			if err != nil {
				o = types.Failed(p, err.Error())
			} else {
				o = types.Uploaded(p, receipt.TransactionID)
			}
		}
		r.recordOutcome(o)
		outcomes = append(outcomes, o)
	}
	return outcomes
}
