package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v2"

	"github.com/FadeVT/Frostband/adapter"
	"github.com/FadeVT/Frostband/cli/render"
	"github.com/FadeVT/Frostband/cli/tui"
	"github.com/FadeVT/Frostband/ipc"
	"github.com/FadeVT/Frostband/metrics"
	"github.com/FadeVT/Frostband/pipeline"
	"github.com/FadeVT/Frostband/remote"
	"github.com/FadeVT/Frostband/types"
)

// starter is implemented by every pipeline.
type starter interface {
	Start(ctx context.Context) *pipeline.Run
}

// PullCommand returns the verified pull-and-purge command.
func PullCommand() *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "Copy every capture from the device, verify it, then delete the remote originals",
		Flags: append(RunFlags(),
			&cli.BoolFlag{
				Name:  "keep-remote",
				Usage: "Copy and verify only; never delete remote files",
			},
		),
		Action: pullAction,
	}
}

func pullAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.remoteClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	collector := metrics.NewCollector(string(types.PipelinePullPurge), e.cfg.SSH.Transport, "")
	p, err := pipeline.NewPullPurge(pipeline.PullConfig{
		Remote:     e.pipelineRemote(client),
		CaptureDir: e.cfg.Local.CaptureDir,
		KeepRemote: c.Bool("keep-remote"),
		Logger:     e.logger,
		Collector:  collector,
	})
	if err != nil {
		return configError(err)
	}
	return execute(c, e, p, collector)
}

// DirectCommand returns the direct upload-and-purge command.
func DirectCommand() *cli.Command {
	return &cli.Command{
		Name:   "direct",
		Usage:  "Upload each capture straight from the device and delete it once acknowledged",
		Flags:  append(RunFlags(), YesFlag),
		Action: directAction,
	}
}

func directAction(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	defer e.Close()

	client, err := e.remoteClient()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	uploader, err := e.ingestClient()
	if err != nil {
		return err
	}
	defer func() { _ = uploader.Close() }()

	prompt := fmt.Sprintf("Upload every %s in %s:%s and delete each acknowledged file from the device?",
		e.cfg.Remote.Pattern, e.device(), e.cfg.Remote.Dir)
	if err := confirm(c, prompt); err != nil {
		return failf("%v", err)
	}

	collector := metrics.NewCollector(string(types.PipelineDirectUpload), e.cfg.SSH.Transport, "")
	d, err := pipeline.NewDirectUpload(pipeline.DirectConfig{
		Remote:        e.pipelineRemote(client),
		CaptureDir:    e.cfg.Local.CaptureDir,
		Uploader:      uploader,
		HasCredential: e.hasCredential,
		Logger:        e.logger,
		Collector:     collector,
	})
	if err != nil {
		return configError(err)
	}
	return execute(c, e, d, collector)
}

func (e *env) pipelineRemote(client remote.Client) pipeline.Remote {
	return pipeline.Remote{
		Shell:   client,
		Fetcher: client,
		Dir:     e.cfg.Remote.Dir,
		Pattern: e.cfg.Remote.Pattern,
		Service: e.cfg.Remote.Service,
	}
}

// execute starts a pipeline, follows it to the end, records the result
// and maps it to an exit code. SIGINT and SIGTERM cancel the run, which
// stops it before any destructive stage.
func execute(c *cli.Context, e *env, s starter, collector *metrics.Collector) error {
	if c.Bool("frames") && c.Bool("tui") {
		return configError(errors.New("--frames and --tui cannot be combined"))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := s.Start(ctx)
	res, err := follow(c, run, stop)
	if err != nil {
		e.logger.Warn("progress output failed", map[string]any{"error": err.Error()})
	}

	postRun(context.WithoutCancel(c.Context), e, res, collector)

	if !c.Bool("tui") {
		out := c.App.Writer
		if c.Bool("frames") {
			out = c.App.ErrWriter
		}
		printResult(out, res)
	}

	if code := exitCodeFor(res); code != exitSuccess {
		return cli.Exit("", code)
	}
	return nil
}

// follow consumes the run's progress in the selected mode and returns the
// run result.
func follow(c *cli.Context, run *pipeline.Run, cancel func()) (*types.RunResult, error) {
	switch {
	case c.Bool("frames"):
		return writeFrames(c.App.Writer, run)
	case c.Bool("tui"):
		if f, ok := c.App.ErrWriter.(*os.File); ok && render.IsTerminal(f) {
			return tui.Run(run, cancel, tea.WithOutput(f))
		}
		fmt.Fprintln(c.App.ErrWriter, "stderr is not a terminal; showing plain progress")
	}
	printEvents(c.App.ErrWriter, run.Events())
	return run.Wait(), nil
}

// writeFrames streams every event followed by the result frame. A write
// failure stops framing but the run is still awaited.
func writeFrames(w io.Writer, run *pipeline.Run) (*types.RunResult, error) {
	fw := ipc.NewFrameWriter(w)
	var writeErr error
	for ev := range run.Events() {
		if writeErr == nil {
			writeErr = fw.WriteEvent(ev)
		}
	}
	res := run.Wait()
	if writeErr != nil {
		return res, writeErr
	}
	return res, fw.WriteResult(res)
}

func printEvents(w io.Writer, events <-chan types.Event) {
	for ev := range events {
		if ev.IsTransition() {
			fmt.Fprintf(w, "» %s\n", ev.Stage)
			continue
		}
		fmt.Fprintln(w, ev.Line)
	}
}

// postRun appends the result to the ledger, publishes the completion
// event and logs the run metrics. Failures here never change the run
// outcome.
func postRun(ctx context.Context, e *env, res *types.RunResult, collector *metrics.Collector) {
	device := e.device()
	event := adapter.FromResult(res, device, time.Now())

	ledger, err := e.ledger(ctx)
	switch {
	case err != nil:
		e.logger.Warn("ledger unavailable", map[string]any{"error": err.Error()})
	case ledger != nil:
		if err := ledger.Append(ctx, res, device); err != nil {
			collector.IncLedgerWriteFailure()
			e.logger.Warn("ledger append failed", map[string]any{"run_id": res.RunID, "error": err.Error()})
		} else {
			collector.IncLedgerWriteSuccess()
			event.LedgerPath = ledger.ID()
		}
		_ = ledger.Close()
	}

	notifier, err := e.notifier()
	switch {
	case err != nil:
		e.logger.Warn("notify adapter misconfigured", map[string]any{"error": err.Error()})
	case notifier != nil:
		if err := notifier.Publish(ctx, event); err != nil {
			e.logger.Warn("run notification failed", map[string]any{"run_id": res.RunID, "error": err.Error()})
		}
		_ = notifier.Close()
	}

	e.logger.Info("run metrics", map[string]any{"run_id": res.RunID, "metrics": collector.Snapshot()})
}

// printResult writes a short human summary of res.
func printResult(w io.Writer, res *types.RunResult) {
	fmt.Fprintf(w, "\nrun %s (%s): %s in %s\n", res.RunID, res.Pipeline, res.Status, res.Duration.Round(time.Millisecond))
	if res.Error != "" {
		fmt.Fprintf(w, "error: %s (stage %s)\n", res.Error, res.FailedStage)
	}

	switch res.Pipeline {
	case types.PipelinePullPurge:
		fmt.Fprintf(w, "verified %d, remote deleted %d", res.Verified, res.RemoteDeleted)
		if res.RemoteKept {
			fmt.Fprint(w, " (remote kept)")
		}
		fmt.Fprintln(w)
		for _, f := range res.VerificationFailures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	default:
		counts := res.CountOutcomes()
		fmt.Fprintf(w, "uploaded %d, uploaded without id %d, failed %d, remote deleted %d\n",
			counts[types.OutcomeUploaded], counts[types.OutcomeUploadedNoID],
			counts[types.OutcomeFailed], res.RemoteDeleted)
		for _, o := range res.Outcomes {
			if !o.Eligible() {
				fmt.Fprintf(w, "  FAILED %s: %s\n", o.Path, o.Reason)
			}
		}
	}
}
