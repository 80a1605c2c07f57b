// Package pipeline runs the Frostband workflows: verified pull-and-purge,
// direct upload-and-purge and local upload.
//
// Each execution is a Run. A Run is started explicitly by the caller on
// its own goroutine, publishes progress on a buffered channel without ever
// blocking on observers, and exposes its stage and log for concurrent
// reads. Errors and panics inside a workflow end the run in the failed
// stage.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FadeVT/Frostband/log"
	"github.com/FadeVT/Frostband/metrics"
	"github.com/FadeVT/Frostband/types"
)

// DefaultEventBuffer is the progress channel capacity.
const DefaultEventBuffer = 256

// workflow is the body of a pipeline. Returning an error fails the run.
type workflow func(ctx context.Context, r *Run, res *types.RunResult) error

// Run is one pipeline execution.
type Run struct {
	id        string
	kind      types.PipelineKind
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	mu        sync.RWMutex
	stage     types.Stage
	lastStage types.Stage
	lines     []string

	events chan types.Event
	done   chan struct{}
	result *types.RunResult
}

func newRun(kind types.PipelineKind, logger *log.Logger, collector *metrics.Collector, buffer int) *Run {
	if logger == nil {
		logger = log.NewNop()
	}
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	id := uuid.NewString()
	return &Run{
		id:        id,
		kind:      kind,
		logger:    logger.ForRun(id, kind),
		collector: collector,
		now:       time.Now,
		stage:     types.StageIdle,
		lastStage: types.StageIdle,
		events:    make(chan types.Event, buffer),
		done:      make(chan struct{}),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Kind returns the pipeline kind.
func (r *Run) Kind() types.PipelineKind { return r.kind }

// Stage returns the current stage.
func (r *Run) Stage() types.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// Log returns a copy of the log lines written so far.
func (r *Run) Log() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.lines...)
}

// Events returns the progress channel. It is closed when the run ends.
// Events are dropped rather than blocking when the channel is full; the
// full log remains available through Log.
func (r *Run) Events() <-chan types.Event { return r.events }

// Done is closed once the run has reached a terminal stage.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns its result.
func (r *Run) Wait() *types.RunResult {
	<-r.done
	return r.result
}

// start launches wf on a new goroutine.
func (r *Run) start(ctx context.Context, wf workflow) {
	go r.execute(ctx, wf)
}

// execute runs wf to completion and always leaves the run terminal.
func (r *Run) execute(ctx context.Context, wf workflow) {
	res := &types.RunResult{
		RunID:     r.id,
		Pipeline:  r.kind,
		StartedAt: r.now(),
	}
	r.collector.IncRunStarted()
	r.logger.Info("starting run", nil)

	err := r.guard(ctx, wf, res)

	res.Duration = r.now().Sub(res.StartedAt)
	if err != nil {
		res.Status = types.RunStatusFailed
		res.Error = err.Error()
		res.FailedStage = r.lastNonTerminal()
		r.collector.IncRunFailed()
		r.logf("FAILED: %v", err)
		r.logger.Error("run failed", map[string]any{
			"stage": string(res.FailedStage),
			"error": err.Error(),
		})
		r.setStage(types.StageFailed)
	} else {
		res.Status = types.RunStatusComplete
		r.collector.IncRunCompleted()
		r.logger.Info("run complete", map[string]any{
			"duration_ms": res.Duration.Milliseconds(),
		})
		r.setStage(types.StageComplete)
	}

	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	close(r.events)
	close(r.done)
}

// guard converts a panic in wf into an error.
func (r *Run) guard(ctx context.Context, wf workflow, res *types.RunResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.collector.IncRunPanicked()
			r.logger.Error("panic in pipeline", map[string]any{
				"panic": fmt.Sprint(p),
				"stack": string(debug.Stack()),
			})
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return wf(ctx, r, res)
}

func (r *Run) lastNonTerminal() types.Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastStage
}

// setStage moves the run to s and announces the transition.
func (r *Run) setStage(s types.Stage) {
	r.mu.Lock()
	r.stage = s
	if !s.IsTerminal() {
		r.lastStage = s
	}
	r.mu.Unlock()

	r.logger.Debug("stage", map[string]any{"stage": string(s)})
	r.emit(types.Event{RunID: r.id, Pipeline: r.kind, Stage: s, Time: r.now()})
}

// logf appends a log line and publishes it.
func (r *Run) logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)

	r.mu.Lock()
	r.lines = append(r.lines, line)
	stage := r.stage
	r.mu.Unlock()

	r.logger.Info(line, map[string]any{"stage": string(stage)})
	r.emit(types.Event{RunID: r.id, Pipeline: r.kind, Stage: stage, Line: line, Time: r.now()})
}

func (r *Run) emit(ev types.Event) {
	select {
	case r.events <- ev:
	default:
		r.collector.IncEventDropped()
	}
}
