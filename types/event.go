package types

import "time"

// Event is a single progress notification emitted by a pipeline run.
// Line is empty for pure stage transitions.
type Event struct {
	// RunID identifies the run that produced the event.
	RunID string `msgpack:"run_id" json:"run_id"`
	// Pipeline is the workflow kind.
	Pipeline PipelineKind `msgpack:"pipeline" json:"pipeline"`
	// Stage is the run's stage at the time the event was emitted.
	Stage Stage `msgpack:"stage" json:"stage"`
	// Line is a human-readable log line.
	Line string `msgpack:"line,omitempty" json:"line,omitempty"`
	// Time is when the event was produced.
	Time time.Time `msgpack:"time" json:"time"`
}

// IsTransition reports whether the event only announces a stage change.
func (e Event) IsTransition() bool {
	return e.Line == ""
}
