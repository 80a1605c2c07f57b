package types

import "time"

// RunStatus is the final status of a pipeline run.
type RunStatus string

const (
	// RunStatusComplete indicates the run reached StageComplete.
	RunStatusComplete RunStatus = "complete"
	// RunStatusFailed indicates the run reached StageFailed.
	RunStatusFailed RunStatus = "failed"
)

// RunResult summarizes a finished pipeline run.
type RunResult struct {
	RunID    string       `json:"run_id"`
	Pipeline PipelineKind `json:"pipeline"`
	Status   RunStatus    `json:"status"`
	// FailedStage is the last non-terminal stage reached before failure.
	FailedStage Stage `json:"failed_stage,omitempty"`
	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`
	// VerificationFailures holds MISSING/MISMATCH lines from a pull run.
	VerificationFailures []string `json:"verification_failures,omitempty"`
	// Outcomes holds per-artifact upload outcomes.
	Outcomes []UploadOutcome `json:"outcomes,omitempty"`
	// Verified is the number of manifest entries verified locally.
	Verified int `json:"verified"`
	// RemoteDeleted is the number of remote artifacts deleted.
	RemoteDeleted int `json:"remote_deleted"`
	// RemoteKept is true when a clean pull skipped deletion on request.
	RemoteKept bool          `json:"remote_kept,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Succeeded reports whether the run completed.
func (r *RunResult) Succeeded() bool {
	return r.Status == RunStatusComplete
}

// CountOutcomes tallies outcomes by kind.
func (r *RunResult) CountOutcomes() map[UploadOutcomeKind]int {
	counts := make(map[UploadOutcomeKind]int, 3)
	for _, o := range r.Outcomes {
		counts[o.Kind]++
	}
	return counts
}
