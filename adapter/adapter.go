// Package adapter defines the notification boundary for finished runs.
//
// Adapters publish one RunCompletedEvent per pipeline run to a downstream
// system. The CLI owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/FadeVT/Frostband/types"
)

// EventTypeRunCompleted is the only event type published.
const EventTypeRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when a run finishes.
type RunCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "run_completed"
	RunID           string `json:"run_id"`
	Pipeline        string `json:"pipeline"`
	Device          string `json:"device,omitempty"`
	Outcome         string `json:"outcome"` // complete or failed
	FailedStage     string `json:"failed_stage,omitempty"`
	Error           string `json:"error,omitempty"`
	Verified        int    `json:"verified"`
	Integrity       int    `json:"integrity_failures"`
	RemoteDeleted   int    `json:"remote_deleted"`
	Uploaded        int    `json:"uploaded"`
	UploadedNoID    int    `json:"uploaded_no_id"`
	UploadFailed    int    `json:"upload_failed"`
	LedgerPath      string `json:"ledger_path,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	DurationMs      int64  `json:"duration_ms"`
}

// FromResult builds the event for a finished run. device is the
// user@host the run targeted, empty for local runs.
func FromResult(res *types.RunResult, device string, finished time.Time) *RunCompletedEvent {
	counts := res.CountOutcomes()
	return &RunCompletedEvent{
		ContractVersion: types.Version,
		EventType:       EventTypeRunCompleted,
		RunID:           res.RunID,
		Pipeline:        string(res.Pipeline),
		Device:          device,
		Outcome:         string(res.Status),
		FailedStage:     string(res.FailedStage),
		Error:           res.Error,
		Verified:        res.Verified,
		Integrity:       len(res.VerificationFailures),
		RemoteDeleted:   res.RemoteDeleted,
		Uploaded:        counts[types.OutcomeUploaded],
		UploadedNoID:    counts[types.OutcomeUploadedNoID],
		UploadFailed:    counts[types.OutcomeFailed],
		Timestamp:       finished.UTC().Format(time.RFC3339),
		DurationMs:      res.Duration.Milliseconds(),
	}
}

// Adapter publishes run completion events to a downstream system.
type Adapter interface {
	// Publish sends a run completion event. Must respect ctx.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the wait before retry attempt i (i >= 1):
// 500ms, 1s, 2s, ...
func Backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * 500 * time.Millisecond
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
