// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters during a single pipeline run. It is a
// leaf package with no internal dependencies so every layer can record
// into it.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64 `json:"runs_started"`
	RunsCompleted int64 `json:"runs_completed"`
	RunsFailed    int64 `json:"runs_failed"`
	RunsPanicked  int64 `json:"runs_panicked"`

	// Remote device
	RemoteCommands        int64 `json:"remote_commands"`
	RemoteCommandFailures int64 `json:"remote_command_failures"`
	FilesFetched          int64 `json:"files_fetched"`
	BytesFetched          int64 `json:"bytes_fetched"`
	RemoteFilesDeleted    int64 `json:"remote_files_deleted"`

	// Integrity
	FilesVerified        int64 `json:"files_verified"`
	VerificationFailures int64 `json:"verification_failures"`

	// Ingestion
	UploadsSucceeded int64 `json:"uploads_succeeded"`
	UploadsNoID      int64 `json:"uploads_no_id"`
	UploadsFailed    int64 `json:"uploads_failed"`

	// Observers
	EventsDropped int64 `json:"events_dropped"`

	// Ledger / Storage
	LedgerWriteSuccess int64 `json:"ledger_write_success"`
	LedgerWriteFailure int64 `json:"ledger_write_failure"`

	// Dimensions (informational, set at construction)
	Pipeline  string `json:"pipeline"`
	Transport string `json:"transport"`
	RunID     string `json:"run_id"`
}

// Collector accumulates metrics during a single run.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe so callers
// may pass a nil *Collector to disable collection.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(pipeline, transport, runID string) *Collector {
	return &Collector{s: Snapshot{Pipeline: pipeline, Transport: transport, RunID: runID}}
}

func (c *Collector) add(field func(*Snapshot) *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*field(&c.s) += n
	c.mu.Unlock()
}

// --- Run lifecycle ---

// IncRunStarted records a run start.
func (c *Collector) IncRunStarted() { c.add(func(s *Snapshot) *int64 { return &s.RunsStarted }, 1) }

// IncRunCompleted records a run reaching complete.
func (c *Collector) IncRunCompleted() { c.add(func(s *Snapshot) *int64 { return &s.RunsCompleted }, 1) }

// IncRunFailed records a run reaching failed.
func (c *Collector) IncRunFailed() { c.add(func(s *Snapshot) *int64 { return &s.RunsFailed }, 1) }

// IncRunPanicked records a panic recovered at the run boundary.
func (c *Collector) IncRunPanicked() { c.add(func(s *Snapshot) *int64 { return &s.RunsPanicked }, 1) }

// --- Remote device ---

// ObserveRemoteCommand records one remote command and whether it exited zero.
func (c *Collector) ObserveRemoteCommand(ok bool) {
	c.add(func(s *Snapshot) *int64 { return &s.RemoteCommands }, 1)
	if !ok {
		c.add(func(s *Snapshot) *int64 { return &s.RemoteCommandFailures }, 1)
	}
}

// AddFetched records one file pulled from the device.
func (c *Collector) AddFetched(bytes int64) {
	c.add(func(s *Snapshot) *int64 { return &s.FilesFetched }, 1)
	c.add(func(s *Snapshot) *int64 { return &s.BytesFetched }, bytes)
}

// AddRemoteDeleted records remote artifacts removed.
func (c *Collector) AddRemoteDeleted(n int) {
	c.add(func(s *Snapshot) *int64 { return &s.RemoteFilesDeleted }, int64(n))
}

// --- Integrity ---

// AddVerification records a verification pass over total entries with
// failed bad ones.
func (c *Collector) AddVerification(total, failed int) {
	c.add(func(s *Snapshot) *int64 { return &s.FilesVerified }, int64(total-failed))
	c.add(func(s *Snapshot) *int64 { return &s.VerificationFailures }, int64(failed))
}

// --- Ingestion ---

// IncUploadSucceeded records an upload acknowledged with a transaction id.
func (c *Collector) IncUploadSucceeded() {
	c.add(func(s *Snapshot) *int64 { return &s.UploadsSucceeded }, 1)
}

// IncUploadNoID records an upload accepted without a transaction id.
func (c *Collector) IncUploadNoID() { c.add(func(s *Snapshot) *int64 { return &s.UploadsNoID }, 1) }

// IncUploadFailed records a failed upload or the download preceding it.
func (c *Collector) IncUploadFailed() { c.add(func(s *Snapshot) *int64 { return &s.UploadsFailed }, 1) }

// --- Observers ---

// IncEventDropped records a progress event dropped because no observer
// was draining the channel.
func (c *Collector) IncEventDropped() { c.add(func(s *Snapshot) *int64 { return &s.EventsDropped }, 1) }

// --- Ledger / Storage ---

// IncLedgerWriteSuccess records a successful ledger write.
func (c *Collector) IncLedgerWriteSuccess() {
	c.add(func(s *Snapshot) *int64 { return &s.LedgerWriteSuccess }, 1)
}

// IncLedgerWriteFailure records a failed ledger write.
func (c *Collector) IncLedgerWriteFailure() {
	c.add(func(s *Snapshot) *int64 { return &s.LedgerWriteFailure }, 1)
}

// --- Snapshot ---

// Snapshot returns a copy of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
