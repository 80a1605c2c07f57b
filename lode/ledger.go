package lode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/FadeVT/Frostband/types"
)

// DefaultLedgerDataset is the dataset id used when none is configured.
const DefaultLedgerDataset = "frostband_runs"

// Record kinds written to the ledger.
const (
	RecordKindRun                 = "run"
	RecordKindUploadOutcome       = "upload_outcome"
	RecordKindVerificationFailure = "verification_failure"
)

// ledgerLayout partitions ledger records. Every record carries these keys.
var ledgerLayout = []string{"pipeline", "day", "record_kind"}

// ErrNoRuns is returned when the ledger holds no run records.
var ErrNoRuns = errors.New("no runs recorded")

// RunRecord is the summary row written once per run.
type RunRecord struct {
	RunID         string `json:"run_id"`
	Pipeline      string `json:"pipeline"`
	Day           string `json:"day"`
	Device        string `json:"device,omitempty"`
	Status        string `json:"status"`
	FailedStage   string `json:"failed_stage,omitempty"`
	Error         string `json:"error,omitempty"`
	Verified      int    `json:"verified"`
	Integrity     int    `json:"integrity_failures"`
	RemoteDeleted int    `json:"remote_deleted"`
	RemoteKept    bool   `json:"remote_kept"`
	Uploaded      int    `json:"uploaded"`
	UploadedNoID  int    `json:"uploaded_no_id"`
	UploadFailed  int    `json:"upload_failed"`
	StartedAt     string `json:"started_at"`
	DurationMs    int64  `json:"duration_ms"`
}

// Ledger appends run results to a JSONL dataset.
type Ledger struct {
	mu      sync.Mutex
	dataset lode.Dataset
	id      string
}

// NewLedger opens the ledger dataset on factory. Use lode.NewMemoryFactory()
// for tests.
func NewLedger(dataset string, factory lode.StoreFactory) (*Ledger, error) {
	if dataset == "" {
		dataset = DefaultLedgerDataset
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(ledgerLayout...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return &Ledger{dataset: ds, id: dataset}, nil
}

// ID returns the dataset id.
func (l *Ledger) ID() string { return l.id }

// Append writes one run record plus a record per upload outcome and per
// verification failure, as a single snapshot.
func (l *Ledger) Append(ctx context.Context, res *types.RunResult, device string) error {
	records := toRecords(res, device)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, l.id+"/"+res.RunID)
	}
	return nil
}

// DeriveDay returns the UTC calendar day partition for t.
func DeriveDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func toRecords(res *types.RunResult, device string) []any {
	day := DeriveDay(res.StartedAt)
	counts := res.CountOutcomes()
	base := func(kind string) map[string]any {
		return map[string]any{
			"record_kind": kind,
			"run_id":      res.RunID,
			"pipeline":    string(res.Pipeline),
			"day":         day,
		}
	}

	run := base(RecordKindRun)
	run["device"] = device
	run["status"] = string(res.Status)
	run["failed_stage"] = string(res.FailedStage)
	run["error"] = res.Error
	run["verified"] = res.Verified
	run["integrity_failures"] = len(res.VerificationFailures)
	run["remote_deleted"] = res.RemoteDeleted
	run["remote_kept"] = res.RemoteKept
	run["uploaded"] = counts[types.OutcomeUploaded]
	run["uploaded_no_id"] = counts[types.OutcomeUploadedNoID]
	run["upload_failed"] = counts[types.OutcomeFailed]
	run["started_at"] = res.StartedAt.UTC().Format(time.RFC3339)
	run["duration_ms"] = res.Duration.Milliseconds()

	records := []any{run}
	for _, o := range res.Outcomes {
		r := base(RecordKindUploadOutcome)
		r["path"] = o.Path
		r["kind"] = string(o.Kind)
		r["transaction_id"] = o.TransactionID
		r["reason"] = o.Reason
		records = append(records, r)
	}
	for _, f := range res.VerificationFailures {
		r := base(RecordKindVerificationFailure)
		r["line"] = f
		records = append(records, r)
	}
	return records
}

// Recent returns up to n run records, newest first, optionally filtered by
// pipeline.
func (l *Ledger) Recent(ctx context.Context, n int, pipeline string) ([]RunRecord, error) {
	snapshots, err := l.dataset.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, l.id+"/snapshots")
	}

	var out []RunRecord
	for i := len(snapshots) - 1; i >= 0 && len(out) < n; i-- {
		snap := snapshots[i]
		if !snapshotHas(snap, "record_kind", RecordKindRun) {
			continue
		}
		if pipeline != "" && !snapshotHas(snap, "pipeline", pipeline) {
			continue
		}
		data, err := l.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", l.id, snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok || m["record_kind"] != RecordKindRun {
				continue
			}
			if pipeline != "" && str(m["pipeline"]) != pipeline {
				continue
			}
			out = append(out, fromMap(m))
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRuns
	}
	return out, nil
}

// Close releases ledger resources.
func (l *Ledger) Close() error { return nil }

func fromMap(m map[string]any) RunRecord {
	return RunRecord{
		RunID:         str(m["run_id"]),
		Pipeline:      str(m["pipeline"]),
		Day:           str(m["day"]),
		Device:        str(m["device"]),
		Status:        str(m["status"]),
		FailedStage:   str(m["failed_stage"]),
		Error:         str(m["error"]),
		Verified:      int(num(m["verified"])),
		Integrity:     int(num(m["integrity_failures"])),
		RemoteDeleted: int(num(m["remote_deleted"])),
		RemoteKept:    m["remote_kept"] == true,
		Uploaded:      int(num(m["uploaded"])),
		UploadedNoID:  int(num(m["uploaded_no_id"])),
		UploadFailed:  int(num(m["upload_failed"])),
		StartedAt:     str(m["started_at"]),
		DurationMs:    num(m["duration_ms"]),
	}
}

// snapshotHas reports whether any file of snap lies in the key=value partition.
func snapshotHas(snap *lode.Snapshot, key, value string) bool {
	segment := key + "=" + value
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// num accepts the numeric types a JSONL round trip or an in-memory store
// may hand back.
func num(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
