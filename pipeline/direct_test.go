package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/FadeVT/Frostband/ingest"
	"github.com/FadeVT/Frostband/metrics"
	"github.com/FadeVT/Frostband/remote"
	"github.com/FadeVT/Frostband/types"
)

const deviceDir = "/home/pi/kismet"

func listingShell(listing string) *fakeShell {
	return &fakeShell{handle: func(cmd string) remote.Result {
		if strings.Contains(cmd, "-print") && !strings.Contains(cmd, "-print0") {
			return remote.Result{Stdout: listing}
		}
		return remote.Result{}
	}}
}

func newDirect(t *testing.T, shell remote.Shell, fetcher remote.Fetcher, up ingest.Uploader, mutate func(*DirectConfig)) (*DirectUpload, string) {
	t.Helper()
	capture := t.TempDir()
	cfg := DirectConfig{
		Remote: Remote{
			Shell:   shell,
			Fetcher: fetcher,
			Dir:     deviceDir,
			Pattern: "*.wiglecsv",
			Service: "kismet",
		},
		CaptureDir:    capture,
		Uploader:      up,
		HasCredential: func() bool { return true },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDirectUpload(cfg)
	if err != nil {
		t.Fatalf("NewDirectUpload() error = %v", err)
	}
	return d, capture
}

func TestDirectUpload_PartialFailure(t *testing.T) {
	shell := listingShell("./a.wiglecsv\n./b.wiglecsv\n./c.wiglecsv\n")
	fetcher := &fakeFetcher{files: map[string][]byte{
		deviceDir + "/a.wiglecsv": []byte("alpha"),
		deviceDir + "/b.wiglecsv": []byte("bravo"),
		deviceDir + "/c.wiglecsv": []byte("charlie"),
	}}
	up := &fakeUploader{
		receipts: map[string]ingest.Receipt{
			"a.wiglecsv": {TransactionID: "20240501-00012"},
			"c.wiglecsv": {},
		},
		errs: map[string]error{
			"b.wiglecsv": &ingest.StatusError{Code: 500, Body: "upstream down"},
		},
	}
	collector := metrics.NewCollector("direct_upload", "fake", "")
	d, capture := newDirect(t, shell, fetcher, up, func(c *DirectConfig) { c.Collector = collector })

	run := d.Start(t.Context())
	events := drain(run)
	res := run.Wait()

	if !res.Succeeded() {
		t.Fatalf("status = %s, error = %q", res.Status, res.Error)
	}
	want := []types.UploadOutcome{
		{Path: "a.wiglecsv", Kind: types.OutcomeUploaded, TransactionID: "20240501-00012"},
		{Path: "b.wiglecsv", Kind: types.OutcomeFailed, Reason: "unexpected status 500: upstream down"},
		{Path: "c.wiglecsv", Kind: types.OutcomeUploadedNoID},
	}
	if len(res.Outcomes) != 3 {
		t.Fatalf("Outcomes = %+v", res.Outcomes)
	}
	for i, o := range res.Outcomes {
		if o.Path != want[i].Path || o.Kind != want[i].Kind || o.TransactionID != want[i].TransactionID {
			t.Errorf("Outcomes[%d] = %+v, want %+v", i, o, want[i])
		}
	}
	if res.Outcomes[1].Reason == "" {
		t.Error("failed outcome carries no reason")
	}

	rm := shell.ran("rm -f")
	if len(rm) != 1 {
		t.Fatalf("rm commands = %v", rm)
	}
	if !strings.Contains(rm[0], "'a.wiglecsv'") || !strings.Contains(rm[0], "'c.wiglecsv'") {
		t.Errorf("rm command %q should remove a and c", rm[0])
	}
	if strings.Contains(rm[0], "b.wiglecsv") {
		t.Errorf("rm command %q removes the failed upload", rm[0])
	}
	if res.RemoteDeleted != 2 {
		t.Errorf("RemoteDeleted = %d", res.RemoteDeleted)
	}

	if up.bodies["b.wiglecsv"] != "bravo" {
		t.Errorf("uploaded body = %q", up.bodies["b.wiglecsv"])
	}
	entries, _ := os.ReadDir(capture)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), TempPrefix) {
			t.Errorf("temp file %s left behind", e.Name())
		}
	}

	stages := transitions(events)
	if stages[0] != types.StageCheckingCredential || stages[len(stages)-2] != types.StageCleanupDeleting {
		t.Errorf("transitions = %v", stages)
	}

	snap := collector.Snapshot()
	if snap.UploadsSucceeded != 1 || snap.UploadsNoID != 1 || snap.UploadsFailed != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestDirectUpload_NoCredential(t *testing.T) {
	shell := listingShell("./a.wiglecsv\n")
	d, _ := newDirect(t, shell, &fakeFetcher{}, &fakeUploader{}, func(c *DirectConfig) {
		c.HasCredential = func() bool { return false }
	})

	res := d.Execute(t.Context())

	if res.Succeeded() || res.FailedStage != types.StageCheckingCredential {
		t.Errorf("result = %+v", res)
	}
	if res.Error != "API token unavailable" {
		t.Errorf("Error = %q", res.Error)
	}
	if len(shell.commands) != 0 {
		t.Errorf("commands ran without a credential: %v", shell.commands)
	}
}

func TestDirectUpload_NoRemoteFiles(t *testing.T) {
	shell := listingShell("")
	d, _ := newDirect(t, shell, &fakeFetcher{}, &fakeUploader{}, nil)

	res := d.Execute(t.Context())

	if res.Succeeded() || res.FailedStage != types.StageListing {
		t.Errorf("result = %+v", res)
	}
	if res.Error != ErrNoRemoteFiles.Error() {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestDirectUpload_DownloadFailure(t *testing.T) {
	shell := listingShell("./a.wiglecsv\n./b.wiglecsv\n")
	fetcher := &fakeFetcher{
		files: map[string][]byte{deviceDir + "/b.wiglecsv": []byte("bravo")},
		fail:  map[string]error{deviceDir + "/a.wiglecsv": errors.New("connection reset")},
	}
	up := &fakeUploader{receipts: map[string]ingest.Receipt{"b.wiglecsv": {TransactionID: "t1"}}}
	d, _ := newDirect(t, shell, fetcher, up, nil)

	res := d.Execute(t.Context())

	if !res.Succeeded() {
		t.Fatalf("status = %s, error = %q", res.Status, res.Error)
	}
	if res.Outcomes[0].Kind != types.OutcomeFailed || !strings.HasPrefix(res.Outcomes[0].Reason, "download: ") {
		t.Errorf("Outcomes[0] = %+v", res.Outcomes[0])
	}
	if _, ok := up.bodies["a.wiglecsv"]; ok {
		t.Error("failed download was uploaded")
	}
	rm := shell.ran("rm -f")
	if len(rm) != 1 || strings.Contains(rm[0], "a.wiglecsv") {
		t.Errorf("rm commands = %v", rm)
	}
}

func TestDirectUpload_AllFailedKeepsRemote(t *testing.T) {
	shell := listingShell("./a.wiglecsv\n")
	fetcher := &fakeFetcher{files: map[string][]byte{deviceDir + "/a.wiglecsv": []byte("alpha")}}
	up := &fakeUploader{errs: map[string]error{"a.wiglecsv": ingest.ErrRejected}}
	d, _ := newDirect(t, shell, fetcher, up, nil)

	res := d.Execute(t.Context())

	if !res.Succeeded() {
		t.Fatalf("status = %s, error = %q", res.Status, res.Error)
	}
	if len(shell.ran("rm ")) != 0 {
		t.Error("remote delete issued with no successful uploads")
	}
}

func TestDirectUpload_CleanupFailure(t *testing.T) {
	shell := listingShell("./a.wiglecsv\n")
	inner := shell.handle
	shell.handle = func(cmd string) remote.Result {
		if strings.Contains(cmd, "rm -f") {
			return remote.Result{ExitCode: 1, Stderr: "Permission denied"}
		}
		return inner(cmd)
	}
	fetcher := &fakeFetcher{files: map[string][]byte{deviceDir + "/a.wiglecsv": []byte("alpha")}}
	up := &fakeUploader{receipts: map[string]ingest.Receipt{"a.wiglecsv": {TransactionID: "t1"}}}
	d, _ := newDirect(t, shell, fetcher, up, nil)

	res := d.Execute(t.Context())

	if res.Succeeded() || res.FailedStage != types.StageCleanupDeleting {
		t.Errorf("result = %+v", res)
	}
	if res.RemoteDeleted != 0 || len(res.Outcomes) != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestLocalUpload_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for name, content := range map[string]string{"a.wiglecsv": "alpha", "b.wiglecsv": "bravo"} {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(dir, "gone.wiglecsv"))
	if paths[0] > paths[1] {
		paths[0], paths[1] = paths[1], paths[0]
	}
	up := &fakeUploader{
		receipts: map[string]ingest.Receipt{"a.wiglecsv": {TransactionID: "t1"}},
		errs:     map[string]error{"b.wiglecsv": ingest.ErrRejected},
	}

	l, err := NewLocalUpload(LocalConfig{Paths: paths, Uploader: up, HasCredential: func() bool { return true }})
	if err != nil {
		t.Fatal(err)
	}
	res := l.Execute(t.Context())
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}

	kinds := make([]types.UploadOutcomeKind, len(res.Outcomes))
	for i, o := range res.Outcomes {
		kinds[i] = o.Kind
	}
	want := []types.UploadOutcomeKind{types.OutcomeUploaded, types.OutcomeFailed, types.OutcomeFailed}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
	for _, p := range paths[:2] {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("local file %s removed: %v", p, err)
		}
	}
}

func TestLocalUpload(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.wiglecsv")
	if err := os.WriteFile(p, []byte("alpha"), 0o644); err != nil {
		t.Fatal(err)
	}
	up := &fakeUploader{receipts: map[string]ingest.Receipt{"a.wiglecsv": {TransactionID: "t1"}}}

	tests := []struct {
		name    string
		cfg     LocalConfig
		wantOK  bool
		outcome int
	}{
		{"uploads", LocalConfig{Paths: []string{p}, Uploader: up, HasCredential: func() bool { return true }}, true, 1},
		{"no credential", LocalConfig{Paths: []string{p}, Uploader: up, HasCredential: func() bool { return false }}, false, 0},
		{"nothing selected", LocalConfig{Uploader: up, HasCredential: func() bool { return true }}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLocalUpload(tt.cfg)
			if err != nil {
				t.Fatalf("NewLocalUpload() error = %v", err)
			}
			res := l.Execute(t.Context())
			if res.Succeeded() != tt.wantOK || len(res.Outcomes) != tt.outcome {
				t.Errorf("result = %+v", res)
			}
			if res.Pipeline != types.PipelineLocalUpload {
				t.Errorf("Pipeline = %s", res.Pipeline)
			}
		})
	}
}
