package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/FadeVT/Frostband/ingest"
	"github.com/FadeVT/Frostband/remote"
	"github.com/FadeVT/Frostband/types"
)

// fakeShell answers commands by substring match and records every command.
type fakeShell struct {
	mu       sync.Mutex
	commands []string
	handle   func(cmd string) remote.Result
}

func (f *fakeShell) Execute(_ context.Context, cmd string) remote.Result {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()
	if f.handle == nil {
		return remote.Result{}
	}
	return f.handle(cmd)
}

func (f *fakeShell) ran(substr string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.commands {
		if strings.Contains(c, substr) {
			out = append(out, c)
		}
	}
	return out
}

// fakeFetcher serves remote files from memory.
type fakeFetcher struct {
	mu      sync.Mutex
	files   map[string][]byte
	fail    map[string]error
	fetched []string
	hook    func(remotePath string)
}

func (f *fakeFetcher) Fetch(_ context.Context, remotePath, localPath string) error {
	f.mu.Lock()
	f.fetched = append(f.fetched, remotePath)
	hook := f.hook
	err := f.fail[remotePath]
	data, ok := f.files[remotePath]
	f.mu.Unlock()

	if hook != nil {
		hook(remotePath)
	}
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("scp: %s: No such file or directory", remotePath)
	}
	return os.WriteFile(localPath, data, 0o644)
}

// fakeUploader returns canned receipts keyed by file name.
type fakeUploader struct {
	mu       sync.Mutex
	receipts map[string]ingest.Receipt
	errs     map[string]error
	bodies   map[string]string
}

func (f *fakeUploader) Upload(_ context.Context, name string, body io.Reader) (ingest.Receipt, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ingest.Receipt{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bodies == nil {
		f.bodies = map[string]string{}
	}
	f.bodies[name] = string(data)
	if err := f.errs[name]; err != nil {
		return ingest.Receipt{}, err
	}
	if r, ok := f.receipts[name]; ok {
		return r, nil
	}
	return ingest.Receipt{}, errors.New("unexpected upload " + name)
}

// drain collects every event after the run has ended.
func drain(r *Run) []types.Event {
	<-r.Done()
	var events []types.Event
	for ev := range r.Events() {
		events = append(events, ev)
	}
	return events
}

func transitions(events []types.Event) []types.Stage {
	var stages []types.Stage
	for _, ev := range events {
		if ev.IsTransition() {
			stages = append(stages, ev.Stage)
		}
	}
	return stages
}
