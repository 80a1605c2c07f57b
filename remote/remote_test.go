package remote

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/home/pi/kismet", "'/home/pi/kismet'"},
		{"dir with space", "'dir with space'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestJoin(t *testing.T) {
	tests := []struct {
		root, rel, want string
	}{
		{"/home/pi/kismet", "a.wiglecsv", "/home/pi/kismet/a.wiglecsv"},
		{"/home/pi/kismet/", "./sub/b.wiglecsv", "/home/pi/kismet/sub/b.wiglecsv"},
		{"captures", "c.wiglecsv", "captures/c.wiglecsv"},
	}
	for _, tt := range tests {
		if got := Join(tt.root, tt.rel); got != tt.want {
			t.Errorf("Join(%q, %q) = %q, want %q", tt.root, tt.rel, got, tt.want)
		}
	}
}

func TestResult_Err(t *testing.T) {
	if err := (Result{ExitCode: 0, Stderr: "noise"}).Err(); err != nil {
		t.Errorf("Err() on success = %v, want nil", err)
	}

	err := Result{ExitCode: 2, Stderr: "tar: error\n"}.Err()
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *CommandError, got %T", err)
	}
	if cmdErr.ExitCode != 2 || cmdErr.Stderr != "tar: error" {
		t.Errorf("CommandError = %+v", cmdErr)
	}

	err = Result{ExitCode: ExitConnectFailed, Stderr: "dial tcp: refused"}.Err()
	if !strings.HasPrefix(err.Error(), "connection failed") {
		t.Errorf("connect failure message = %q", err)
	}
}

func TestTarget_Address(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Target{Host: "pi.local"}, "pi.local:22"},
		{Target{Host: "10.0.0.2", Port: 2222}, "10.0.0.2:2222"},
		{Target{Host: "fe80::1"}, "[fe80::1]:22"},
	}
	for _, tt := range tests {
		if got := tt.target.Address(); got != tt.want {
			t.Errorf("Address() = %q, want %q", got, tt.want)
		}
	}
	if got := (Target{Host: "pi.local", User: "pi"}).Destination(); got != "pi@pi.local" {
		t.Errorf("Destination() = %q", got)
	}
}

func TestNew_Transport(t *testing.T) {
	c, err := New(Options{Target: Target{Host: "h", User: "u"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*NativeClient); !ok {
		t.Errorf("default transport = %T, want *NativeClient", c)
	}

	c, err = New(Options{Transport: "openssh"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(*OpenSSH); !ok {
		t.Errorf("openssh transport = %T, want *OpenSSH", c)
	}

	if _, err := New(Options{Transport: "telnet"}); err == nil {
		t.Error("expected error for unknown transport")
	}
}

type recordedCall struct {
	name string
	args []string
}

func stubRun(result Result, calls *[]recordedCall) runFunc {
	return func(_ context.Context, name string, args ...string) Result {
		*calls = append(*calls, recordedCall{name: name, args: args})
		return result
	}
}

func TestOpenSSH_Execute(t *testing.T) {
	var calls []recordedCall
	o := NewOpenSSH(OpenSSHConfig{
		Target:       Target{Host: "pi.local", User: "pi", Port: 2222},
		IdentityFile: "/keys/id_ed25519",
	})
	o.run = stubRun(Result{ExitCode: 0, Stdout: "success\n"}, &calls)

	res := o.Execute(t.Context(), "echo success")
	if !res.OK() || res.Stdout != "success\n" {
		t.Errorf("Execute() = %+v", res)
	}

	want := []string{"-o", "BatchMode=yes", "-i", "/keys/id_ed25519", "-p", "2222", "pi@pi.local", "echo success"}
	if len(calls) != 1 || calls[0].name != "ssh" || !reflect.DeepEqual(calls[0].args, want) {
		t.Errorf("calls = %+v, want ssh %v", calls, want)
	}
}

func TestOpenSSH_FetchFailure(t *testing.T) {
	var calls []recordedCall
	o := NewOpenSSH(OpenSSHConfig{
		Target:                Target{Host: "pi.local", User: "pi"},
		InsecureIgnoreHostKey: true,
	})
	o.run = stubRun(Result{ExitCode: 1, Stderr: "No such file"}, &calls)

	local := t.TempDir() + "/w.tgz"
	err := o.Fetch(t.Context(), "/tmp/w.tgz", local)
	if err == nil || !strings.Contains(err.Error(), "No such file") {
		t.Fatalf("Fetch() error = %v", err)
	}

	args := calls[0].args
	if calls[0].name != "scp" {
		t.Errorf("program = %q, want scp", calls[0].name)
	}
	if args[len(args)-2] != "pi@pi.local:/tmp/w.tgz" || args[len(args)-1] != local {
		t.Errorf("scp args = %v", args)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "StrictHostKeyChecking=no") {
		t.Errorf("insecure mode not applied: %v", args)
	}
	if strings.Contains(joined, "-P") {
		t.Errorf("default port should not be passed: %v", args)
	}
}

func stubStream(body string, result Result, calls *[]recordedCall) streamFunc {
	return func(_ context.Context, w io.Writer, name string, args ...string) Result {
		*calls = append(*calls, recordedCall{name: name, args: args})
		_, _ = io.WriteString(w, body)
		return result
	}
}

func TestOpenSSH_FetchPathWithSpaces(t *testing.T) {
	var runs, streams []recordedCall
	o := NewOpenSSH(OpenSSHConfig{Target: Target{Host: "pi.local", User: "pi", Port: 2222}})
	o.run = stubRun(Result{}, &runs)
	o.stream = stubStream("payload", Result{}, &streams)

	local := filepath.Join(t.TempDir(), "out", "w.tgz")
	if err := o.Fetch(t.Context(), "/home/pi/my captures/it's.tgz", local); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("scp should not run for a path with spaces: %+v", runs)
	}
	want := []string{"-o", "BatchMode=yes", "-p", "2222", "pi@pi.local", `cat -- '/home/pi/my captures/it'\''s.tgz'`}
	if len(streams) != 1 || streams[0].name != "ssh" || !reflect.DeepEqual(streams[0].args, want) {
		t.Errorf("calls = %+v, want ssh %v", streams, want)
	}
	got, err := os.ReadFile(local)
	if err != nil || string(got) != "payload" {
		t.Errorf("local file = %q, %v", got, err)
	}
}

func TestOpenSSH_FetchStreamFailureRemovesFile(t *testing.T) {
	var streams []recordedCall
	o := NewOpenSSH(OpenSSHConfig{Target: Target{Host: "pi.local", User: "pi"}})
	o.stream = stubStream("partial", Result{ExitCode: 1, Stderr: "No such file"}, &streams)

	local := filepath.Join(t.TempDir(), "w.tgz")
	err := o.Fetch(t.Context(), "/tmp/a b.tgz", local)
	if err == nil || !strings.Contains(err.Error(), "No such file") {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("partial file left behind: %v", err)
	}
}

func TestScpSafe(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"/tmp/wardrive-20240601.tgz", true},
		{"/home/pi/kismet/Kismet-1.wiglecsv", true},
		{"/tmp/a b.tgz", false},
		{"/tmp/$HOME.tgz", false},
		{"~/kismet/w.tgz", true},
		{"~root/w.tgz", false},
		{"/tmp/it's", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := scpSafe(tt.in); got != tt.want {
			t.Errorf("scpSafe(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestShellPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/a b", "'/tmp/a b'"},
		{"~/my captures/x", "~/'my captures/x'"},
		{"~user/x", "'~user/x'"},
	}
	for _, tt := range tests {
		if got := shellPath(tt.in); got != tt.want {
			t.Errorf("shellPath(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRunLocal_MissingBinary(t *testing.T) {
	res := runLocal(t.Context(), "frostband-definitely-missing-binary")
	if res.ExitCode != ExitConnectFailed {
		t.Errorf("ExitCode = %d, want %d", res.ExitCode, ExitConnectFailed)
	}
	if res.Stderr == "" {
		t.Error("expected error text in Stderr")
	}
}
