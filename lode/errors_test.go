package lode

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{"context deadline exceeded", ErrTimeout},
		{"connection timeout after 30s", ErrTimeout},
		{"AccessDenied: you do not have access", ErrAccessDenied},
		{"received status 403", ErrAccessDenied},
		{"permission denied for /data/ledger", ErrPermissionDenied},
		{"open /tmp/file: EACCES", ErrPermissionDenied},
		{"write /data/ledger: no space left on device", ErrDiskFull},
		{"quota exceeded for user", ErrDiskFull},
		{"open /missing: no such file or directory", ErrNotFound},
		{"NoSuchKey: The specified key does not exist", ErrNotFound},
		{"SlowDown: please reduce request rate", ErrThrottled},
		{"received status 429", ErrThrottled},
		{"NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"ExpiredToken: the security token has expired", ErrAuth},
		{"dial tcp 127.0.0.1:9000: connection refused", ErrNetwork},
		{"DNS lookup failed for bucket.s3.amazonaws.com", ErrNetwork},
		{"something completely unexpected happened", ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := classifyError(errors.New(tt.msg)); !errors.Is(got, tt.want) {
				t.Errorf("classifyError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := classifyError(nil); got != nil {
		t.Errorf("classifyError(nil) = %v", got)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError_TypedTimeout(t *testing.T) {
	err := fmt.Errorf("put: %w", timeoutErr{})
	if got := classifyError(err); !errors.Is(got, ErrTimeout) {
		t.Errorf("classifyError() = %v, want ErrTimeout", got)
	}
}

func TestStorageError(t *testing.T) {
	inner := errors.New("no space left on device")
	err := WrapWriteError(inner, "frostband_runs/run-1")

	if !errors.Is(err, ErrDiskFull) {
		t.Error("errors.Is(ErrDiskFull) = false")
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "write" || !errors.Is(se.Err, inner) {
		t.Errorf("StorageError = %+v", se)
	}
	if want := "write frostband_runs/run-1: no space left on device: no space left on device"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if WrapReadError(nil, "x") != nil || WrapInitError(nil, "x") != nil {
		t.Error("nil error wrapped")
	}
}
