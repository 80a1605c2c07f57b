package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/FadeVT/Frostband/types"
)

func encodeRaw(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestFrameWriter_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []types.Event{
		{RunID: "run-001", Pipeline: types.PipelinePullPurge, Stage: types.StageBuildingManifest, Time: ts},
		{RunID: "run-001", Pipeline: types.PipelinePullPurge, Stage: types.StageVerifying, Line: "MISMATCH: b.wiglecsv", Time: ts},
	}
	result := &types.RunResult{
		RunID:                "run-001",
		Pipeline:             types.PipelinePullPurge,
		Status:               types.RunStatusFailed,
		FailedStage:          types.StageVerifying,
		VerificationFailures: []string{"MISMATCH: b.wiglecsv"},
		StartedAt:            ts,
		Duration:             3 * time.Second,
	}

	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	for _, ev := range events {
		if err := w.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}
	if err := w.WriteResult(result); err != nil {
		t.Fatalf("WriteResult: %v", err)
	}

	dec := NewFrameDecoder(&buf)
	for i, want := range events {
		f, err := dec.Next()
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if f.Type != TypeEvent || f.ContractVersion != types.FrameContractVersion {
			t.Errorf("frame %d header = %q %q", i, f.Type, f.ContractVersion)
		}
		got := *f.Event
		if got.Stage != want.Stage || got.Line != want.Line || got.RunID != want.RunID || !got.Time.Equal(want.Time) {
			t.Errorf("event %d = %+v, want %+v", i, got, want)
		}
	}

	f, err := dec.Next()
	if err != nil {
		t.Fatalf("Next result: %v", err)
	}
	if f.Type != TypeResult {
		t.Fatalf("Type = %q", f.Type)
	}
	if f.Result.Status != types.RunStatusFailed || f.Result.Duration != 3*time.Second ||
		!reflect.DeepEqual(f.Result.VerificationFailures, result.VerificationFailures) {
		t.Errorf("result = %+v", f.Result)
	}

	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next at end = %v, want io.EOF", err)
	}
}

func TestFrameDecoder_Errors(t *testing.T) {
	valid, err := EncodeFrame(&Frame{Type: TypeEvent, Event: &types.Event{RunID: "r"}})
	if err != nil {
		t.Fatal(err)
	}
	framed := encodeRaw(valid)
	huge := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(huge, MaxPayloadSize+1)
	garbage, _ := msgpack.Marshal("not a map")
	untyped, _ := msgpack.Marshal(map[string]any{"type": "artifact_chunk"})

	tests := []struct {
		name  string
		input []byte
		kind  FrameErrorKind
		fatal bool
	}{
		{"partial prefix", framed[:2], FrameErrorPartial, true},
		{"partial payload", framed[:len(framed)-1], FrameErrorPartial, true},
		{"too large", huge, FrameErrorTooLarge, true},
		{"not a frame", encodeRaw(garbage), FrameErrorDecode, false},
		{"unknown type", encodeRaw(untyped), FrameErrorDecode, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameDecoder(bytes.NewReader(tt.input)).Next()
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Fatalf("Next() error = %v, want *FrameError", err)
			}
			if fe.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", fe.Kind, tt.kind)
			}
			if IsFatalFrameError(err) != tt.fatal {
				t.Errorf("IsFatalFrameError = %v, want %v", !tt.fatal, tt.fatal)
			}
		})
	}
}

func TestFrameDecoder_EmptyStream(t *testing.T) {
	if _, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame(); err != io.EOF {
		t.Errorf("ReadFrame() = %v, want io.EOF", err)
	}
}
