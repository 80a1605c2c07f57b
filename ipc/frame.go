// Package ipc streams pipeline progress as length-prefixed msgpack frames.
//
// Each frame is a 4-byte big-endian payload length followed by a msgpack
// map with a "type" discriminant: "event" frames carry a types.Event,
// the single trailing "result" frame carries the types.RunResult.
package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/FadeVT/Frostband/types"
)

// Frame size limits.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Frame type discriminants.
const (
	TypeEvent  = "event"
	TypeResult = "result"
)

// structTag makes frames reuse the json field names of the domain types.
const structTag = "json"

// Frame is one decoded message. Exactly one of Event and Result is set.
type Frame struct {
	Type            string           `json:"type"`
	ContractVersion string           `json:"contract_version"`
	Event           *types.Event     `json:"event,omitempty"`
	Result          *types.RunResult `json:"result,omitempty"`
}

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError describes a frame that could not be read or decoded.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether the stream cannot continue after this error.
// Partial and oversized frames leave the reader misaligned.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError reports whether err is a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.IsFatal()
}

// FrameWriter encodes frames onto w. It is safe for concurrent use.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewFrameWriter returns a writer emitting frames to w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteEvent emits an event frame.
func (fw *FrameWriter) WriteEvent(ev types.Event) error {
	return fw.write(&Frame{Type: TypeEvent, ContractVersion: types.FrameContractVersion, Event: &ev})
}

// WriteResult emits the result frame.
func (fw *FrameWriter) WriteResult(res *types.RunResult) error {
	return fw.write(&Frame{Type: TypeResult, ContractVersion: types.FrameContractVersion, Result: res})
}

func (fw *FrameWriter) write(f *Frame) error {
	payload, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if _, err := fw.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = fw.w.Write(payload)
	return err
}

// EncodeFrame marshals f into a frame payload (without length prefix).
func EncodeFrame(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(structTag)
	if err := enc.Encode(f); err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	if buf.Len() > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", buf.Len(), MaxPayloadSize),
		}
	}
	return buf.Bytes(), nil
}

// FrameDecoder reads length-prefixed frames from a stream.
type FrameDecoder struct {
	r io.Reader
}

// NewFrameDecoder returns a decoder reading from r.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: r}
}

// ReadFrame reads one raw payload.
//
// Errors:
//   - io.EOF: stream ended cleanly between frames
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// Next reads and decodes the next frame.
func (d *FrameDecoder) Next() (*Frame, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeFrame(payload)
}

// DecodeFrame decodes a payload, checking that the body matches its type.
func DecodeFrame(payload []byte) (*Frame, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag(structTag)
	var f Frame
	if err := dec.Decode(&f); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame", Err: err}
	}
	switch {
	case f.Type == TypeEvent && f.Event != nil:
	case f.Type == TypeResult && f.Result != nil:
	default:
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("malformed %q frame", f.Type)}
	}
	return &f, nil
}
