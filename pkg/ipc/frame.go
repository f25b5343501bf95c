// Package ipc implements the daemon's length-prefixed JSON frame protocol:
// one bidirectional stream per connection carrying request/response and
// subscribe/event/complete/cancel frames over a Unix domain socket or
// loopback TCP.
package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Frame size limits: a 4-byte big-endian length prefix and a fixed
// payload ceiling.
const (
	MaxFrameSize     = 16 * 1024 * 1024
	LengthPrefixSize = 4
	MaxPayloadSize   = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies a frame decode failure.
type FrameErrorKind int

const (
	FrameErrorPartial FrameErrorKind = iota
	FrameErrorTooLarge
	FrameErrorDecode
)

// FrameError is returned by ReadFrame/Decode for any malformed frame.
// Partial and oversized frames are fatal to the connection; a decode error
// on one frame is not — the connection can keep reading subsequent frames.
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

// IsFatal reports whether the connection must be closed after this error.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// FrameReader reads length-prefixed JSON payloads from a stream.
type FrameReader struct {
	r *bufio.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameReader{r: br}
}

// ReadFrame returns the next frame's raw JSON payload. io.EOF signals a
// clean stream end with no partial frame pending.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > MaxPayloadSize {
		return nil, &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize)}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	return payload, nil
}

// FrameWriter writes length-prefixed JSON payloads to a stream. Callers
// serialize writes themselves (one writer goroutine per connection plus a
// mutex) since concurrent Write calls would interleave frames.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter { return &FrameWriter{w: w} }

// WriteJSON marshals v and writes it as one frame.
func (fw *FrameWriter) WriteJSON(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{Kind: FrameErrorTooLarge, Msg: fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize)}
	}
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	_, err = fw.w.Write(buf)
	return err
}

// probeType extracts the top-level "type" field from a frame payload
// without fully unmarshaling it, so the connection loop can dispatch to
// the right concrete frame struct.
func probeType(payload []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return "", &FrameError{Kind: FrameErrorDecode, Msg: "failed to probe frame type", Err: err}
	}
	if head.Type == "" {
		return "", &FrameError{Kind: FrameErrorDecode, Msg: "frame missing type field"}
	}
	return head.Type, nil
}
