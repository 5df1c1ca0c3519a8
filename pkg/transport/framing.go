package transport

import (
	"encoding/binary"
	"io"
)

// LengthPrefixSize is the size of the length prefix TCP streaming uses to
// delimit one framed wire message (an Envelope from pkg/wire) from the
// next.
const LengthPrefixSize = 4

// MaxDatagramSize bounds a single UDP message; larger payloads must use
// the TCP carrier instead.
const MaxDatagramSize = 1280

// maxStreamFrameSize bounds a single TCP-framed message to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxStreamFrameSize = MaxDatagramSize * 2

// StreamWriter wraps an io.Writer to add length-prefix framing for
// stream-oriented carriers (TCP).
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a stream writer for frame-delimited writes.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// Write writes a message with a 4-byte little-endian length prefix.
func (sw *StreamWriter) Write(frame []byte) (int, error) {
	var lenBuf [LengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frame)))

	n, err := sw.w.Write(lenBuf[:])
	if err != nil {
		return n, err
	}
	m, err := sw.w.Write(frame)
	return n + m, err
}

// StreamReader wraps an io.Reader to read length-prefixed frames.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader creates a stream reader for frame-delimited reads.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// Read reads one length-prefixed message from the stream.
func (sr *StreamReader) Read() ([]byte, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, ErrStreamReadFailed
	}

	frameLen := binary.LittleEndian.Uint32(lenBuf[:])
	if frameLen == 0 {
		return nil, ErrInvalidLengthPrefix
	}
	if frameLen > maxStreamFrameSize {
		return nil, ErrMessageTooLarge
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(sr.r, frame); err != nil {
		return nil, ErrStreamReadFailed
	}
	return frame, nil
}

// ValidateDatagramSize checks a datagram payload is within UDP MTU limits.
func ValidateDatagramSize(data []byte) error {
	if len(data) > MaxDatagramSize {
		return ErrMessageTooLarge
	}
	return nil
}
