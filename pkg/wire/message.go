// Package wire implements the versioned TLV wire schemas for every message
// this module's components exchange: the attestation handshake (Request,
// Response, Finalize) and the heartbeat link (Pulse, Ack, Rejected,
// ForceDisconnect). Each message is framed as a one-byte MessageType
// followed by its TLV-encoded structure, built on top of pkg/tlv.
package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/meshguard/attestmesh/pkg/tlv"
)

// MessageType identifies which schema follows the type byte in an
// Envelope. Adding a new message type is additive; existing values must
// never be renumbered once deployed.
type MessageType byte

const (
	MessageTypeRequest MessageType = iota + 1
	MessageTypeResponse
	MessageTypeFinalize
	MessageTypePulse
	MessageTypeAck
	MessageTypeRejected
	MessageTypeForceDisconnect
)

// String returns a human-readable message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeResponse:
		return "Response"
	case MessageTypeFinalize:
		return "Finalize"
	case MessageTypePulse:
		return "Pulse"
	case MessageTypeAck:
		return "Ack"
	case MessageTypeRejected:
		return "Rejected"
	case MessageTypeForceDisconnect:
		return "ForceDisconnect"
	default:
		return "Unknown"
	}
}

// ErrUnknownMessageType is returned when decoding an Envelope whose type
// byte does not match any known MessageType.
var ErrUnknownMessageType = fmt.Errorf("wire: unknown message type")

// ErrFieldLength is returned when a fixed-size field (a nonce or a node
// ID) decodes to the wrong number of bytes.
var ErrFieldLength = fmt.Errorf("wire: field has wrong length")

// Envelope wraps an encoded message with its type byte so a transport can
// dispatch to the right decoder without first parsing the TLV body.
type Envelope struct {
	Type    MessageType
	Payload []byte
}

// EncodeEnvelope frames payload (already TLV-encoded by one of the
// Encode* functions below) with its type byte.
func EncodeEnvelope(t MessageType, payload []byte) []byte {
	out := make([]byte, 0, 1+len(payload))
	out = append(out, byte(t))
	return append(out, payload...)
}

// DecodeEnvelope splits a framed message back into its type and payload.
func DecodeEnvelope(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, io.ErrUnexpectedEOF
	}
	t := MessageType(data[0])
	switch t {
	case MessageTypeRequest, MessageTypeResponse, MessageTypeFinalize,
		MessageTypePulse, MessageTypeAck, MessageTypeRejected, MessageTypeForceDisconnect:
		return Envelope{Type: t, Payload: data[1:]}, nil
	default:
		return Envelope{}, ErrUnknownMessageType
	}
}

// newStructWriter returns a Writer that has already opened an anonymous
// top-level structure; callers append fields and then call
// finishStructWriter.
func newStructWriter() (*bytes.Buffer, *tlv.Writer, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return nil, nil, err
	}
	return &buf, w, nil
}

func finishStructWriter(buf *bytes.Buffer, w *tlv.Writer) ([]byte, error) {
	if err := w.EndContainer(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// newStructReader opens the anonymous top-level structure of an encoded
// message body and returns a Reader positioned to read its fields with
// Next/Tag.
func newStructReader(payload []byte) (*tlv.Reader, error) {
	r := tlv.NewReader(bytes.NewReader(payload))
	if err := r.Next(); err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	return r, nil
}
