package wire

import (
	"time"

	"github.com/meshguard/attestmesh/pkg/heartbeat"
	"github.com/meshguard/attestmesh/pkg/tlv"
)

const (
	tagPulseDeviceID = iota
	tagPulseSignature
	tagPulseTimestamp
)

const (
	tagAckConnectionID = iota
	tagAckAckedAt
)

const (
	tagRejectedConnectionID = iota
	tagRejectedReason
)

const (
	tagForceDisconnectConnectionID = iota
	tagForceDisconnectReason
)

// EncodePulse encodes a client pulse as a framed Envelope.
func EncodePulse(p heartbeat.Pulse) ([]byte, error) {
	buf, w, err := newStructWriter()
	if err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPulseDeviceID), p.DeviceID[:]); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagPulseSignature), p.Signature); err != nil {
		return nil, err
	}
	if err := w.PutInt(tlv.ContextTag(tagPulseTimestamp), p.Timestamp.UTC().UnixNano()); err != nil {
		return nil, err
	}
	payload, err := finishStructWriter(buf, w)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(MessageTypePulse, payload), nil
}

// DecodePulse decodes a client pulse payload.
func DecodePulse(payload []byte) (heartbeat.Pulse, error) {
	var p heartbeat.Pulse
	r, err := newStructReader(payload)
	if err != nil {
		return p, err
	}
	for {
		if err := r.Next(); err != nil {
			return p, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagPulseDeviceID:
			v, err := r.Bytes()
			if err != nil {
				return p, err
			}
			if len(v) != len(p.DeviceID) {
				return p, ErrFieldLength
			}
			copy(p.DeviceID[:], v)
		case tagPulseSignature:
			v, err := r.Bytes()
			if err != nil {
				return p, err
			}
			p.Signature = v
		case tagPulseTimestamp:
			v, err := r.Int()
			if err != nil {
				return p, err
			}
			p.Timestamp = time.Unix(0, v).UTC()
		default:
			if err := r.Skip(); err != nil {
				return p, err
			}
		}
	}
	return p, nil
}

// EncodeAck encodes a server Ack as a framed Envelope.
func EncodeAck(a *heartbeat.Ack) ([]byte, error) {
	buf, w, err := newStructWriter()
	if err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagAckConnectionID), a.ConnectionID); err != nil {
		return nil, err
	}
	if err := w.PutInt(tlv.ContextTag(tagAckAckedAt), a.AckedAt.UTC().UnixNano()); err != nil {
		return nil, err
	}
	payload, err := finishStructWriter(buf, w)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(MessageTypeAck, payload), nil
}

// DecodeAck decodes a server Ack payload.
func DecodeAck(payload []byte) (*heartbeat.Ack, error) {
	r, err := newStructReader(payload)
	if err != nil {
		return nil, err
	}
	a := &heartbeat.Ack{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagAckConnectionID:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			a.ConnectionID = v
		case tagAckAckedAt:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			a.AckedAt = time.Unix(0, v).UTC()
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// EncodeRejected encodes a server Rejected as a framed Envelope.
func EncodeRejected(rej *heartbeat.Rejected) ([]byte, error) {
	buf, w, err := newStructWriter()
	if err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagRejectedConnectionID), rej.ConnectionID); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagRejectedReason), rej.Reason); err != nil {
		return nil, err
	}
	payload, err := finishStructWriter(buf, w)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(MessageTypeRejected, payload), nil
}

// DecodeRejected decodes a server Rejected payload.
func DecodeRejected(payload []byte) (*heartbeat.Rejected, error) {
	r, err := newStructReader(payload)
	if err != nil {
		return nil, err
	}
	rej := &heartbeat.Rejected{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagRejectedConnectionID:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			rej.ConnectionID = v
		case tagRejectedReason:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			rej.Reason = v
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return rej, nil
}

// EncodeForceDisconnect encodes a ForceDisconnect as a framed Envelope.
func EncodeForceDisconnect(fd *heartbeat.ForceDisconnect) ([]byte, error) {
	buf, w, err := newStructWriter()
	if err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagForceDisconnectConnectionID), fd.ConnectionID); err != nil {
		return nil, err
	}
	if err := w.PutString(tlv.ContextTag(tagForceDisconnectReason), fd.Reason); err != nil {
		return nil, err
	}
	payload, err := finishStructWriter(buf, w)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(MessageTypeForceDisconnect, payload), nil
}

// DecodeForceDisconnect decodes a ForceDisconnect payload.
func DecodeForceDisconnect(payload []byte) (*heartbeat.ForceDisconnect, error) {
	r, err := newStructReader(payload)
	if err != nil {
		return nil, err
	}
	fd := &heartbeat.ForceDisconnect{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagForceDisconnectConnectionID:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			fd.ConnectionID = v
		case tagForceDisconnectReason:
			v, err := r.String()
			if err != nil {
				return nil, err
			}
			fd.Reason = v
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return fd, nil
}
