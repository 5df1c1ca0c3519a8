package wire

import (
	"time"

	"github.com/meshguard/attestmesh/pkg/handshake"
	"github.com/meshguard/attestmesh/pkg/tlv"
)

const (
	tagReqProtocolVersion = iota
	tagReqChallengeNonce
	tagReqInitiatorIdentity
	tagReqInitiatorChain
	tagReqTimestamp
)

const (
	tagRespSignedChallenge = iota
	tagRespCounterChallengeNonce
	tagRespResponderIdentity
	tagRespResponderChain
	tagRespTpmQuote
	tagRespTimestamp
)

const (
	tagFinSignedCounterChallenge = iota
	tagFinTimestamp
)

// EncodeRequest encodes M1 as a framed Envelope.
func EncodeRequest(req *handshake.Request) ([]byte, error) {
	buf, w, err := newStructWriter()
	if err != nil {
		return nil, err
	}
	if err := w.PutUint(tlv.ContextTag(tagReqProtocolVersion), uint64(req.ProtocolVersion)); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagReqChallengeNonce), req.ChallengeNonce[:]); err != nil {
		return nil, err
	}
	if err := writeIdentitySummary(w, tlv.ContextTag(tagReqInitiatorIdentity),
		req.InitiatorIdentity.NodeID, req.InitiatorIdentity.PublicKey, req.InitiatorIdentity.Metadata); err != nil {
		return nil, err
	}
	if err := writeCertChain(w, tlv.ContextTag(tagReqInitiatorChain), req.InitiatorChain); err != nil {
		return nil, err
	}
	if err := w.PutInt(tlv.ContextTag(tagReqTimestamp), req.Timestamp.UTC().UnixNano()); err != nil {
		return nil, err
	}
	payload, err := finishStructWriter(buf, w)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(MessageTypeRequest, payload), nil
}

// DecodeRequest decodes an M1 payload (the bytes after the Envelope type
// byte have already been stripped by DecodeEnvelope).
func DecodeRequest(payload []byte) (*handshake.Request, error) {
	r, err := newStructReader(payload)
	if err != nil {
		return nil, err
	}
	req := &handshake.Request{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagReqProtocolVersion:
			v, err := r.Uint()
			if err != nil {
				return nil, err
			}
			req.ProtocolVersion = uint32(v)
		case tagReqChallengeNonce:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			if len(v) != len(req.ChallengeNonce) {
				return nil, ErrFieldLength
			}
			copy(req.ChallengeNonce[:], v)
		case tagReqInitiatorIdentity:
			id, err := readIdentitySummary(r)
			if err != nil {
				return nil, err
			}
			req.InitiatorIdentity = handshake.IdentitySummary{NodeID: id.NodeID, PublicKey: id.PublicKey, Metadata: id.Metadata}
		case tagReqInitiatorChain:
			chain, err := readCertChain(r)
			if err != nil {
				return nil, err
			}
			req.InitiatorChain = chain
		case tagReqTimestamp:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			req.Timestamp = time.Unix(0, v).UTC()
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return req, nil
}

// EncodeResponse encodes M2 as a framed Envelope.
func EncodeResponse(resp *handshake.Response) ([]byte, error) {
	buf, w, err := newStructWriter()
	if err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRespSignedChallenge), resp.SignedChallenge); err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagRespCounterChallengeNonce), resp.CounterChallengeNonce[:]); err != nil {
		return nil, err
	}
	if err := writeIdentitySummary(w, tlv.ContextTag(tagRespResponderIdentity),
		resp.ResponderIdentity.NodeID, resp.ResponderIdentity.PublicKey, resp.ResponderIdentity.Metadata); err != nil {
		return nil, err
	}
	if err := writeCertChain(w, tlv.ContextTag(tagRespResponderChain), resp.ResponderChain); err != nil {
		return nil, err
	}
	if resp.TpmQuote != nil {
		if err := writeQuote(w, tlv.ContextTag(tagRespTpmQuote), resp.TpmQuote); err != nil {
			return nil, err
		}
	}
	if err := w.PutInt(tlv.ContextTag(tagRespTimestamp), resp.Timestamp.UTC().UnixNano()); err != nil {
		return nil, err
	}
	payload, err := finishStructWriter(buf, w)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(MessageTypeResponse, payload), nil
}

// DecodeResponse decodes an M2 payload.
func DecodeResponse(payload []byte) (*handshake.Response, error) {
	r, err := newStructReader(payload)
	if err != nil {
		return nil, err
	}
	resp := &handshake.Response{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagRespSignedChallenge:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			resp.SignedChallenge = v
		case tagRespCounterChallengeNonce:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			if len(v) != len(resp.CounterChallengeNonce) {
				return nil, ErrFieldLength
			}
			copy(resp.CounterChallengeNonce[:], v)
		case tagRespResponderIdentity:
			id, err := readIdentitySummary(r)
			if err != nil {
				return nil, err
			}
			resp.ResponderIdentity = handshake.IdentitySummary{NodeID: id.NodeID, PublicKey: id.PublicKey, Metadata: id.Metadata}
		case tagRespResponderChain:
			chain, err := readCertChain(r)
			if err != nil {
				return nil, err
			}
			resp.ResponderChain = chain
		case tagRespTpmQuote:
			q, err := readQuote(r)
			if err != nil {
				return nil, err
			}
			resp.TpmQuote = q
		case tagRespTimestamp:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			resp.Timestamp = time.Unix(0, v).UTC()
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

// EncodeFinalize encodes M3 as a framed Envelope.
func EncodeFinalize(fin *handshake.Finalize) ([]byte, error) {
	buf, w, err := newStructWriter()
	if err != nil {
		return nil, err
	}
	if err := w.PutBytes(tlv.ContextTag(tagFinSignedCounterChallenge), fin.SignedCounterChallenge); err != nil {
		return nil, err
	}
	if err := w.PutInt(tlv.ContextTag(tagFinTimestamp), fin.Timestamp.UTC().UnixNano()); err != nil {
		return nil, err
	}
	payload, err := finishStructWriter(buf, w)
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(MessageTypeFinalize, payload), nil
}

// DecodeFinalize decodes an M3 payload.
func DecodeFinalize(payload []byte) (*handshake.Finalize, error) {
	r, err := newStructReader(payload)
	if err != nil {
		return nil, err
	}
	fin := &handshake.Finalize{}
	for {
		if err := r.Next(); err != nil {
			return nil, err
		}
		if r.Type() == tlv.ElementTypeEnd {
			break
		}
		switch r.Tag().TagNumber() {
		case tagFinSignedCounterChallenge:
			v, err := r.Bytes()
			if err != nil {
				return nil, err
			}
			fin.SignedCounterChallenge = v
		case tagFinTimestamp:
			v, err := r.Int()
			if err != nil {
				return nil, err
			}
			fin.Timestamp = time.Unix(0, v).UTC()
		default:
			if err := r.Skip(); err != nil {
				return nil, err
			}
		}
	}
	return fin, nil
}
