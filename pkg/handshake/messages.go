package handshake

import (
	"time"

	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/tpm"
	"github.com/meshguard/attestmesh/pkg/trustchain"
)

// ProtocolVersion is this implementation's declared protocol version. A
// peer presenting any other value fails M1 validation with
// ErrVersionMismatch.
const ProtocolVersion = 1

// IdentitySummary is the portion of an Identity carried over the wire
// during the handshake: enough for the peer to recognize or provision a
// registry entry, without exposing internal registry bookkeeping.
type IdentitySummary struct {
	NodeID    identity.NodeID
	PublicKey []byte
	Metadata  map[string]string
}

// Request is M1: Initiator to Responder.
type Request struct {
	ProtocolVersion  uint32
	ChallengeNonce   [16]byte
	InitiatorIdentity IdentitySummary
	InitiatorChain    []*trustchain.Certificate
	Timestamp         time.Time
}

// Response is M2: Responder to Initiator.
//
// SignedChallenge = Sign(responder_private_key, challenge_nonce ||
// session_binding), where session_binding is derived from
// (initiator_node_id, responder_node_id, both nonces) to prevent
// cross-session signature replay.
type Response struct {
	SignedChallenge        []byte
	CounterChallengeNonce  [16]byte
	ResponderIdentity      IdentitySummary
	ResponderChain         []*trustchain.Certificate
	TpmQuote               *tpm.Quote
	Timestamp              time.Time
}

// Finalize is M3: Initiator to Responder.
type Finalize struct {
	SignedCounterChallenge []byte
	Timestamp              time.Time
}

// SessionBinding derives the bytes that must be folded into every signed
// challenge in the handshake, binding a signature to this exact session
// so it cannot be replayed against a different pairing of peers or a
// different pair of nonces.
func SessionBinding(initiatorID, responderID identity.NodeID, initiatorNonce, responderNonce [16]byte) []byte {
	out := make([]byte, 0, len(initiatorID)+len(responderID)+len(initiatorNonce)+len(responderNonce))
	out = append(out, initiatorID[:]...)
	out = append(out, responderID[:]...)
	out = append(out, initiatorNonce[:]...)
	out = append(out, responderNonce[:]...)
	return out
}
