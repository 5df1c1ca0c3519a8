// Package handshake implements the Attestation Handshake Engine: the
// three-message mutual authentication protocol between an Initiator and a
// Responder, its per-session state machine, and its timeout sweep.
package handshake

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/meshguard/attestmesh/pkg/audit"
	"github.com/meshguard/attestmesh/pkg/crypto"
	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/replay"
	"github.com/meshguard/attestmesh/pkg/tpm"
	"github.com/meshguard/attestmesh/pkg/trustchain"
	"github.com/pion/logging"
)

// Errors returned by the Handshake Engine. Each except ErrUnknownSession
// corresponds to the audit Kind emitted alongside it; ErrUnknownSession is
// returned without an audit event.
var (
	ErrVersionMismatch    = errors.New("handshake: protocol_version mismatch")
	ErrStaleTimestamp     = errors.New("handshake: timestamp outside freshness window")
	ErrReplayDetected     = errors.New("handshake: nonce already seen")
	ErrInvalidCertChain   = errors.New("handshake: certificate chain invalid")
	ErrInvalidSignature   = errors.New("handshake: signature verification failed")
	ErrInvalidTpmQuote    = errors.New("handshake: tpm quote invalid")
	ErrDuplicateHandshake = errors.New("handshake: a handshake with this peer is already in progress")
	ErrUnknownSession     = errors.New("handshake: no session in progress for this peer")
)

// DefaultFreshnessWindow and DefaultSkewTolerance bound an M1/M2/M3
// timestamp: accepted if within [now-freshness, now+skew].
const (
	DefaultFreshnessWindow = 30 * time.Second
	DefaultSkewTolerance   = 5 * time.Second
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultSweepInterval    = 5 * time.Second
)

// PCRPolicy evaluates whether a peer's attested PCR values satisfy local
// policy. It does not check the quote's signature — that is the Provider's
// job — only whether the measured values are the expected ones.
type PCRPolicy func(pcrs map[int][]byte) bool

// LocalIdentity is the engine's own signing identity, used to produce
// SignedChallenge/SignedCounterChallenge and to populate the identity
// summary and certificate chain this node presents to peers.
type LocalIdentity struct {
	NodeID    identity.NodeID
	KeyPair   *crypto.KeyPair
	CertChain []*trustchain.Certificate
}

// Config configures an Engine.
type Config struct {
	Local           LocalIdentity
	Registry        *identity.Registry
	Validator       *trustchain.Validator
	ReplayCache     *replay.Cache
	Audit           *audit.Sink
	TpmProvider     tpm.Provider // optional; nil disables quote generation/verification
	PCRPolicy       PCRPolicy    // required if TpmProvider is set and quotes are exchanged
	FreshnessWindow time.Duration
	SkewTolerance   time.Duration
	HandshakeTimeout time.Duration
	LoggerFactory   logging.LoggerFactory
	Now             func() time.Time
	Rand            io.Reader
}

// Engine drives the Attestation Handshake Engine. One Engine instance
// tracks at most one in-progress handshake per peer node_id.
type Engine struct {
	local       LocalIdentity
	registry    *identity.Registry
	validator   *trustchain.Validator
	replayCache *replay.Cache
	audit       *audit.Sink
	tpmProvider tpm.Provider
	pcrPolicy   PCRPolicy

	freshness time.Duration
	skew      time.Duration
	timeout   time.Duration

	log  logging.LeveledLogger
	now  func() time.Time
	rand io.Reader

	mu       sync.Mutex
	sessions map[identity.NodeID]*Session

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New creates an Engine and starts its background timeout sweep.
func New(cfg Config) *Engine {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.SkewTolerance <= 0 {
		cfg.SkewTolerance = DefaultSkewTolerance
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}

	e := &Engine{
		local:       cfg.Local,
		registry:    cfg.Registry,
		validator:   cfg.Validator,
		replayCache: cfg.ReplayCache,
		audit:       cfg.Audit,
		tpmProvider: cfg.TpmProvider,
		pcrPolicy:   cfg.PCRPolicy,
		freshness:   cfg.FreshnessWindow,
		skew:        cfg.SkewTolerance,
		timeout:     cfg.HandshakeTimeout,
		now:         cfg.Now,
		rand:        cfg.Rand,
		sessions:    make(map[identity.NodeID]*Session),
		stopSweep:   make(chan struct{}),
		sweepDone:   make(chan struct{}),
	}
	if cfg.LoggerFactory != nil {
		e.log = cfg.LoggerFactory.NewLogger("handshake")
	}
	go e.sweepLoop(DefaultSweepInterval)
	return e
}

func (e *Engine) emit(kind audit.Kind, peer identity.NodeID, meta map[string]string) {
	if e.audit == nil {
		return
	}
	e.audit.Emit(kind, fmt.Sprintf("%x", peer[:]), meta)
}

func (e *Engine) randomNonce() ([16]byte, error) {
	var n [16]byte
	if _, err := io.ReadFull(e.rand, n[:]); err != nil {
		return n, fmt.Errorf("handshake: generate nonce: %w", err)
	}
	return n, nil
}

// StartHandshake begins a handshake as Initiator, returning M1 to send to
// peerNodeID. Rejects with ErrDuplicateHandshake if a handshake with this
// peer is already in progress.
func (e *Engine) StartHandshake(peerNodeID identity.NodeID) (*Request, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.sessions[peerNodeID]; exists {
		e.emit(audit.KindDuplicateHandshake, peerNodeID, nil)
		return nil, ErrDuplicateHandshake
	}

	now := e.now()
	nonce, err := e.randomNonce()
	if err != nil {
		return nil, err
	}

	sess := &Session{PeerNodeID: peerNodeID, State: StatePending, OurNonce: nonce, StartedAt: now, LastActivityAt: now}
	if err := sess.transition(StateChallengeSent, now); err != nil {
		return nil, err
	}
	e.sessions[peerNodeID] = sess
	e.emit(audit.KindHandshakeStarted, peerNodeID, nil)

	return &Request{
		ProtocolVersion: ProtocolVersion,
		ChallengeNonce:  nonce,
		InitiatorIdentity: IdentitySummary{
			NodeID:    e.local.NodeID,
			PublicKey: e.local.KeyPair.PublicKey(),
		},
		InitiatorChain: e.local.CertChain,
		Timestamp:      now,
	}, nil
}

// checkTimestamp validates ts is within [now-freshness, now+skew].
func (e *Engine) checkTimestamp(ts, now time.Time) error {
	if ts.Before(now.Add(-e.freshness)) || ts.After(now.Add(e.skew)) {
		return ErrStaleTimestamp
	}
	return nil
}

// checkChain validates a non-empty certificate chain against the trust
// anchor set.
func (e *Engine) checkChain(chain []*trustchain.Certificate) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidCertChain)
	}
	if err := e.validator.Validate(chain); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertChain, err)
	}
	return nil
}

// HandleRequest processes an incoming M1 as Responder and returns M2.
func (e *Engine) HandleRequest(req *Request) (*Response, error) {
	now := e.now()
	peer := req.InitiatorIdentity.NodeID

	if req.ProtocolVersion != ProtocolVersion {
		e.emit(audit.KindVersionMismatch, peer, nil)
		return nil, ErrVersionMismatch
	}
	if err := e.checkTimestamp(req.Timestamp, now); err != nil {
		e.emit(audit.KindStaleTimestamp, peer, nil)
		return nil, err
	}
	if e.replayCache.CheckAndInsert(req.ChallengeNonce[:], now) {
		e.emit(audit.KindReplayDetected, peer, nil)
		return nil, ErrReplayDetected
	}
	if err := e.checkChain(req.InitiatorChain); err != nil {
		e.emit(audit.KindInvalidCertChain, peer, nil)
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.sessions[peer]; exists {
		e.mu.Unlock()
		e.emit(audit.KindDuplicateHandshake, peer, nil)
		return nil, ErrDuplicateHandshake
	}
	counterNonce, err := e.randomNonce()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	sess := &Session{
		PeerNodeID: peer, State: StatePending,
		OurNonce: counterNonce, PeerNonce: req.ChallengeNonce,
		StartedAt: now, LastActivityAt: now,
	}
	if err := sess.transition(StateChallengeSent, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.sessions[peer] = sess
	e.mu.Unlock()

	binding := SessionBinding(peer, e.local.NodeID, req.ChallengeNonce, counterNonce)
	signed := e.local.KeyPair.Sign(append(append([]byte(nil), req.ChallengeNonce[:]...), binding...))

	resp := &Response{
		SignedChallenge:       signed,
		CounterChallengeNonce: counterNonce,
		ResponderIdentity: IdentitySummary{
			NodeID:    e.local.NodeID,
			PublicKey: e.local.KeyPair.PublicKey(),
		},
		ResponderChain: e.local.CertChain,
		Timestamp:      now,
	}
	if e.tpmProvider != nil {
		q, err := e.tpmProvider.GenerateQuote(req.ChallengeNonce[:], tpm.DefaultPCRSelection)
		if err == nil {
			resp.TpmQuote = q
		}
	}

	e.emit(audit.KindChallengeSent, peer, nil)
	return resp, nil
}

// HandleResponse processes an incoming M2 as Initiator and returns M3.
func (e *Engine) HandleResponse(resp *Response) (*Finalize, error) {
	now := e.now()
	peer := resp.ResponderIdentity.NodeID

	e.mu.Lock()
	sess, ok := e.sessions[peer]
	e.mu.Unlock()
	if !ok || sess.State != StateChallengeSent {
		return nil, ErrUnknownSession
	}

	if err := e.checkTimestamp(resp.Timestamp, now); err != nil {
		e.failSession(peer, now)
		e.emit(audit.KindStaleTimestamp, peer, nil)
		return nil, err
	}
	if e.replayCache.CheckAndInsert(resp.CounterChallengeNonce[:], now) {
		e.failSession(peer, now)
		e.emit(audit.KindReplayDetected, peer, nil)
		return nil, ErrReplayDetected
	}
	if err := e.checkChain(resp.ResponderChain); err != nil {
		e.failSession(peer, now)
		e.emit(audit.KindInvalidCertChain, peer, nil)
		return nil, err
	}

	leafKey := resp.ResponderChain[0].PublicKey
	binding := SessionBinding(e.local.NodeID, peer, sess.OurNonce, resp.CounterChallengeNonce)
	expected := append(append([]byte(nil), sess.OurNonce[:]...), binding...)
	if !crypto.Verify(leafKey, expected, resp.SignedChallenge) {
		e.failSession(peer, now)
		e.emit(audit.KindInvalidSignature, peer, nil)
		return nil, ErrInvalidSignature
	}

	trustScore := 0.7
	if resp.TpmQuote != nil {
		if e.tpmProvider == nil || e.pcrPolicy == nil || !e.tpmProvider.VerifyQuote(resp.TpmQuote, resp.TpmQuote.AttestationKeyPublic) || !e.pcrPolicy(resp.TpmQuote.PCRs) {
			e.failSession(peer, now)
			e.emit(audit.KindInvalidTpmQuote, peer, nil)
			return nil, ErrInvalidTpmQuote
		}
		// A quote verifies only against a provider of its own variant, so the
		// local provider's variant identifies the kind of quote received.
		if e.tpmProvider.Variant() == tpm.VariantHardware {
			trustScore = 1.0
		}
	}

	e.mu.Lock()
	sess.PeerNonce = resp.CounterChallengeNonce
	sess.TrustScore = trustScore
	if err := sess.transition(StateResponseReceived, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()
	e.emit(audit.KindResponseVerified, peer, nil)

	counterBinding := SessionBinding(e.local.NodeID, peer, sess.OurNonce, resp.CounterChallengeNonce)
	signedCounter := e.local.KeyPair.Sign(append(append([]byte(nil), resp.CounterChallengeNonce[:]...), counterBinding...))

	e.mu.Lock()
	if err := sess.transition(StateCompleted, now); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	delete(e.sessions, peer)
	e.mu.Unlock()
	e.emit(audit.KindHandshakeCompleted, peer, nil)

	return &Finalize{SignedCounterChallenge: signedCounter, Timestamp: now}, nil
}

// HandleFinalize processes an incoming M3 as Responder, completing the
// handshake.
func (e *Engine) HandleFinalize(peer identity.NodeID, fin *Finalize, initiatorLeafKey []byte) error {
	now := e.now()

	e.mu.Lock()
	sess, ok := e.sessions[peer]
	e.mu.Unlock()
	if !ok || sess.State != StateChallengeSent {
		return ErrUnknownSession
	}

	if err := e.checkTimestamp(fin.Timestamp, now); err != nil {
		e.failSession(peer, now)
		e.emit(audit.KindStaleTimestamp, peer, nil)
		return err
	}

	binding := SessionBinding(peer, e.local.NodeID, sess.PeerNonce, sess.OurNonce)
	expected := append(append([]byte(nil), sess.OurNonce[:]...), binding...)
	if !crypto.Verify(initiatorLeafKey, expected, fin.SignedCounterChallenge) {
		e.failSession(peer, now)
		e.emit(audit.KindInvalidSignature, peer, nil)
		return ErrInvalidSignature
	}

	e.mu.Lock()
	if err := sess.transition(StateResponseReceived, now); err != nil {
		e.mu.Unlock()
		return err
	}
	if err := sess.transition(StateCompleted, now); err != nil {
		e.mu.Unlock()
		return err
	}
	delete(e.sessions, peer)
	e.mu.Unlock()
	e.emit(audit.KindHandshakeCompleted, peer, nil)
	return nil
}

func (e *Engine) failSession(peer identity.NodeID, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[peer]; ok {
		_ = sess.transition(StateFailed, now)
		delete(e.sessions, peer)
	}
	e.emit(audit.KindHandshakeFailed, peer, nil)
}

// sweepLoop periodically removes sessions that have exceeded the
// handshake timeout without completing.
func (e *Engine) sweepLoop(interval time.Duration) {
	defer close(e.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopSweep:
			return
		case <-ticker.C:
			e.sweepExpired()
		}
	}
}

func (e *Engine) sweepExpired() {
	now := e.now()
	e.mu.Lock()
	var expired []identity.NodeID
	for peer, sess := range e.sessions {
		if now.Sub(sess.StartedAt) > e.timeout {
			expired = append(expired, peer)
			delete(e.sessions, peer)
		}
	}
	e.mu.Unlock()

	for _, peer := range expired {
		e.emit(audit.KindHandshakeTimeout, peer, nil)
		if e.log != nil {
			e.log.Debugf("handshake: session with %x expired", peer[:])
		}
	}
}

// Close stops the background sweep goroutine.
func (e *Engine) Close() {
	close(e.stopSweep)
	<-e.sweepDone
}

// ActiveSessionState reports the current state of an in-progress handshake
// with peer, if any.
func (e *Engine) ActiveSessionState(peer identity.NodeID) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[peer]
	if !ok {
		return 0, false
	}
	return sess.State, true
}
