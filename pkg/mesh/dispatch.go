package mesh

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/meshguard/attestmesh/pkg/heartbeat"
	"github.com/meshguard/attestmesh/pkg/identity"
	"github.com/meshguard/attestmesh/pkg/tpm"
	"github.com/meshguard/attestmesh/pkg/transport"
	"github.com/meshguard/attestmesh/pkg/wire"
)

// pendingResponder tracks the state a Responder needs between handling an
// M1 Request and receiving the corresponding M3 Finalize. Finalize itself
// carries no peer-identifying field, so the dispatcher recovers it here,
// keyed by the peer's transport address.
type pendingResponder struct {
	peerNodeID identity.NodeID
	leafKey    []byte
}

// heartbeatEvent carries a decoded server response to the blocking Recv
// call a heartbeat.Client makes on its Transport.
type heartbeatEvent struct {
	ack *heartbeat.Ack
	rej *heartbeat.Rejected
	fd  *heartbeat.ForceDisconnect
	err error
}

// meshHeartbeatTransport adapts the node's transport.Manager to the
// heartbeat.Transport interface for one outbound (Initiator-side) link.
type meshHeartbeatTransport struct {
	node *Node
	peer transport.PeerAddress

	recvCh chan heartbeatEvent

	closeOnce sync.Once
	closed    chan struct{}
}

func newMeshHeartbeatTransport(n *Node, peer transport.PeerAddress) *meshHeartbeatTransport {
	return &meshHeartbeatTransport{
		node:   n,
		peer:   peer,
		recvCh: make(chan heartbeatEvent, 8),
		closed: make(chan struct{}),
	}
}

func (t *meshHeartbeatTransport) SendPulse(p heartbeat.Pulse) error {
	payload, err := wire.EncodePulse(p)
	if err != nil {
		return fmt.Errorf("mesh: encoding pulse: %w", err)
	}
	return t.node.transportMgr.Send(payload, t.peer)
}

func (t *meshHeartbeatTransport) Recv(ctx context.Context) (*heartbeat.Ack, *heartbeat.Rejected, *heartbeat.ForceDisconnect, error) {
	select {
	case ev := <-t.recvCh:
		return ev.ack, ev.rej, ev.fd, ev.err
	case <-t.closed:
		return nil, nil, nil, io.EOF
	case <-ctx.Done():
		return nil, nil, nil, ctx.Err()
	}
}

func (t *meshHeartbeatTransport) deliver(ev heartbeatEvent) {
	select {
	case t.recvCh <- ev:
	case <-t.closed:
	}
}

func (t *meshHeartbeatTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// onMessage is installed as the transport.MessageHandler. It decodes the
// envelope and routes to the handshake Engine or Heartbeat Link depending
// on which side of which message this node is playing.
func (n *Node) onMessage(msg *transport.ReceivedMessage) {
	env, err := wire.DecodeEnvelope(msg.Data)
	if err != nil {
		if n.log != nil {
			n.log.Debugf("mesh: dropping undecodable message from %s: %v", msg.PeerAddr, err)
		}
		return
	}

	switch env.Type {
	case wire.MessageTypeRequest:
		n.handleRequest(env.Payload, msg.PeerAddr)
	case wire.MessageTypeResponse:
		n.handleResponse(env.Payload, msg.PeerAddr)
	case wire.MessageTypeFinalize:
		n.handleFinalize(env.Payload, msg.PeerAddr)
	case wire.MessageTypePulse:
		n.handlePulse(env.Payload, msg.PeerAddr)
	case wire.MessageTypeAck:
		n.handleAck(env.Payload, msg.PeerAddr)
	case wire.MessageTypeRejected:
		n.handleRejected(env.Payload, msg.PeerAddr)
	case wire.MessageTypeForceDisconnect:
		n.handleForceDisconnect(env.Payload, msg.PeerAddr)
	default:
		if n.log != nil {
			n.log.Debugf("mesh: unhandled message type %s from %s", env.Type, msg.PeerAddr)
		}
	}
}

func (n *Node) handleRequest(payload []byte, addr transport.PeerAddress) {
	req, err := wire.DecodeRequest(payload)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: decoding request from %s: %v", addr, err)
		}
		return
	}

	resp, err := n.engine.HandleRequest(req)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: handshake request from %s rejected: %v", addr, err)
		}
		return
	}

	leafKey := req.InitiatorIdentity.PublicKey
	if len(req.InitiatorChain) > 0 {
		leafKey = req.InitiatorChain[0].PublicKey
	}

	n.mu.Lock()
	n.pendingResponders[addr.String()] = pendingResponder{
		peerNodeID: req.InitiatorIdentity.NodeID,
		leafKey:    leafKey,
	}
	n.mu.Unlock()

	respPayload, err := wire.EncodeResponse(resp)
	if err != nil {
		if n.log != nil {
			n.log.Errorf("mesh: encoding response for %s: %v", addr, err)
		}
		return
	}
	if err := n.transportMgr.Send(respPayload, addr); err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: sending response to %s: %v", addr, err)
		}
	}
}

func (n *Node) handleResponse(payload []byte, addr transport.PeerAddress) {
	resp, err := wire.DecodeResponse(payload)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: decoding response from %s: %v", addr, err)
		}
		return
	}

	fin, err := n.engine.HandleResponse(resp)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: handshake response from %s rejected: %v", addr, err)
		}
		return
	}

	finPayload, err := wire.EncodeFinalize(fin)
	if err != nil {
		if n.log != nil {
			n.log.Errorf("mesh: encoding finalize for %s: %v", addr, err)
		}
		return
	}
	if err := n.transportMgr.Send(finPayload, addr); err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: sending finalize to %s: %v", addr, err)
		}
		return
	}

	trustScore := identity.AttestationSoftware.TrustScore()
	if resp.TpmQuote != nil && n.tpmProvider != nil && n.tpmProvider.Variant() == tpm.VariantHardware {
		trustScore = identity.AttestationTpm.TrustScore()
	}
	n.startHeartbeatClient(resp.ResponderIdentity.NodeID, addr)
	if n.config.OnPeerAttested != nil {
		n.config.OnPeerAttested(resp.ResponderIdentity.NodeID, trustScore)
	}
}

func (n *Node) handleFinalize(payload []byte, addr transport.PeerAddress) {
	fin, err := wire.DecodeFinalize(payload)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: decoding finalize from %s: %v", addr, err)
		}
		return
	}

	n.mu.Lock()
	pending, ok := n.pendingResponders[addr.String()]
	if ok {
		delete(n.pendingResponders, addr.String())
	}
	n.mu.Unlock()
	if !ok {
		if n.log != nil {
			n.log.Warnf("mesh: finalize from %s with no pending request", addr)
		}
		return
	}

	if err := n.engine.HandleFinalize(pending.peerNodeID, fin, pending.leafKey); err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: finalize from %s rejected: %v", addr, err)
		}
		return
	}

	connID := n.hbServer.Accept(pending.peerNodeID)
	n.mu.Lock()
	n.serverConns[addr.String()] = connID
	n.mu.Unlock()

	if n.config.OnPeerAttested != nil {
		n.config.OnPeerAttested(pending.peerNodeID, identity.AttestationSoftware.TrustScore())
	}
}

func (n *Node) handlePulse(payload []byte, addr transport.PeerAddress) {
	pulse, err := wire.DecodePulse(payload)
	if err != nil {
		if n.log != nil {
			n.log.Warnf("mesh: decoding pulse from %s: %v", addr, err)
		}
		return
	}

	n.mu.Lock()
	connID, ok := n.serverConns[addr.String()]
	if !ok {
		connID = n.hbServer.Accept(pulse.DeviceID)
		n.serverConns[addr.String()] = connID
	}
	n.mu.Unlock()

	ack, rej := n.hbServer.HandlePulse(connID, pulse)
	switch {
	case ack != nil:
		ackPayload, err := wire.EncodeAck(ack)
		if err != nil {
			return
		}
		n.transportMgr.Send(ackPayload, addr)
	case rej != nil:
		rejPayload, err := wire.EncodeRejected(rej)
		if err != nil {
			return
		}
		n.transportMgr.Send(rejPayload, addr)
		n.mu.Lock()
		delete(n.serverConns, addr.String())
		n.mu.Unlock()
	}
}

func (n *Node) handleAck(payload []byte, addr transport.PeerAddress) {
	ack, err := wire.DecodeAck(payload)
	if err != nil {
		return
	}
	n.deliverHeartbeatEvent(addr, heartbeatEvent{ack: ack})
}

func (n *Node) handleRejected(payload []byte, addr transport.PeerAddress) {
	rej, err := wire.DecodeRejected(payload)
	if err != nil {
		return
	}
	n.deliverHeartbeatEvent(addr, heartbeatEvent{rej: rej})
}

func (n *Node) handleForceDisconnect(payload []byte, addr transport.PeerAddress) {
	fd, err := wire.DecodeForceDisconnect(payload)
	if err != nil {
		return
	}
	n.deliverHeartbeatEvent(addr, heartbeatEvent{fd: fd})
}

func (n *Node) deliverHeartbeatEvent(addr transport.PeerAddress, ev heartbeatEvent) {
	n.mu.RLock()
	link, ok := n.clientLinks[addr.String()]
	n.mu.RUnlock()
	if !ok {
		return
	}
	link.deliver(ev)
}

// startHeartbeatClient spins up a heartbeat.Client pulsing to addr after a
// successful Initiator-side handshake, with reconnection handled by
// heartbeat.RunWithReconnect until the link is Severed or the node stops.
func (n *Node) startHeartbeatClient(peer identity.NodeID, addr transport.PeerAddress) {
	link := newMeshHeartbeatTransport(n, addr)

	n.mu.Lock()
	n.clientLinks[addr.String()] = link
	n.mu.Unlock()

	client := heartbeat.NewClient(heartbeat.ClientConfig{
		DeviceID:      n.nodeID,
		KeyPair:       n.keyPair,
		Transport:     link,
		PulseInterval: n.config.HeartbeatInterval,
		LoggerFactory: n.config.LoggerFactory,
		OnSevered: func(ls heartbeat.LinkSevered) {
			n.mu.Lock()
			delete(n.clientLinks, addr.String())
			n.mu.Unlock()
			link.Close()
			if n.config.OnPeerSevered != nil {
				n.config.OnPeerSevered(peer, ls.Reason)
			}
		},
	})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		heartbeat.RunWithReconnect(n.ctx, client, heartbeat.DefaultReconnectPolicy())
	}()
}
