package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/meshguard/attestmesh/pkg/crypto"
	"github.com/pion/logging"
)

// DefaultPulseInterval is the client-side pulse cadence (5 s).
const DefaultPulseInterval = 5 * time.Second

// Transport is the minimal carrier the client needs: send a pulse, and
// receive the server's Ack/Rejected/ForceDisconnect responses. A real
// transport adapter (TCP/UDP/mDNS-discovered peer) implements this.
type Transport interface {
	SendPulse(Pulse) error
	// Recv blocks until the next server message arrives, or ctx is done.
	// Exactly one of the four return values is non-nil.
	Recv(ctx context.Context) (*Ack, *Rejected, *ForceDisconnect, error)
	Close() error
}

// ClientConfig configures a Client.
type ClientConfig struct {
	DeviceID      [32]byte
	KeyPair       *crypto.KeyPair
	Transport     Transport
	PulseInterval time.Duration
	LoggerFactory logging.LoggerFactory
	Now           func() time.Time

	// OnSevered is invoked exactly once per severance with the
	// user-visible LinkSevered signal.
	OnSevered func(LinkSevered)
}

// Client is the client side of the Heartbeat Link: it emits signed pulses
// on a fixed interval and sev the link immediately — with no automatic
// reconnection — on any of the four severance conditions.
type Client struct {
	deviceID  [32]byte
	keyPair   *crypto.KeyPair
	transport Transport
	interval  time.Duration
	log       logging.LeveledLogger
	now       func() time.Time
	onSevered func(LinkSevered)

	mu    sync.Mutex
	state ConnectionState

	connID string
}

// NewClient creates a Client in the Disconnected state.
func NewClient(cfg ClientConfig) *Client {
	if cfg.PulseInterval <= 0 {
		cfg.PulseInterval = DefaultPulseInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Client{
		deviceID:  cfg.DeviceID,
		keyPair:   cfg.KeyPair,
		transport: cfg.Transport,
		interval:  cfg.PulseInterval,
		now:       cfg.Now,
		onSevered: cfg.OnSevered,
		state:     StateDisconnected,
	}
	if cfg.LoggerFactory != nil {
		c.log = cfg.LoggerFactory.NewLogger("heartbeat")
	}
	return c
}

// State returns the client's current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the client's pulse loop and response handling until ctx is
// canceled or the link is severed. It does not reconnect on Severed —
// callers that want reconnection should use RunWithReconnect.
func (c *Client) Run(ctx context.Context) error {
	c.setState(StateConnecting)
	c.setState(StateUnverified)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	responses := make(chan struct {
		ack  *Ack
		rej  *Rejected
		fd   *ForceDisconnect
		err  error
	})
	go func() {
		for {
			ack, rej, fd, err := c.transport.Recv(ctx)
			select {
			case responses <- struct {
				ack *Ack
				rej *Rejected
				fd  *ForceDisconnect
				err error
			}{ack, rej, fd, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()

		case <-ticker.C:
			if err := c.sendPulse(); err != nil {
				c.sever(ReasonSigningFailed)
				return fmt.Errorf("heartbeat: %w", err)
			}

		case r := <-responses:
			if r.err != nil {
				c.sever(ReasonTransportClosed)
				return r.err
			}
			switch {
			case r.ack != nil:
				c.connID = r.ack.ConnectionID
				c.setState(StateConnected)
			case r.rej != nil:
				c.sever(ReasonRejected)
				return nil
			case r.fd != nil:
				c.sever(ReasonForceDisconnect)
				return nil
			}
		}
	}
}

func (c *Client) sendPulse() error {
	now := c.now()
	pulse := Pulse{DeviceID: c.deviceID, Timestamp: now}
	pulse.Signature = c.keyPair.Sign(pulse.CanonicalPayload())
	return c.transport.SendPulse(pulse)
}

func (c *Client) sever(reason SeveranceReason) {
	c.setState(StateSevered)
	if c.log != nil {
		c.log.Warnf("heartbeat: link severed, reason=%s", reason)
	}
	if c.onSevered != nil {
		c.onSevered(LinkSevered{ConnectionID: c.connID, Reason: reason, At: c.now()})
	}
}

// ReconnectPolicy configures exponential backoff with jitter for
// reconnection after transient transport loss (initial 1 s, cap 30 s,
// configurable max attempts). Reconnection is never attempted
// while the client is Severed.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int // 0 = unlimited
}

// DefaultReconnectPolicy returns the default backoff parameters.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{InitialInterval: time.Second, MaxInterval: 30 * time.Second}
}

// RunWithReconnect calls Run repeatedly, backing off between attempts,
// until ctx is canceled, the attempt budget is exhausted, or the link
// enters the Severed state (which this function does not retry out of —
// the caller must reconnect explicitly after a fresh handshake).
func RunWithReconnect(ctx context.Context, c *Client, policy ReconnectPolicy) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.MaxInterval = policy.MaxInterval
	eb.MaxElapsedTime = 0 // unlimited elapsed time; MaxAttempts bounds retries instead

	attempts := 0
	for {
		err := c.Run(ctx)
		if c.State() == StateSevered {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempts++
		if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
			return fmt.Errorf("heartbeat: exceeded max reconnect attempts (%d): %w", policy.MaxAttempts, err)
		}

		wait := eb.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("heartbeat: reconnect backoff exhausted: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
