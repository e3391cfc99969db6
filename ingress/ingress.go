// Package ingress implements the public side of the relay: the
// per-tunnel TCP listener and the shared HTTP/HTTPS/Minecraft listeners
// that sniff a routing key out of the opening bytes of a connection, the
// rendezvous that pairs an accepted public connection with a data
// connection dialed by the right client, and the bidirectional byte pump
// that joins the two sockets once paired.
package ingress

import (
	"context"
	"net"
	"time"

	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/registry"
	"github.com/macqgoye/NRelay/relaylog"
)

const logComponent = "ingress"

// DefaultRendezvousTimeout is how long an accepted public connection waits
// for its matching data connection before it is dropped.
const DefaultRendezvousTimeout = 30 * time.Second

// Config configures a Dispatcher.
type Config struct {
	// Observer receives sniffer/rendezvous/pump lifecycle events. Defaults
	// to a no-op observer.
	Observer observability.TunnelObserver
	// RendezvousTimeout bounds how long an accepted connection waits for
	// its data connection. Zero selects DefaultRendezvousTimeout.
	RendezvousTimeout time.Duration
}

// DefaultConfig returns a Config with every field at its default (a no-op
// observer and DefaultRendezvousTimeout), suitable for passing to New
// unmodified.
func DefaultConfig() Config {
	return Config{Observer: observability.NoopTunnelObserver, RendezvousTimeout: DefaultRendezvousTimeout}
}

// Dispatcher accepts public traffic and pairs it with client-dialed data
// connections through the shared registry.
type Dispatcher struct {
	reg     *registry.Registry
	obs     observability.TunnelObserver
	timeout time.Duration
}

// New returns a Dispatcher bound to reg, filling in defaults for
// zero-valued cfg fields.
func New(reg *registry.Registry, cfg Config) *Dispatcher {
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopTunnelObserver
	}
	if cfg.RendezvousTimeout <= 0 {
		cfg.RendezvousTimeout = DefaultRendezvousTimeout
	}
	return &Dispatcher{reg: reg, obs: cfg.Observer, timeout: cfg.RendezvousTimeout}
}

// rendezvous pairs peer (an already-accepted public connection, having
// already had prefix bytes fed to a sniffer if applicable) with a fresh
// data connection dialed by tunnelID's client. prefix is replayed to the
// data connection verbatim before the live pump starts; it may be empty
// for port-exposed tunnels that never sniff.
//
// Enqueue-before-send is the invariant this function exists to uphold: the
// pending slot is always in the registry before the connection-id reaches
// the control channel, so a client that dials back immediately can never
// race ahead of its own slot.
func (d *Dispatcher) rendezvous(ctx context.Context, tunnelID string, peer net.Conn, prefix []byte) {
	connID := registry.NewConnectionID()
	// ResultCh is unbuffered: a handoff only succeeds while this function
	// is still waiting. Closing Canceled after giving up tells a sender
	// holding the dequeued slot to close the data socket itself rather
	// than park it in a buffer nobody drains.
	slot := registry.PendingSlot{
		ConnectionID: connID,
		ResultCh:     make(chan registry.DataConnResult),
		Canceled:     make(chan struct{}),
	}

	if err := d.reg.EnqueuePending(tunnelID, slot); err != nil {
		relaylog.Warn(ctx, logComponent, "enqueue pending failed", "tunnel_id", tunnelID, "err", err)
		d.obs.OnRendezvous(tunnelID, observability.RendezvousNoControl, 0)
		peer.Close()
		return
	}

	reqCh, ok := d.reg.ControlRequestChan(tunnelID)
	if !ok {
		d.reg.RemovePendingByConnectionID(tunnelID, connID)
		close(slot.Canceled)
		relaylog.Info(ctx, logComponent, "no live control connection", "tunnel_id", tunnelID)
		d.obs.OnRendezvous(tunnelID, observability.RendezvousNoControl, 0)
		peer.Close()
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	select {
	case reqCh <- connID:
	case <-waitCtx.Done():
		d.reg.RemovePendingByConnectionID(tunnelID, connID)
		close(slot.Canceled)
		relaylog.Warn(ctx, logComponent, "control request send failed", "tunnel_id", tunnelID, "connection_id", connID)
		d.obs.OnRendezvous(tunnelID, observability.RendezvousSendFailed, time.Since(start))
		peer.Close()
		return
	}

	select {
	case result := <-slot.ResultCh:
		d.obs.OnRendezvous(tunnelID, observability.RendezvousMatched, time.Since(start))
		d.servePump(ctx, tunnelID, peer, result.Conn, prefix)
	case <-waitCtx.Done():
		d.reg.RemovePendingByConnectionID(tunnelID, connID)
		close(slot.Canceled)
		relaylog.Info(ctx, logComponent, "rendezvous timed out", "tunnel_id", tunnelID, "connection_id", connID)
		d.obs.OnRendezvous(tunnelID, observability.RendezvousTimeout, time.Since(start))
		peer.Close()
	}
}

func (d *Dispatcher) servePump(ctx context.Context, tunnelID string, peer, data net.Conn, prefix []byte) {
	if len(prefix) > 0 {
		if _, err := data.Write(prefix); err != nil {
			relaylog.Warn(ctx, logComponent, "failed to replay buffered prefix", "tunnel_id", tunnelID, "err", err)
			peer.Close()
			data.Close()
			return
		}
	}
	runPump(ctx, tunnelID, peer, data, d.obs)
}
