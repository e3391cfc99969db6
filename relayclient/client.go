// Package relayclient implements the client side of the control protocol
// engine: the auto-reconnecting control loop that authenticates against
// the relay and, for every OpenTunnelRequest it receives, dials an
// independent data connection back to the relay and pumps it against the
// configured local target.
package relayclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/macqgoye/NRelay/protocol"
	"github.com/macqgoye/NRelay/relayerr"
	"github.com/macqgoye/NRelay/relaylog"
)

const logComponent = "relayclient"

// DefaultReconnectInterval is the fixed delay between control-loop
// reconnect attempts. The retry interval is fixed by design; no
// exponential backoff is specified.
const DefaultReconnectInterval = 5 * time.Second

// DefaultDialTimeout bounds every outbound dial the client makes, both to
// the relay and to the local target.
const DefaultDialTimeout = 10 * time.Second

// Config configures a Client.
type Config struct {
	// ServerAddr is the relay's control listener address (e.g.
	// "relay.example.com:7000").
	ServerAddr string
	// Token is the tunnel's access token, presented on every control and
	// data connection.
	Token string
	// LocalAddr is the host the client forwards data connections to.
	// Defaults to "127.0.0.1".
	LocalAddr string
	// LocalPort is the port on LocalAddr the client forwards to.
	LocalPort uint16
	// ReconnectInterval overrides DefaultReconnectInterval.
	ReconnectInterval time.Duration
	// DialTimeout overrides DefaultDialTimeout.
	DialTimeout time.Duration
	// Dial overrides how connections to ServerAddr and the local target
	// are made, for tests. Defaults to net.Dialer.DialContext.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// DefaultConfig returns a Config with every optional field at its default
// (LocalAddr 127.0.0.1, DefaultReconnectInterval, DefaultDialTimeout),
// suitable for filling in ServerAddr/Token/LocalPort and passing to New.
func DefaultConfig() Config {
	return Config{
		LocalAddr:         "127.0.0.1",
		ReconnectInterval: DefaultReconnectInterval,
		DialTimeout:       DefaultDialTimeout,
	}
}

// Client runs the auto-reconnecting control loop for one tunnel.
type Client struct {
	cfg Config
}

// New validates cfg, filling in defaults for zero-valued fields, and
// returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.ServerAddr == "" {
		return nil, relayerr.Wrap(relayerr.StageControl, relayerr.CodeConfig, fmt.Errorf("server address must not be empty"))
	}
	if cfg.Token == "" {
		return nil, relayerr.Wrap(relayerr.StageControl, relayerr.CodeConfig, fmt.Errorf("token must not be empty"))
	}
	if cfg.LocalAddr == "" {
		cfg.LocalAddr = "127.0.0.1"
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.Dial == nil {
		d := &net.Dialer{}
		cfg.Dial = d.DialContext
	}
	return &Client{cfg: cfg}, nil
}

// Run drives the control loop until ctx is canceled. On any error
// (dial failure, auth rejection, protocol error, lost connection) it
// sleeps ReconnectInterval and reconnects; it only returns once ctx is
// done.
func (c *Client) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.runOnce(ctx); err != nil {
			relaylog.Warn(ctx, logComponent, "control session ended", "server_addr", c.cfg.ServerAddr, "code", relayerr.ClassifyReadError(err), "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) dialContext(ctx context.Context, addr string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	return c.cfg.Dial(dialCtx, "tcp", addr)
}

// runOnce performs one connect-authenticate-serve cycle against the relay.
// It returns once the connection is lost or an unrecoverable protocol
// error occurs; Run is responsible for the reconnect delay.
func (c *Client) runOnce(ctx context.Context) error {
	conn, err := c.dialContext(ctx, c.cfg.ServerAddr)
	if err != nil {
		return relayerr.Wrap(relayerr.StageControl, relayerr.ClassifyDialError(err), err)
	}
	defer conn.Close()

	// ReadMessage has no deadline of its own; closing the socket when ctx
	// ends is what unblocks the control loop on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeControl, TunnelToken: c.cfg.Token},
	}); err != nil {
		return err
	}

	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		return err
	}
	if msg.AuthResult == nil || !msg.AuthResult.Success {
		return relayerr.Wrap(relayerr.StageControl, relayerr.CodeAuth, fmt.Errorf("control auth rejected"))
	}
	tunnelID := msg.AuthResult.TunnelID
	relaylog.Info(ctx, logComponent, "control channel authenticated", "tunnel_id", tunnelID, "server_addr", c.cfg.ServerAddr)

	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			return err
		}
		if msg.OpenTunnelRequest == nil {
			relaylog.Warn(ctx, logComponent, "unexpected message on control channel", "tunnel_id", tunnelID)
			continue
		}
		req := msg.OpenTunnelRequest
		go c.serveDataConnection(ctx, req.TunnelID, req.ConnectionID)
	}
}

// serveDataConnection dials a fresh data connection for one OpenTunnelRequest,
// authenticates it in Tunnel mode, dials the local target, and pumps
// bytes between the two until either side closes. Every call runs as an
// independent task so one slow local service never blocks another
// connection's rendezvous.
func (c *Client) serveDataConnection(ctx context.Context, tunnelID, connectionID string) {
	relayConn, err := c.dialContext(ctx, c.cfg.ServerAddr)
	if err != nil {
		relaylog.Warn(ctx, logComponent, "data connection dial failed", "tunnel_id", tunnelID, "connection_id", connectionID, "code", relayerr.ClassifyDialError(err), "err", err)
		return
	}

	if err := protocol.WriteMessage(relayConn, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeTunnel, TunnelToken: c.cfg.Token},
	}); err != nil {
		relaylog.Warn(ctx, logComponent, "data connection auth write failed", "tunnel_id", tunnelID, "err", err)
		relayConn.Close()
		return
	}

	msg, err := protocol.ReadMessage(relayConn)
	if err != nil || msg.TunnelOk == nil {
		relaylog.Warn(ctx, logComponent, "data connection did not receive TunnelOk", "tunnel_id", tunnelID, "err", err)
		relayConn.Close()
		return
	}

	localAddr := fmt.Sprintf("%s:%d", c.cfg.LocalAddr, c.cfg.LocalPort)
	localConn, err := c.dialContext(ctx, localAddr)
	if err != nil {
		relaylog.Warn(ctx, logComponent, "local target dial failed", "tunnel_id", tunnelID, "local_addr", localAddr, "err", err)
		relayConn.Close()
		return
	}

	pump(relayConn, localConn)
}
