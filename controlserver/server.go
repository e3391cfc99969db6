// Package controlserver implements the server side of the control protocol
// engine: per-connection authentication, control-mode request dispatch,
// and tunnel-mode data-connection rendezvous.
package controlserver

import (
	"context"
	"fmt"
	"net"

	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/protocol"
	"github.com/macqgoye/NRelay/registry"
	"github.com/macqgoye/NRelay/relayerr"
	"github.com/macqgoye/NRelay/relaylog"
)

const logComponent = "controlserver"

// Config configures a Server.
type Config struct {
	// Observer receives control-plane lifecycle events. Defaults to a
	// no-op observer.
	Observer observability.TunnelObserver
}

// DefaultConfig returns a Config with every field at its default (a no-op
// observer), suitable for passing to New unmodified.
func DefaultConfig() Config {
	return Config{Observer: observability.NoopTunnelObserver}
}

// Server runs the control-protocol accept loop and per-connection state
// machine against a shared tunnel registry.
type Server struct {
	reg *registry.Registry
	cfg Config
}

// New validates cfg, filling in defaults for zero-valued fields, and
// returns a Server bound to reg.
func New(reg *registry.Registry, cfg Config) (*Server, error) {
	if reg == nil {
		return nil, relayerr.Wrap(relayerr.StageControl, relayerr.CodeConfig, fmt.Errorf("registry must not be nil"))
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopTunnelObserver
	}
	return &Server{reg: reg, cfg: cfg}, nil
}

// Serve runs the accept loop on ln until ctx is canceled or ln is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return relayerr.Wrap(relayerr.StageControl, relayerr.CodeIO, err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		relaylog.Debug(ctx, logComponent, "failed to read first message", "remote_addr", conn.RemoteAddr(), "err", err)
		conn.Close()
		return
	}
	if msg.ClientAuth == nil {
		relaylog.Warn(ctx, logComponent, "expected auth message first", "remote_addr", conn.RemoteAddr())
		conn.Close()
		return
	}

	tunnelID, ok := s.reg.FindByToken(msg.ClientAuth.TunnelToken)
	if !ok {
		relaylog.Warn(ctx, logComponent, "invalid token", "remote_addr", conn.RemoteAddr())
		conn.Close()
		return
	}

	switch msg.ClientAuth.Mode {
	case protocol.ModeControl:
		s.handleControlMode(ctx, conn, tunnelID)
		conn.Close()
	case protocol.ModeTunnel:
		// handleTunnelMode hands conn off to the ingress side on success;
		// it closes conn itself on every path that does not hand it off.
		s.handleTunnelMode(ctx, conn, tunnelID)
	default:
		relaylog.Warn(ctx, logComponent, "unknown auth mode", "mode", msg.ClientAuth.Mode)
		conn.Close()
	}
}

func (s *Server) handleControlMode(ctx context.Context, conn net.Conn, tunnelID string) {
	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		AuthResult: &protocol.AuthResult{Success: true, TunnelID: tunnelID},
	}); err != nil {
		relaylog.Warn(ctx, logComponent, "failed to write auth result", "tunnel_id", tunnelID, "err", err)
		return
	}

	handle := registry.NewControlHandle(tunnelID)
	replaced, err := s.reg.AttachControl(tunnelID, handle)
	if err != nil {
		relaylog.Warn(ctx, logComponent, "failed to attach control handle", "tunnel_id", tunnelID, "err", err)
		return
	}
	if replaced {
		s.cfg.Observer.OnControlReplaced(tunnelID)
	}
	s.cfg.Observer.OnControlAttached(tunnelID)
	defer func() {
		s.reg.DetachControl(tunnelID, handle)
		s.cfg.Observer.OnControlDetached(tunnelID)
	}()

	relaylog.Info(ctx, logComponent, "control channel attached", "tunnel_id", tunnelID)

	for {
		select {
		case connID, ok := <-handle.RequestCh:
			if !ok {
				return
			}
			err := protocol.WriteMessage(conn, &protocol.ControlMessage{
				OpenTunnelRequest: &protocol.OpenTunnelRequest{TunnelID: tunnelID, ConnectionID: connID},
			})
			if err != nil {
				relaylog.Warn(ctx, logComponent, "failed to write open-tunnel request", "tunnel_id", tunnelID, "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleTunnelMode(ctx context.Context, conn net.Conn, tunnelID string) {
	connID := registry.NewConnectionID()
	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		TunnelOk: &protocol.TunnelOk{ConnectionID: connID},
	}); err != nil {
		relaylog.Warn(ctx, logComponent, "failed to write tunnel ok", "tunnel_id", tunnelID, "err", err)
		conn.Close()
		return
	}

	slot, ok := s.reg.DequeuePending(tunnelID)
	if !ok {
		relaylog.Info(ctx, logComponent, "no pending connection found", "tunnel_id", tunnelID, "connection_id", connID)
		conn.Close()
		return
	}

	select {
	case slot.ResultCh <- registry.DataConnResult{ConnectionID: connID, Conn: conn}:
		// Ownership of conn now belongs to whoever reads from ResultCh.
	case <-slot.Canceled:
		// The ingress side gave up on this slot between our dequeue and the
		// handoff; nobody will ever receive.
		relaylog.Info(ctx, logComponent, "pending slot canceled before handoff", "tunnel_id", tunnelID, "connection_id", connID)
		conn.Close()
	case <-ctx.Done():
		conn.Close()
	}
}
