package ingress

import (
	"context"
	"net"

	"github.com/macqgoye/NRelay/relayerr"
	"github.com/macqgoye/NRelay/relaylog"
)

// ServeTCP runs the dedicated per-tunnel accept loop started when an
// exposed-port tunnel (TcpRaw, Ssh, Minecraft-with-port) is created. Every
// accepted connection belongs to tunnelID; there is no sniffing to do and
// no buffered prefix to replay.
func (d *Dispatcher) ServeTCP(ctx context.Context, ln net.Listener, tunnelID string) error {
	relaylog.Info(ctx, logComponent, "tcp listener started", "tunnel_id", tunnelID, "addr", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return relayerr.Wrap(relayerr.StageIngress, relayerr.CodeIO, err)
		}
		go d.rendezvous(ctx, tunnelID, conn, nil)
	}
}
