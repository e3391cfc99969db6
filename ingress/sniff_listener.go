package ingress

import (
	"context"
	"net"

	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/relayerr"
	"github.com/macqgoye/NRelay/relaylog"
	"github.com/macqgoye/NRelay/sniff"
)

// sniffReadChunk is the size of each read attempted while a sniffer still
// has not produced a routing key, matching the HTTP dispatcher's "read in
// 4 KiB chunks up to 8 KiB total" shape; the other sniffed listeners reuse
// the same cadence.
const sniffReadChunk = 4 * 1024

// lookupFunc resolves a sniffed routing key (Host, SNI, or Minecraft
// server-address) to a tunnel-id.
type lookupFunc func(key string) (string, bool)

// serveSniffed runs a generic accept loop for a shared listener whose
// routing decision depends on peeking at the opening bytes of the stream.
// It feeds newSniffer a rolling buffer up to sniff.MaxBufferBytes, and on
// every chunk tries Extract; once a key is found, it resolves a tunnel via
// lookup and proceeds to rendezvous with everything read so far as the
// buffered prefix. If the cap is hit with no match, the connection is
// dropped.
func (d *Dispatcher) serveSniffed(ctx context.Context, ln net.Listener, kind string, newSniffer func() sniff.Sniffer, lookup lookupFunc) error {
	relaylog.Info(ctx, logComponent, "sniffed listener started", "kind", kind, "addr", ln.Addr())
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
		go d.handleSniffed(ctx, conn, kind, newSniffer(), lookup)
	}
}

func (d *Dispatcher) handleSniffed(ctx context.Context, conn net.Conn, kind string, s sniff.Sniffer, lookup lookupFunc) {
	buf := make([]byte, sniffReadChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
			if key, ok := s.Extract(); ok {
				tunnelID, ok := lookup(key)
				if !ok {
					d.obs.OnSniffer(kind, observability.SnifferNoMatch)
					relaylog.Info(ctx, logComponent, "no tunnel for routing key", "kind", kind, "key", key)
					conn.Close()
					return
				}
				d.obs.OnSniffer(kind, observability.SnifferMatched)
				d.rendezvous(ctx, tunnelID, conn, s.ConsumedBytes())
				return
			}
		}
		if err != nil {
			d.obs.OnSniffer(kind, observability.SnifferEndOfData)
			conn.Close()
			return
		}
		if len(s.ConsumedBytes()) >= sniff.MaxBufferBytes {
			d.obs.OnSniffer(kind, observability.SnifferCapHit)
			relaylog.Info(ctx, logComponent, "sniffer cap reached without a match", "kind", kind)
			conn.Close()
			return
		}
	}
}

// ServeHTTP runs the shared HTTP listener (default port 80): it sniffs the
// Host header and routes on its leading DNS label.
func (d *Dispatcher) ServeHTTP(ctx context.Context, ln net.Listener) error {
	return d.serveSniffed(ctx, ln, "http", func() sniff.Sniffer { return sniff.NewHTTPSniffer() }, d.reg.FindByHostnamePrefix)
}

// ServeTLS runs the shared HTTPS/TLS-SNI listener (default port 443): it
// sniffs the ClientHello's server_name extension without terminating TLS.
func (d *Dispatcher) ServeTLS(ctx context.Context, ln net.Listener) error {
	return d.serveSniffed(ctx, ln, "tls_sni", func() sniff.Sniffer { return sniff.NewTLSSNISniffer() }, d.reg.FindByHostnamePrefix)
}

// ServeMinecraft runs the shared Minecraft listener: it sniffs the
// handshake packet's server-address field and routes on its leading label,
// the same way ServeHTTP routes on Host.
func (d *Dispatcher) ServeMinecraft(ctx context.Context, ln net.Listener) error {
	return d.serveSniffed(ctx, ln, "minecraft", func() sniff.Sniffer { return sniff.NewMinecraftSniffer() }, d.reg.FindByHostnamePrefix)
}
