package ingress

import (
	"context"
	"io"
	"net"

	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/relaylog"
)

// pumpBufferSize is the per-direction transfer buffer size.
const pumpBufferSize = 8 * 1024

type copyResult struct {
	dir observability.Direction
	err error
}

// runPump shuttles bytes between peer and data until either direction hits
// EOF or an error; the other direction is then cancelled and both sockets
// are closed. This is a short-coupled proxy, not a TCP-splice: no
// half-close is preserved, and errors from either direction are logged but
// never propagated upstream as connection failures.
func runPump(ctx context.Context, tunnelID string, peer, data net.Conn, obs observability.TunnelObserver) {
	results := make(chan copyResult, 2)

	go func() {
		err := copyDirection(data, peer, observability.DirectionToTunnel, tunnelID, obs)
		results <- copyResult{dir: observability.DirectionToTunnel, err: err}
	}()
	go func() {
		err := copyDirection(peer, data, observability.DirectionToPeer, tunnelID, obs)
		results <- copyResult{dir: observability.DirectionToPeer, err: err}
	}()

	first := <-results
	peer.Close()
	data.Close()
	<-results

	reason := observability.PumpClosePeerEOF
	switch {
	case first.err != nil:
		reason = observability.PumpCloseError
	case first.dir == observability.DirectionToPeer:
		reason = observability.PumpCloseTunnelEOF
	}
	obs.OnPumpClosed(tunnelID, reason)
	relaylog.Debug(ctx, logComponent, "pump closed", "tunnel_id", tunnelID, "reason", reason)
}

// copyDirection copies from src to dst in fixed-size chunks, flushing
// (via an explicit Write) after every read, and reports bytes pumped to
// obs. It returns once src is exhausted or either side errors; a clean EOF
// returns nil.
func copyDirection(dst, src net.Conn, dir observability.Direction, tunnelID string, obs observability.TunnelObserver) error {
	buf := make([]byte, pumpBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			obs.BytesPumped(tunnelID, dir, int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			relaylog.Debug(context.Background(), logComponent, "pump read error", "tunnel_id", tunnelID, "direction", dir, "err", rerr)
			return rerr
		}
	}
}
