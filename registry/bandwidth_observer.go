package registry

import (
	"time"

	"github.com/macqgoye/NRelay/observability"
)

// BandwidthObserver adapts a BandwidthTracker to the observability.TunnelObserver
// shape so it can be composed with other observers (e.g. the Prometheus
// bridge) via a fan-out observer, letting the admin API's
// GET /tunnels/{id} read endpoint serve live byte counts.
type BandwidthObserver struct {
	Tracker *BandwidthTracker
}

func (o BandwidthObserver) OnTunnelRegistered(string, string)                                  {}
func (o BandwidthObserver) OnControlAttached(string)                                           {}
func (o BandwidthObserver) OnControlDetached(string)                                           {}
func (o BandwidthObserver) OnControlReplaced(string)                                           {}
func (o BandwidthObserver) OnRendezvous(string, observability.RendezvousResult, time.Duration) {}
func (o BandwidthObserver) OnSniffer(string, observability.SnifferOutcome)                     {}

func (o BandwidthObserver) OnPumpClosed(tunnelID string, _ observability.PumpCloseReason) {
	o.Tracker.MarkPumpClosed(tunnelID, time.Now())
}

func (o BandwidthObserver) BytesPumped(tunnelID string, direction observability.Direction, n int64) {
	if direction == observability.DirectionToPeer {
		o.Tracker.AddToPeer(tunnelID, uint64(n))
	} else {
		o.Tracker.AddToTunnel(tunnelID, uint64(n))
	}
}
