package observability

import "time"

// MultiObserver fans every event out to a fixed list of delegate
// observers, so the metrics bridge and the bandwidth tracker can both
// observe the same event stream without either side knowing about the
// other.
type MultiObserver []TunnelObserver

func (m MultiObserver) OnTunnelRegistered(tunnelID, kind string) {
	for _, o := range m {
		o.OnTunnelRegistered(tunnelID, kind)
	}
}

func (m MultiObserver) OnControlAttached(tunnelID string) {
	for _, o := range m {
		o.OnControlAttached(tunnelID)
	}
}

func (m MultiObserver) OnControlDetached(tunnelID string) {
	for _, o := range m {
		o.OnControlDetached(tunnelID)
	}
}

func (m MultiObserver) OnControlReplaced(tunnelID string) {
	for _, o := range m {
		o.OnControlReplaced(tunnelID)
	}
}

func (m MultiObserver) OnRendezvous(tunnelID string, result RendezvousResult, d time.Duration) {
	for _, o := range m {
		o.OnRendezvous(tunnelID, result, d)
	}
}

func (m MultiObserver) OnSniffer(kind string, outcome SnifferOutcome) {
	for _, o := range m {
		o.OnSniffer(kind, outcome)
	}
}

func (m MultiObserver) OnPumpClosed(tunnelID string, reason PumpCloseReason) {
	for _, o := range m {
		o.OnPumpClosed(tunnelID, reason)
	}
}

func (m MultiObserver) BytesPumped(tunnelID string, direction Direction, n int64) {
	for _, o := range m {
		o.BytesPumped(tunnelID, direction, n)
	}
}
