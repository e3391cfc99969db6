// Package observability defines the event interfaces every relay
// component reports through, plus no-op and atomically-swappable
// implementations so metrics wiring can be toggled at runtime.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// RendezvousResult is the outcome of pairing an accepted public connection
// with a data connection.
type RendezvousResult string

const (
	RendezvousMatched    RendezvousResult = "matched"
	RendezvousTimeout    RendezvousResult = "timeout"
	RendezvousNoControl  RendezvousResult = "no_control"
	RendezvousSendFailed RendezvousResult = "send_failed"
)

// SnifferOutcome is the result of running a layer-7 sniffer against an
// ingress connection.
type SnifferOutcome string

const (
	SnifferMatched   SnifferOutcome = "matched"
	SnifferNoMatch   SnifferOutcome = "no_match"
	SnifferCapHit    SnifferOutcome = "cap_hit"
	SnifferEndOfData SnifferOutcome = "eof"
)

// PumpCloseReason is why a bidirectional pump session ended.
type PumpCloseReason string

const (
	PumpClosePeerEOF   PumpCloseReason = "peer_eof"
	PumpCloseTunnelEOF PumpCloseReason = "tunnel_eof"
	PumpCloseError     PumpCloseReason = "error"
)

// Direction distinguishes the two legs of a bidirectional pump.
type Direction string

const (
	DirectionToPeer   Direction = "to_peer"
	DirectionToTunnel Direction = "to_tunnel"
)

// TunnelObserver receives tunnel lifecycle and traffic events.
type TunnelObserver interface {
	OnTunnelRegistered(tunnelID string, kind string)
	OnControlAttached(tunnelID string)
	OnControlDetached(tunnelID string)
	OnControlReplaced(tunnelID string)
	OnRendezvous(tunnelID string, result RendezvousResult, d time.Duration)
	OnSniffer(kind string, outcome SnifferOutcome)
	OnPumpClosed(tunnelID string, reason PumpCloseReason)
	BytesPumped(tunnelID string, direction Direction, n int64)
}

type noopTunnelObserver struct{}

func (noopTunnelObserver) OnTunnelRegistered(string, string)                    {}
func (noopTunnelObserver) OnControlAttached(string)                             {}
func (noopTunnelObserver) OnControlDetached(string)                             {}
func (noopTunnelObserver) OnControlReplaced(string)                             {}
func (noopTunnelObserver) OnRendezvous(string, RendezvousResult, time.Duration) {}
func (noopTunnelObserver) OnSniffer(string, SnifferOutcome)                     {}
func (noopTunnelObserver) OnPumpClosed(string, PumpCloseReason)                 {}
func (noopTunnelObserver) BytesPumped(string, Direction, int64)                 {}

// NoopTunnelObserver discards every event; it is the default when metrics
// are disabled.
var NoopTunnelObserver TunnelObserver = noopTunnelObserver{}

// AtomicTunnelObserver lets the active delegate be swapped at runtime
// (e.g. in response to a SIGUSR1/SIGUSR2 metrics toggle) without
// synchronizing every call site.
type AtomicTunnelObserver struct {
	once sync.Once
	v    atomic.Value
}

type tunnelObserverHolder struct {
	obs TunnelObserver
}

// NewAtomicTunnelObserver returns an observer initialized to the no-op
// delegate.
func NewAtomicTunnelObserver() *AtomicTunnelObserver {
	a := &AtomicTunnelObserver{}
	a.once.Do(func() { a.v.Store(&tunnelObserverHolder{obs: NoopTunnelObserver}) })
	return a
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicTunnelObserver) Set(obs TunnelObserver) {
	if obs == nil {
		obs = NoopTunnelObserver
	}
	a.once.Do(func() { a.v.Store(&tunnelObserverHolder{obs: NoopTunnelObserver}) })
	a.v.Store(&tunnelObserverHolder{obs: obs})
}

func (a *AtomicTunnelObserver) load() TunnelObserver {
	a.once.Do(func() { a.v.Store(&tunnelObserverHolder{obs: NoopTunnelObserver}) })
	return a.v.Load().(*tunnelObserverHolder).obs
}

func (a *AtomicTunnelObserver) OnTunnelRegistered(tunnelID, kind string) {
	a.load().OnTunnelRegistered(tunnelID, kind)
}
func (a *AtomicTunnelObserver) OnControlAttached(tunnelID string) { a.load().OnControlAttached(tunnelID) }
func (a *AtomicTunnelObserver) OnControlDetached(tunnelID string) { a.load().OnControlDetached(tunnelID) }
func (a *AtomicTunnelObserver) OnControlReplaced(tunnelID string) { a.load().OnControlReplaced(tunnelID) }
func (a *AtomicTunnelObserver) OnRendezvous(tunnelID string, result RendezvousResult, d time.Duration) {
	a.load().OnRendezvous(tunnelID, result, d)
}
func (a *AtomicTunnelObserver) OnSniffer(kind string, outcome SnifferOutcome) {
	a.load().OnSniffer(kind, outcome)
}
func (a *AtomicTunnelObserver) OnPumpClosed(tunnelID string, reason PumpCloseReason) {
	a.load().OnPumpClosed(tunnelID, reason)
}
func (a *AtomicTunnelObserver) BytesPumped(tunnelID string, direction Direction, n int64) {
	a.load().BytesPumped(tunnelID, direction, n)
}
