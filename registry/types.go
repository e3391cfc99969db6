// Package registry implements the in-memory tunnel directory: the
// tunnel_id -> TunnelState map, the live control handle per tunnel, and the
// FIFO of public connections awaiting a data connection.
package registry

import "net"

// TunnelKind is the closed set of tunnel exposure kinds. It determines
// exposure mode (hostname-multiplexed vs dedicated port) and which sniffer,
// if any, runs on ingress.
type TunnelKind string

const (
	KindHTTP      TunnelKind = "http"
	KindHTTPS     TunnelKind = "https"
	KindTCPRaw    TunnelKind = "tcp_raw"
	KindUDPRaw    TunnelKind = "udp_raw"
	KindMinecraft TunnelKind = "minecraft"
	// KindSSH shares TcpRaw's code path end to end, including its port
	// allocation band; no SSH-specific logic exists, matching the original
	// relay.
	KindSSH    TunnelKind = "ssh"
	KindTLSSNI TunnelKind = "tls_sni"
)

// ExposureMode describes how a tunnel is reached from the public side.
type ExposureMode string

const (
	ExposureHostname ExposureMode = "hostname"
	ExposurePort     ExposureMode = "port"
)

// TunnelConfig is the creation-time request body for a new tunnel.
type TunnelConfig struct {
	Kind            TunnelKind
	LocalPort       uint16
	FixedPublicPort *uint16
	Hostname        *string
}

// TunnelInfo is the server-issued descriptor returned to the caller that
// created the tunnel, and reused as the client's proof of identity on
// every subsequent control/data connection.
type TunnelInfo struct {
	TunnelID       string
	AccessToken    string
	Kind           TunnelKind
	PublicHostname *string
	PublicPort     *uint16
	ExposureMode   ExposureMode
	RelayAddr      string
	RelayPort      uint16
}

// DataConnResult is delivered through a PendingSlot's result channel once
// the client has dialed the matching data connection.
type DataConnResult struct {
	ConnectionID string
	Conn         net.Conn
}

// PendingSlot represents one accepted public connection waiting for its
// data connection to arrive. ResultCh carries the handoff; Canceled, when
// non-nil, is closed by the ingress side once it has given up on the slot,
// so a sender holding a dequeued slot knows nobody will ever receive and
// must close the data socket itself instead of parking it forever.
type PendingSlot struct {
	ConnectionID string
	ResultCh     chan DataConnResult
	Canceled     chan struct{}
}

// ControlHandle is the live reference to an authenticated control
// connection: RequestCh is a bounded, single-producer-per-handle channel
// the ingress dispatcher pushes connection-ids into; the owning control
// loop reads and forwards them to the client as OpenTunnelRequest messages.
type ControlHandle struct {
	TunnelID  string
	RequestCh chan string
}

// NewControlHandle allocates a ControlHandle with the registry's standard
// request-channel capacity.
func NewControlHandle(tunnelID string) *ControlHandle {
	return &ControlHandle{TunnelID: tunnelID, RequestCh: make(chan string, controlRequestChanCapacity)}
}

const controlRequestChanCapacity = 32

// TunnelState is one registry entry: immutable descriptor plus the mutable
// live-control-handle and pending-slot-queue state.
type TunnelState struct {
	Info   TunnelInfo
	Config TunnelConfig

	control *ControlHandle
	pending []PendingSlot
}
