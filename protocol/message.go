package protocol

// AuthMode selects which role a ClientAuth message is authenticating for.
type AuthMode uint8

const (
	ModeControl AuthMode = 0
	ModeTunnel  AuthMode = 1
)

func (m AuthMode) String() string {
	switch m {
	case ModeControl:
		return "control"
	case ModeTunnel:
		return "tunnel"
	default:
		return "unknown"
	}
}

// messageType tags the single payload a ControlMessage carries on the wire.
type messageType uint8

const (
	typeClientAuth messageType = 1
	typeAuthResult messageType = 2
	typeOpenTunnel messageType = 3
	typeTunnelOk   messageType = 4
)

// ClientAuth is sent by a client immediately after dialing, in either
// Control or Tunnel mode.
type ClientAuth struct {
	Mode        AuthMode
	TunnelToken string
}

// AuthResult answers a ClientAuth sent in Control mode.
type AuthResult struct {
	Success  bool
	Message  string
	TunnelID string
}

// OpenTunnelRequest is pushed down a control channel to ask the client to
// dial a fresh data connection.
type OpenTunnelRequest struct {
	TunnelID     string
	ConnectionID string
}

// TunnelOk answers a ClientAuth sent in Tunnel mode.
type TunnelOk struct {
	ConnectionID string
}

// ControlMessage is a tagged union carrying exactly one of the four payload
// types. Exactly one field is non-nil; decoding enforces this.
type ControlMessage struct {
	ClientAuth        *ClientAuth
	AuthResult        *AuthResult
	OpenTunnelRequest *OpenTunnelRequest
	TunnelOk          *TunnelOk
}

func (m *ControlMessage) tag() (messageType, bool) {
	switch {
	case m.ClientAuth != nil:
		return typeClientAuth, true
	case m.AuthResult != nil:
		return typeAuthResult, true
	case m.OpenTunnelRequest != nil:
		return typeOpenTunnel, true
	case m.TunnelOk != nil:
		return typeTunnelOk, true
	default:
		return 0, false
	}
}
