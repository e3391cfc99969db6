package registry

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// NewTunnelID mints a fresh 128-bit, text-encoded tunnel identifier.
func NewTunnelID() string { return uuid.NewString() }

// NewAccessToken mints a fresh 128-bit, text-encoded access token.
func NewAccessToken() string { return uuid.NewString() }

// NewConnectionID mints a fresh 128-bit, text-encoded connection
// identifier for one rendezvous.
func NewConnectionID() string { return uuid.NewString() }

// portBand is an inclusive-exclusive range [Low, High) random ports are
// drawn from.
type portBand struct {
	Low  int
	High int
}

var (
	tcpSSHPortBand = portBand{Low: 20000, High: 30000}
	udpPortBand    = portBand{Low: 30000, High: 40000}
)

// RandomPort draws a uniformly random port from the kind's allocation band.
func RandomPort(kind TunnelKind) (uint16, error) {
	band := tcpSSHPortBand
	if kind == KindUDPRaw {
		band = udpPortBand
	}
	span := band.High - band.Low
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return 0, err
	}
	return uint16(band.Low + int(n.Int64())), nil
}
