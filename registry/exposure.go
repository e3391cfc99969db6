package registry

import "fmt"

// defaultMinecraftPort is the conventional Minecraft server port used when
// a Minecraft tunnel does not request a fixed public port.
const defaultMinecraftPort = 25565

// Exposure is what the admin endpoint computes for a freshly created
// tunnel: the hostname and/or port the public side will reach it on, and
// whether a dedicated per-tunnel TCP listener needs to be started.
type Exposure struct {
	Mode           ExposureMode
	PublicHostname *string
	PublicPort     *uint16
	// StartListener is true for kinds that need their own per-tunnel TCP
	// accept loop (TcpRaw, Ssh, Minecraft); Http/Https/TlsSni ride a
	// shared listener and UdpRaw has no relay path at all.
	StartListener bool
}

// ComputeExposure decides how a tunnel is reached from the public side,
// given its kind, the server's public domain, and the creation request.
func ComputeExposure(tunnelID string, cfg TunnelConfig, domain string) (Exposure, error) {
	hostname := fmt.Sprintf("%s.%s", tunnelID, domain)

	switch cfg.Kind {
	case KindHTTP:
		return Exposure{Mode: ExposureHostname, PublicHostname: &hostname}, nil
	case KindHTTPS, KindTLSSNI:
		return Exposure{Mode: ExposureHostname, PublicHostname: &hostname}, nil
	case KindMinecraft:
		// Minecraft never draws from the random TCP/SSH band: it defaults
		// to the conventional port 25565 when no fixed port is requested,
		// matching the original relay's admin handler. It also gets a
		// display hostname alongside its dedicated port.
		port := uint16(defaultMinecraftPort)
		if cfg.FixedPublicPort != nil {
			port = *cfg.FixedPublicPort
		}
		return Exposure{Mode: ExposurePort, PublicHostname: &hostname, PublicPort: &port, StartListener: true}, nil
	case KindTCPRaw, KindSSH:
		port, err := pickPort(cfg)
		if err != nil {
			return Exposure{}, err
		}
		return Exposure{Mode: ExposurePort, PublicPort: &port, StartListener: true}, nil
	case KindUDPRaw:
		port, err := pickPort(cfg)
		if err != nil {
			return Exposure{}, err
		}
		// A port is allocated for symmetry with the other port-exposed
		// kinds, but no listener is started: the UDP relay path is an
		// accepted stub, matching the original relay's behavior of
		// never wiring nrelay_proto_udp into admin.rs's creation flow.
		return Exposure{Mode: ExposurePort, PublicPort: &port, StartListener: false}, nil
	default:
		return Exposure{}, fmt.Errorf("unknown tunnel kind %q", cfg.Kind)
	}
}

func pickPort(cfg TunnelConfig) (uint16, error) {
	if cfg.FixedPublicPort != nil {
		return *cfg.FixedPublicPort, nil
	}
	return RandomPort(cfg.Kind)
}
