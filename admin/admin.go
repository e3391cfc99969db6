// Package admin implements the privileged HTTP API that creates tunnels:
// POST /tunnels, bearer-token gated, minting ids and tokens, computing
// exposure, inserting into the registry, and — for port-exposed kinds —
// starting the per-tunnel TCP listener.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/macqgoye/NRelay/ingress"
	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/registry"
	"github.com/macqgoye/NRelay/relayerr"
	"github.com/macqgoye/NRelay/relaylog"
)

const logComponent = "admin"

// Config configures a Server.
type Config struct {
	// BearerToken gates every admin route; requests must carry
	// "Authorization: Bearer <token>" matching it exactly.
	BearerToken string
	// RelayAddr is the address returned to callers in TunnelInfo.RelayAddr
	// so a client knows where to dial its control connection.
	RelayAddr string
	// RelayPort is the control listener's port, echoed into TunnelInfo.
	RelayPort uint16
	// Domain is the public domain hostname-exposed tunnels are minted
	// under: "<tunnel-id>.<domain>".
	Domain string
	// ListenBindAddr is the address per-tunnel TCP listeners bind to.
	// Defaults to "0.0.0.0".
	ListenBindAddr string
	// ReplicaAddr, if set, is the address of a secondary relay whose
	// registry should be mirrored every tunnel this admin server creates.
	// Empty disables replication.
	ReplicaAddr string
	// Bandwidth, if set, lets GET /tunnels/{id} include live byte counters
	// alongside the tunnel descriptor. Nil omits them from the response.
	Bandwidth *registry.BandwidthTracker
	// Observer receives tunnel-registration events. Defaults to a no-op
	// observer. Pass the same observer the control server and ingress
	// dispatcher report through so OnTunnelRegistered lands in the same
	// metrics/status fan-out as their lifecycle events.
	Observer observability.TunnelObserver
}

// Server implements the admin tunnel-creation endpoint.
type Server struct {
	reg  *registry.Registry
	disp *ingress.Dispatcher
	cfg  Config
	hub  *StatusHub

	replicator *Replicator

	mu        sync.Mutex // guards BearerToken and the listeners map
	listeners map[string]net.Listener
}

// New validates cfg, filling in defaults for zero-valued fields, and
// returns a Server bound to reg and disp.
func New(reg *registry.Registry, disp *ingress.Dispatcher, cfg Config) (*Server, error) {
	if reg == nil || disp == nil {
		return nil, relayerr.Wrap(relayerr.StageAdmin, relayerr.CodeConfig, fmt.Errorf("registry and dispatcher must not be nil"))
	}
	if cfg.BearerToken == "" {
		return nil, relayerr.Wrap(relayerr.StageAdmin, relayerr.CodeConfig, fmt.Errorf("bearer token must not be empty"))
	}
	if cfg.Domain == "" {
		return nil, relayerr.Wrap(relayerr.StageAdmin, relayerr.CodeConfig, fmt.Errorf("domain must not be empty"))
	}
	if cfg.ListenBindAddr == "" {
		cfg.ListenBindAddr = "0.0.0.0"
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.NoopTunnelObserver
	}
	s := &Server{
		reg:       reg,
		disp:      disp,
		cfg:       cfg,
		hub:       NewStatusHub(),
		listeners: make(map[string]net.Listener),
	}
	if cfg.ReplicaAddr != "" {
		s.replicator = NewReplicator(cfg.ReplicaAddr)
	}
	return s, nil
}

// Observer returns the status-feed observer backing GET /tunnels/{id}/status,
// so the caller can compose it into the same observer the control server
// and ingress dispatcher report lifecycle events through.
func (s *Server) Observer() observability.TunnelObserver { return s.hub }

// Run starts the admin server's background work — currently just the
// optional replication session to a secondary relay — and blocks until ctx
// is canceled. It is a no-op if no ReplicaAddr was configured.
func (s *Server) Run(ctx context.Context) {
	if s.replicator == nil {
		<-ctx.Done()
		return
	}
	s.replicator.Run(ctx)
}

// SetBearerToken swaps the gating token in place, used by the SIGHUP
// reload path without restarting any listener.
func (s *Server) SetBearerToken(token string) {
	s.mu.Lock()
	s.cfg.BearerToken = token
	s.mu.Unlock()
}

func (s *Server) bearerToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.BearerToken
}

// Handler returns the admin HTTP handler: POST /tunnels,
// GET /tunnels/{id}, and GET /tunnels/{id}/status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tunnels", s.handleCreateTunnel)
	mux.HandleFunc("GET /tunnels/{id}", s.handleGetTunnel)
	mux.HandleFunc("GET /tunnels/{id}/status", s.handleStatus)
	return mux
}

func (s *Server) authorized(r *http.Request) bool {
	want := "Bearer " + s.bearerToken()
	got := r.Header.Get("Authorization")
	return got != "" && got == want
}

func (s *Server) handleCreateTunnel(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req tunnelConfigRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed request body: %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := req.toConfig()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	info, err := s.CreateTunnel(r.Context(), cfg)
	if err != nil {
		relaylog.Warn(r.Context(), logComponent, "tunnel creation failed", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(tunnelInfoFromDomain(info))
}

func (s *Server) handleGetTunnel(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	info, _, ok := s.reg.Get(id)
	if !ok {
		http.Error(w, "tunnel not found", http.StatusNotFound)
		return
	}
	resp := tunnelInfoFromDomain(info)
	if s.cfg.Bandwidth != nil {
		if stats, ok := s.cfg.Bandwidth.One(id); ok {
			resp.BytesToPeer = &stats.BytesToPeer
			resp.BytesToTunnel = &stats.BytesToTunnel
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// CreateTunnel performs the admin tunnel-creation side effects described in
// spec §4.6: mint ids, compute exposure, insert into the registry, and for
// port-exposed kinds start the per-tunnel TCP listener.
func (s *Server) CreateTunnel(ctx context.Context, cfg registry.TunnelConfig) (registry.TunnelInfo, error) {
	tunnelID := registry.NewTunnelID()
	accessToken := registry.NewAccessToken()

	exposure, err := registry.ComputeExposure(tunnelID, cfg, s.cfg.Domain)
	if err != nil {
		return registry.TunnelInfo{}, relayerr.Wrap(relayerr.StageAdmin, relayerr.CodeConfig, err)
	}

	info := registry.TunnelInfo{
		TunnelID:       tunnelID,
		AccessToken:    accessToken,
		Kind:           cfg.Kind,
		PublicHostname: exposure.PublicHostname,
		PublicPort:     exposure.PublicPort,
		ExposureMode:   exposure.Mode,
		RelayAddr:      s.cfg.RelayAddr,
		RelayPort:      s.cfg.RelayPort,
	}

	s.reg.Insert(info, cfg)

	if exposure.StartListener {
		if err := s.startTunnelListener(ctx, tunnelID, *exposure.PublicPort); err != nil {
			// The registry must never hold an entry that can never be
			// served: a client could still attach control to it (its
			// access token is already live) while no listener will ever
			// accept a public connection for it. Roll the insert back
			// rather than leaving an orphan behind.
			s.reg.Remove(tunnelID)
			return registry.TunnelInfo{}, relayerr.Wrap(relayerr.StageAdmin, relayerr.CodeIO, err)
		}
	}

	s.cfg.Observer.OnTunnelRegistered(tunnelID, string(cfg.Kind))
	relaylog.Info(ctx, logComponent, "tunnel created", "tunnel_id", tunnelID, "kind", cfg.Kind, "exposure_mode", exposure.Mode)

	if s.replicator != nil {
		go s.replicator.Publish(context.Background(), info)
	}
	return info, nil
}

func (s *Server) startTunnelListener(ctx context.Context, tunnelID string, port uint16) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ListenBindAddr, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listeners[tunnelID] = ln
	s.mu.Unlock()

	go s.disp.ServeTCP(ctx, ln, tunnelID)
	return nil
}

// Close shuts down every per-tunnel listener this admin server has
// started.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = make(map[string]net.Listener)
}

// tunnelConfigRequest is the wire shape of POST /tunnels' body.
type tunnelConfigRequest struct {
	Kind            string  `json:"kind"`
	LocalPort       uint16  `json:"local_port"`
	FixedPublicPort *uint16 `json:"fixed_public_port,omitempty"`
	Hostname        *string `json:"hostname,omitempty"`
}

func (r tunnelConfigRequest) toConfig() (registry.TunnelConfig, error) {
	kind := registry.TunnelKind(strings.ToLower(strings.TrimSpace(r.Kind)))
	switch kind {
	case registry.KindHTTP, registry.KindHTTPS, registry.KindTCPRaw, registry.KindUDPRaw,
		registry.KindMinecraft, registry.KindSSH, registry.KindTLSSNI:
	default:
		return registry.TunnelConfig{}, fmt.Errorf("unknown tunnel kind %q", r.Kind)
	}
	return registry.TunnelConfig{
		Kind:            kind,
		LocalPort:       r.LocalPort,
		FixedPublicPort: r.FixedPublicPort,
		Hostname:        r.Hostname,
	}, nil
}

// tunnelInfoResponse is the wire shape of TunnelInfo.
type tunnelInfoResponse struct {
	TunnelID       string  `json:"tunnel_id"`
	AccessToken    string  `json:"access_token"`
	Kind           string  `json:"kind"`
	PublicHostname *string `json:"public_hostname,omitempty"`
	PublicPort     *uint16 `json:"public_port,omitempty"`
	ExposureMode   string  `json:"exposure_mode"`
	RelayAddr      string  `json:"relay_addr"`
	RelayPort      uint16  `json:"relay_port"`
	BytesToPeer    *uint64 `json:"bytes_to_peer,omitempty"`
	BytesToTunnel  *uint64 `json:"bytes_to_tunnel,omitempty"`
}

func tunnelInfoFromDomain(info registry.TunnelInfo) tunnelInfoResponse {
	return tunnelInfoResponse{
		TunnelID:       info.TunnelID,
		AccessToken:    info.AccessToken,
		Kind:           string(info.Kind),
		PublicHostname: info.PublicHostname,
		PublicPort:     info.PublicPort,
		ExposureMode:   string(info.ExposureMode),
		RelayAddr:      info.RelayAddr,
		RelayPort:      info.RelayPort,
	}
}
