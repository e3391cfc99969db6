package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/macqgoye/NRelay/ingress"
	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/registry"
)

// recordingObserver captures OnTunnelRegistered calls so tests can assert
// the event actually reaches an observer, not just the registry/log.
type recordingObserver struct {
	observability.TunnelObserver

	mu         sync.Mutex
	registered []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{TunnelObserver: observability.NoopTunnelObserver}
}

func (r *recordingObserver) OnTunnelRegistered(tunnelID, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, kind+":"+tunnelID)
}

func (r *recordingObserver) registeredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}

func newTestServer(t *testing.T) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	disp := ingress.New(reg, ingress.DefaultConfig())
	s, err := New(reg, disp, Config{BearerToken: "adm", RelayAddr: "relay.example.com", RelayPort: 7000, Domain: "example.com"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s, reg
}

func TestCreateTunnelRequiresBearerToken(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(tunnelConfigRequest{Kind: "tcp_raw", LocalPort: 9000})
	req, _ := http.NewRequest("POST", srv.URL+"/tunnels", bytes.NewReader(body))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got status %d, want 401", resp.StatusCode)
	}
}

func TestCreateTCPRawTunnelAssignsPortInBand(t *testing.T) {
	s, reg := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(tunnelConfigRequest{Kind: "tcp_raw", LocalPort: 9000})
	req, _ := http.NewRequest("POST", srv.URL+"/tunnels", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer adm")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}

	var info tunnelInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if info.PublicPort == nil || *info.PublicPort < 20000 || *info.PublicPort >= 30000 {
		t.Fatalf("expected public_port in [20000,30000), got %v", info.PublicPort)
	}
	if info.ExposureMode != "port" {
		t.Fatalf("got exposure_mode %q, want port", info.ExposureMode)
	}

	if _, _, ok := reg.Get(info.TunnelID); !ok {
		t.Fatal("expected tunnel to be present in the registry")
	}
}

func TestCreateHTTPTunnelGetsHostname(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(tunnelConfigRequest{Kind: "http", LocalPort: 3000})
	req, _ := http.NewRequest("POST", srv.URL+"/tunnels", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer adm")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	var info tunnelInfoResponse
	json.NewDecoder(resp.Body).Decode(&info)
	if info.PublicHostname == nil {
		t.Fatal("expected a public hostname for an http tunnel")
	}
	if info.ExposureMode != "hostname" {
		t.Fatalf("got exposure_mode %q, want hostname", info.ExposureMode)
	}
}

func TestGetTunnelIncludesBandwidthWhenConfigured(t *testing.T) {
	reg := registry.New()
	disp := ingress.New(reg, ingress.DefaultConfig())
	tracker := registry.NewBandwidthTracker()
	s, err := New(reg, disp, Config{BearerToken: "adm", RelayAddr: "relay.example.com", RelayPort: 7000, Domain: "example.com", Bandwidth: tracker})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(tunnelConfigRequest{Kind: "tcp_raw", LocalPort: 9000})
	req, _ := http.NewRequest("POST", srv.URL+"/tunnels", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer adm")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	var created tunnelInfoResponse
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()

	tracker.AddToPeer(created.TunnelID, 42)
	tracker.AddToTunnel(created.TunnelID, 7)

	getReq, _ := http.NewRequest("GET", srv.URL+"/tunnels/"+created.TunnelID, nil)
	getReq.Header.Set("Authorization", "Bearer adm")
	getResp, err := http.DefaultClient.Do(getReq)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	defer getResp.Body.Close()

	var got tunnelInfoResponse
	if err := json.NewDecoder(getResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BytesToPeer == nil || *got.BytesToPeer != 42 {
		t.Fatalf("got BytesToPeer %v, want 42", got.BytesToPeer)
	}
	if got.BytesToTunnel == nil || *got.BytesToTunnel != 7 {
		t.Fatalf("got BytesToTunnel %v, want 7", got.BytesToTunnel)
	}
}

func TestCreateTunnelFiresOnTunnelRegistered(t *testing.T) {
	reg := registry.New()
	disp := ingress.New(reg, ingress.DefaultConfig())
	obs := newRecordingObserver()
	s, err := New(reg, disp, Config{BearerToken: "adm", RelayAddr: "relay.example.com", RelayPort: 7000, Domain: "example.com", Observer: obs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.CreateTunnel(context.Background(), registry.TunnelConfig{Kind: registry.KindTCPRaw, LocalPort: 9000}); err != nil {
		t.Fatalf("CreateTunnel: %v", err)
	}
	if got := obs.registeredCount(); got != 1 {
		t.Fatalf("expected exactly one OnTunnelRegistered call, got %d", got)
	}
}

// TestCreateTunnelRollsBackRegistryOnListenerBindFailure is a regression
// test for the registry-poisoning bug: a tunnel that fails to bind its
// per-tunnel listener must not be left in the registry with a live access
// token and no way to ever serve it ("no error ever poisons the registry").
func TestCreateTunnelRollsBackRegistryOnListenerBindFailure(t *testing.T) {
	s, reg := newTestServer(t)

	fixedPort := uint16(21099)
	first, err := s.CreateTunnel(context.Background(), registry.TunnelConfig{Kind: registry.KindTCPRaw, LocalPort: 9000, FixedPublicPort: &fixedPort})
	if err != nil {
		t.Fatalf("CreateTunnel (first): %v", err)
	}
	if _, _, ok := reg.Get(first.TunnelID); !ok {
		t.Fatal("expected the first tunnel to be present in the registry")
	}

	// A second tunnel requesting the same fixed port fails to bind, since
	// the first tunnel's listener already holds it.
	_, err = s.CreateTunnel(context.Background(), registry.TunnelConfig{Kind: registry.KindTCPRaw, LocalPort: 9001, FixedPublicPort: &fixedPort})
	if err == nil {
		t.Fatal("expected the second tunnel's listener bind to fail on a port collision")
	}

	if n := reg.Len(); n != 1 {
		t.Fatalf("expected the registry to hold only the first tunnel after the failed creation, got %d entries", n)
	}
	if _, _, ok := reg.Get(first.TunnelID); !ok {
		t.Fatal("the first tunnel must survive the second creation's rollback")
	}
}

func TestCreateTunnelRejectsUnknownKind(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(tunnelConfigRequest{Kind: "bogus"})
	req, _ := http.NewRequest("POST", srv.URL+"/tunnels", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer adm")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", resp.StatusCode)
	}
}
