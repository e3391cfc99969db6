package controlserver

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/protocol"
	"github.com/macqgoye/NRelay/registry"
)

// recordingObserver captures OnControlReplaced calls so tests can assert the
// event actually fires, rather than only being reachable in theory through
// the fan-out chain (observability.MultiObserver, the prom bridge, the
// status feed) that wraps a real TunnelObserver in production.
type recordingObserver struct {
	observability.TunnelObserver

	mu       sync.Mutex
	replaced []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{TunnelObserver: observability.NoopTunnelObserver}
}

func (r *recordingObserver) OnControlReplaced(tunnelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replaced = append(r.replaced, tunnelID)
}

func (r *recordingObserver) replacedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replaced)
}

func newTestTunnel(t *testing.T, reg *registry.Registry, kind registry.TunnelKind) (tunnelID, token string) {
	t.Helper()
	tunnelID = registry.NewTunnelID()
	token = registry.NewAccessToken()
	reg.Insert(registry.TunnelInfo{TunnelID: tunnelID, AccessToken: token, Kind: kind}, registry.TunnelConfig{Kind: kind})
	return tunnelID, token
}

func startServer(t *testing.T, reg *registry.Registry) (addr string, cancel context.CancelFunc) {
	t.Helper()
	return startServerWithConfig(t, reg, DefaultConfig())
}

func startServerWithConfig(t *testing.T, reg *registry.Registry, cfg Config) (addr string, cancel context.CancelFunc) {
	t.Helper()
	srv, err := New(reg, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() { cancel(); ln.Close() })
	return ln.Addr().String(), cancel
}

// TestControlModeAuthSuccess mirrors spec §8 invariant 2 for the control
// side: a matching token gets an AuthResult{success:true}.
func TestControlModeAuthSuccess(t *testing.T) {
	reg := registry.New()
	tunnelID, token := newTestTunnel(t, reg, registry.KindTCPRaw)
	addr, _ := startServer(t, reg)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeControl, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read auth result: %v", err)
	}
	if msg.AuthResult == nil || !msg.AuthResult.Success || msg.AuthResult.TunnelID != tunnelID {
		t.Fatalf("unexpected auth result: %+v", msg.AuthResult)
	}
}

// TestUnknownTokenClosesWithoutReply mirrors spec §8 scenario 5.
func TestUnknownTokenClosesWithoutReply(t *testing.T) {
	reg := registry.New()
	addr, _ := startServer(t, reg)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeControl, TunnelToken: "does-not-exist"},
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed without a reply")
	}
}

// TestTunnelModeMatchesEnqueuedSlot mirrors spec §8 scenario 3: a pending
// slot enqueued before a tunnel-mode connection authenticates is found and
// married to it, never left dangling.
func TestTunnelModeMatchesEnqueuedSlot(t *testing.T) {
	reg := registry.New()
	tunnelID, token := newTestTunnel(t, reg, registry.KindTCPRaw)
	addr, _ := startServer(t, reg)

	resultCh := make(chan registry.DataConnResult, 1)
	if err := reg.EnqueuePending(tunnelID, registry.PendingSlot{ConnectionID: "ignored-by-server", ResultCh: resultCh}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeTunnel, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read tunnel ok: %v", err)
	}
	if msg.TunnelOk == nil {
		t.Fatalf("expected a TunnelOk reply, got %+v", msg)
	}

	select {
	case res := <-resultCh:
		if res.ConnectionID != msg.TunnelOk.ConnectionID {
			t.Fatalf("result connection id %q != TunnelOk connection id %q", res.ConnectionID, msg.TunnelOk.ConnectionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending slot was never matched with the data connection")
	}
}

// TestTunnelModeNoPendingSlotClosesCleanly covers the race the spec
// acknowledges in §4.4: a tunnel-mode connection with the right token but
// no enqueued slot (the ingress side gave up) closes rather than hangs.
func TestTunnelModeNoPendingSlotClosesCleanly(t *testing.T) {
	reg := registry.New()
	_, token := newTestTunnel(t, reg, registry.KindTCPRaw)
	addr, _ := startServer(t, reg)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeTunnel, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read tunnel ok: %v", err)
	}
	if msg.TunnelOk == nil {
		t.Fatalf("expected TunnelOk even with no pending slot, got %+v", msg)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the server to close the connection with no pending slot")
	}
}

// TestTunnelModeCanceledSlotClosesConn covers the abandonment race: the
// ingress side gave up on a slot (and closed its Canceled channel) right as
// a data connection dequeued it. The server must close the data socket
// instead of parking it on a handoff nobody will ever receive.
func TestTunnelModeCanceledSlotClosesConn(t *testing.T) {
	reg := registry.New()
	tunnelID, token := newTestTunnel(t, reg, registry.KindTCPRaw)
	addr, _ := startServer(t, reg)

	canceled := make(chan struct{})
	close(canceled)
	slot := registry.PendingSlot{
		ConnectionID: "c1",
		ResultCh:     make(chan registry.DataConnResult),
		Canceled:     canceled,
	}
	if err := reg.EnqueuePending(tunnelID, slot); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeTunnel, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		t.Fatalf("read tunnel ok: %v", err)
	}
	if msg.TunnelOk == nil {
		t.Fatalf("expected TunnelOk, got %+v", msg)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected the server to close the data connection for a canceled slot")
	}
}

// TestControlAttachReplacesPriorHandle mirrors the registry invariant that
// at most one control connection may be live per tunnel: a second control
// connection replaces the first, and requests pushed after the replacement
// reach the second connection.
func TestControlAttachReplacesPriorHandle(t *testing.T) {
	reg := registry.New()
	tunnelID, token := newTestTunnel(t, reg, registry.KindTCPRaw)
	addr, _ := startServer(t, reg)

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	if err := protocol.WriteMessage(first, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeControl, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth first: %v", err)
	}
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadMessage(first); err != nil {
		t.Fatalf("read first auth result: %v", err)
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	if err := protocol.WriteMessage(second, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeControl, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth second: %v", err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadMessage(second); err != nil {
		t.Fatalf("read second auth result: %v", err)
	}

	// Wait for the registry to reflect the replacement before enqueueing a
	// request, so it is unambiguous which connection should receive it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch, ok := reg.ControlRequestChan(tunnelID); ok {
			ch <- "conn-1"
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := protocol.ReadMessage(second)
	if err != nil {
		t.Fatalf("read open-tunnel request on second: %v", err)
	}
	if msg.OpenTunnelRequest == nil || msg.OpenTunnelRequest.ConnectionID != "conn-1" {
		t.Fatalf("expected OpenTunnelRequest on the surviving connection, got %+v", msg)
	}

	first.Close()
}

// TestControlReplacementFiresObserver covers the maintainer-flagged gap
// where a second control connection pre-empting a live one updated the
// registry but never reached the observer chain: OnControlReplaced must
// fire exactly once for the replaced handle.
func TestControlReplacementFiresObserver(t *testing.T) {
	reg := registry.New()
	_, token := newTestTunnel(t, reg, registry.KindTCPRaw)
	obs := newRecordingObserver()
	addr, _ := startServerWithConfig(t, reg, Config{Observer: obs})

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	if err := protocol.WriteMessage(first, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeControl, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth first: %v", err)
	}
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadMessage(first); err != nil {
		t.Fatalf("read first auth result: %v", err)
	}
	defer first.Close()

	if got := obs.replacedCount(); got != 0 {
		t.Fatalf("expected no replacement yet, got %d", got)
	}

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()
	if err := protocol.WriteMessage(second, &protocol.ControlMessage{
		ClientAuth: &protocol.ClientAuth{Mode: protocol.ModeControl, TunnelToken: token},
	}); err != nil {
		t.Fatalf("write auth second: %v", err)
	}
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := protocol.ReadMessage(second); err != nil {
		t.Fatalf("read second auth result: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && obs.replacedCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := obs.replacedCount(); got != 1 {
		t.Fatalf("expected exactly one OnControlReplaced call, got %d", got)
	}
}
