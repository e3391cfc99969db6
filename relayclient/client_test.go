package relayclient

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/macqgoye/NRelay/protocol"
)

func TestNewRejectsMissingFields(t *testing.T) {
	if _, err := New(Config{Token: "t"}); err == nil {
		t.Fatal("expected error for missing ServerAddr")
	}
	if _, err := New(Config{ServerAddr: "x:1"}); err == nil {
		t.Fatal("expected error for missing Token")
	}
}

// TestRunOnceServesOpenTunnelRequest spins up a minimal fake relay that
// performs the control handshake, sends one OpenTunnelRequest, accepts the
// resulting tunnel-mode data connection, and verifies bytes the relay side
// writes are pumped to the local target and its echo comes back across the
// relay connection.
func TestRunOnceServesOpenTunnelRequest(t *testing.T) {
	relayLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen relay: %v", err)
	}
	defer relayLn.Close()

	localLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen local: %v", err)
	}
	defer localLn.Close()

	localPort := uint16(localLn.Addr().(*net.TCPAddr).Port)

	go func() {
		conn, err := localLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4)
		io.ReadFull(conn, buf)
		conn.Write(buf)
	}()

	fakeServerDone := make(chan []byte, 1)
	go func() {
		// Control connection.
		ctrl, err := relayLn.Accept()
		if err != nil {
			return
		}
		msg, err := protocol.ReadMessage(ctrl)
		if err != nil || msg.ClientAuth == nil {
			return
		}
		protocol.WriteMessage(ctrl, &protocol.ControlMessage{
			AuthResult: &protocol.AuthResult{Success: true, TunnelID: "tun-1"},
		})
		protocol.WriteMessage(ctrl, &protocol.ControlMessage{
			OpenTunnelRequest: &protocol.OpenTunnelRequest{TunnelID: "tun-1", ConnectionID: "conn-1"},
		})

		// Data connection.
		data, err := relayLn.Accept()
		if err != nil {
			return
		}
		defer data.Close()
		dmsg, err := protocol.ReadMessage(data)
		if err != nil || dmsg.ClientAuth == nil || dmsg.ClientAuth.Mode != protocol.ModeTunnel {
			return
		}
		protocol.WriteMessage(data, &protocol.ControlMessage{
			TunnelOk: &protocol.TunnelOk{ConnectionID: "conn-1"},
		})
		data.Write([]byte("ping"))
		buf := make([]byte, 4)
		io.ReadFull(data, buf)
		fakeServerDone <- buf
	}()

	cli, err := New(Config{ServerAddr: relayLn.Addr().String(), Token: "tok", LocalPort: localPort})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go cli.runOnce(ctx)

	select {
	case got := <-fakeServerDone:
		if string(got) != "ping" {
			t.Fatalf("got %q, want echoed ping", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for data connection round-trip")
	}
}
