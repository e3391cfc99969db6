package admin

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/macqgoye/NRelay/observability"
	"github.com/macqgoye/NRelay/realtime/ws"
	"github.com/macqgoye/NRelay/relaylog"
)

// statusEvent is one control-attach/detach notification pushed to a
// subscriber of a tunnel's status feed.
type statusEvent struct {
	Event     string `json:"event"`
	TunnelID  string `json:"tunnel_id"`
	Timestamp string `json:"timestamp"`
}

// StatusHub fans control-attach/detach/replace events out to any number of
// per-tunnel websocket subscribers. It implements observability.TunnelObserver
// so it can be composed into the same observer the control server and
// ingress dispatcher already report through, rather than growing its own ad hoc
// notification path.
type StatusHub struct {
	mu   sync.Mutex
	subs map[string]map[chan statusEvent]struct{}
}

// NewStatusHub returns an empty StatusHub.
func NewStatusHub() *StatusHub {
	return &StatusHub{subs: make(map[string]map[chan statusEvent]struct{})}
}

func (h *StatusHub) subscribe(tunnelID string) chan statusEvent {
	ch := make(chan statusEvent, 8)
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[tunnelID]
	if !ok {
		set = make(map[chan statusEvent]struct{})
		h.subs[tunnelID] = set
	}
	set[ch] = struct{}{}
	return ch
}

func (h *StatusHub) unsubscribe(tunnelID string, ch chan statusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[tunnelID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, tunnelID)
		}
	}
}

func (h *StatusHub) publish(tunnelID, event string) {
	h.mu.Lock()
	set := h.subs[tunnelID]
	chans := make([]chan statusEvent, 0, len(set))
	for ch := range set {
		chans = append(chans, ch)
	}
	h.mu.Unlock()

	evt := statusEvent{Event: event, TunnelID: tunnelID, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
	for _, ch := range chans {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop the event rather than block tunnel
			// lifecycle processing on a stalled websocket write.
		}
	}
}

// OnTunnelRegistered satisfies observability.TunnelObserver; the status feed
// only reports control-attach lifecycle, not registration itself.
func (h *StatusHub) OnTunnelRegistered(string, string) {}

func (h *StatusHub) OnControlAttached(tunnelID string) { h.publish(tunnelID, "control_attached") }
func (h *StatusHub) OnControlDetached(tunnelID string) { h.publish(tunnelID, "control_detached") }
func (h *StatusHub) OnControlReplaced(tunnelID string) { h.publish(tunnelID, "control_replaced") }

func (h *StatusHub) OnRendezvous(string, observability.RendezvousResult, time.Duration) {}
func (h *StatusHub) OnSniffer(string, observability.SnifferOutcome)                     {}
func (h *StatusHub) OnPumpClosed(string, observability.PumpCloseReason)                 {}
func (h *StatusHub) BytesPumped(string, observability.Direction, int64)                 {}

var _ observability.TunnelObserver = (*StatusHub)(nil)

// handleStatus implements GET /tunnels/{id}/status: bearer-gated like tunnel
// creation, it upgrades to a websocket and streams control-attach/detach
// events for that tunnel until the client disconnects.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	if _, _, ok := s.reg.Get(id); !ok {
		http.Error(w, "tunnel not found", http.StatusNotFound)
		return
	}

	conn, err := ws.UpgradeStatusFeed(w, r, ws.UpgradeOptions{CheckOrigin: ws.NewOriginFilter(s.cfg.Domain)})
	if err != nil {
		relaylog.Warn(r.Context(), logComponent, "status websocket upgrade failed", "tunnel_id", id, "err", err)
		return
	}
	defer conn.Close()

	ch := s.hub.subscribe(id)
	defer s.hub.unsubscribe(id, ch)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The feed is server-to-client only; the one read of interest is the
	// one that fails when the subscriber goes away. The deferred Close
	// above unblocks it when this handler returns first.
	go func() {
		for {
			if _, err := conn.NextEvent(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case evt := <-ch:
			if err := conn.WriteEvent(evt); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
