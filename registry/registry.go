package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/macqgoye/NRelay/relayerr"
	"github.com/macqgoye/NRelay/relaylog"
)

// Registry is the in-memory tunnel-id -> TunnelState map. A single
// multi-reader/single-writer lock protects it; no operation holds the lock
// across I/O — each copies out exactly what the caller needs (a channel
// reference, an owned slot) before releasing it.
type Registry struct {
	mu      sync.RWMutex
	tunnels map[string]*TunnelState
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tunnels: make(map[string]*TunnelState)}
}

// Insert adds a freshly created tunnel. It is the admin endpoint's job to
// have already minted a unique TunnelID; Insert overwrites silently if the
// id collides (which should never happen given random 128-bit ids).
func (r *Registry) Insert(info TunnelInfo, config TunnelConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tunnels[info.TunnelID] = &TunnelState{Info: info, Config: config}
}

// Len returns the number of tunnels currently held in the registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}

// Remove deletes a tunnel from the registry outright. It exists for the
// admin endpoint's own rollback path: if a side effect after Insert (such as
// binding a per-tunnel listener) fails, the half-created entry must not be
// left behind with a valid access token and no way to ever serve it. Remove
// is a no-op if tunnelID is not present.
func (r *Registry) Remove(tunnelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tunnels, tunnelID)
}

// Get returns a copy of the tunnel's descriptor and config, for read-only
// callers such as the admin status endpoint.
func (r *Registry) Get(tunnelID string) (TunnelInfo, TunnelConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.tunnels[tunnelID]
	if !ok {
		return TunnelInfo{}, TunnelConfig{}, false
	}
	return st.Info, st.Config, true
}

// FindByToken does a linear scan for the tunnel whose access token matches,
// mirroring the original relay's validate_auth. The registry is expected to
// hold at most a few thousand live tunnels, so a scan under the read lock
// is cheap and keeps lookup logic in one place rather than maintaining a
// second token->id index that could drift from the primary map.
func (r *Registry) FindByToken(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, st := range r.tunnels {
		if st.Info.AccessToken == token {
			return id, true
		}
	}
	return "", false
}

// FindByHostnamePrefix matches the leading DNS label of host against each
// tunnel's PublicHostname, used by the HTTP/HTTPS/TLS-SNI dispatchers to
// route a sniffed Host/SNI value to a tunnel.
func (r *Registry) FindByHostnamePrefix(host string) (string, bool) {
	label := host
	if idx := strings.IndexByte(host, '.'); idx >= 0 {
		label = host[:idx]
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, st := range r.tunnels {
		if st.Info.PublicHostname == nil {
			continue
		}
		hostname := *st.Info.PublicHostname
		hostLabel := hostname
		if idx := strings.IndexByte(hostname, '.'); idx >= 0 {
			hostLabel = hostname[:idx]
		}
		if hostLabel == label {
			return id, true
		}
	}
	return "", false
}

// AttachControl installs handle as the tunnel's live control connection,
// replacing and logging if one already exists. It reports whether a prior
// handle was replaced so the caller can raise an OnControlReplaced event
// through the observer chain rather than the replacement being visible only
// in a log line.
func (r *Registry) AttachControl(tunnelID string, handle *ControlHandle) (replaced bool, err error) {
	r.mu.Lock()
	st, ok := r.tunnels[tunnelID]
	if !ok {
		r.mu.Unlock()
		return false, relayerr.Wrap(relayerr.StageRegistry, relayerr.CodeTunnelNotFound, errTunnelNotFound(tunnelID))
	}
	replaced = st.control != nil
	st.control = handle
	r.mu.Unlock()

	if replaced {
		relaylog.Warn(context.Background(), "registry", "replacing live control connection", "tunnel_id", tunnelID)
	}
	return replaced, nil
}

// DetachControl removes the tunnel's control handle, but only if handle is
// still the current one: a stale detach from an already-replaced
// connection must be a no-op, identified by pointer identity.
func (r *Registry) DetachControl(tunnelID string, handle *ControlHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tunnels[tunnelID]
	if !ok {
		return
	}
	if st.control == handle {
		st.control = nil
	}
}

// ControlRequestChan returns the current control handle's request channel,
// or nil if no control connection is attached. The caller sends on it
// outside the registry lock.
func (r *Registry) ControlRequestChan(tunnelID string) (chan string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.tunnels[tunnelID]
	if !ok || st.control == nil {
		return nil, false
	}
	return st.control.RequestCh, true
}

// EnqueuePending appends slot to the tunnel's pending FIFO. The caller must
// enqueue before sending the matching connection-id on the control
// channel, or the client's incoming data connection can race the slot.
func (r *Registry) EnqueuePending(tunnelID string, slot PendingSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tunnels[tunnelID]
	if !ok {
		return relayerr.Wrap(relayerr.StageRegistry, relayerr.CodeTunnelNotFound, errTunnelNotFound(tunnelID))
	}
	st.pending = append(st.pending, slot)
	return nil
}

// DequeuePending pops the oldest pending slot for tunnelID, if any.
func (r *Registry) DequeuePending(tunnelID string) (PendingSlot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tunnels[tunnelID]
	if !ok || len(st.pending) == 0 {
		return PendingSlot{}, false
	}
	slot := st.pending[0]
	st.pending = st.pending[1:]
	return slot, true
}

// RemovePendingByConnectionID drops a specific slot (used when the ingress
// side gives up waiting and must not leave a stale entry for a future
// dequeue to hand a socket to nobody).
func (r *Registry) RemovePendingByConnectionID(tunnelID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.tunnels[tunnelID]
	if !ok {
		return
	}
	for i, slot := range st.pending {
		if slot.ConnectionID == connectionID {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			return
		}
	}
}

type tunnelNotFoundError string

func (e tunnelNotFoundError) Error() string { return "tunnel not found: " + string(e) }

func errTunnelNotFound(id string) error { return tunnelNotFoundError(id) }
