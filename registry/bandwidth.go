package registry

import (
	"sync"
	"time"
)

// bandwidthIdleRetention is how long a tunnel's byte counters survive with
// no pump activity before Prune reclaims them. The admin read endpoint
// reports on live and recently-live sessions; a tunnel silent for this
// long simply drops out of the response until it moves bytes again.
const bandwidthIdleRetention = 5 * time.Minute

// TunnelBandwidth is a point-in-time view of one tunnel's byte counters.
type TunnelBandwidth struct {
	BytesToPeer   uint64
	BytesToTunnel uint64
}

type bandwidthEntry struct {
	TunnelBandwidth
	lastActivity time.Time
}

// BandwidthTracker accumulates per-tunnel, per-direction byte counts
// across however many concurrent pumps a tunnel has running. It follows
// the same shape as the registry itself: one mutex-guarded map, never held
// across I/O. Pump reads hand over at most 8 KiB per update, so contention
// on the single lock stays negligible next to the socket I/O producing the
// updates.
type BandwidthTracker struct {
	mu      sync.Mutex
	entries map[string]*bandwidthEntry
}

func NewBandwidthTracker() *BandwidthTracker {
	return &BandwidthTracker{entries: make(map[string]*bandwidthEntry)}
}

// touch returns tunnelID's entry, creating it if needed, and stamps it
// live. Callers hold t.mu.
func (t *BandwidthTracker) touch(tunnelID string, now time.Time) *bandwidthEntry {
	e, ok := t.entries[tunnelID]
	if !ok {
		e = &bandwidthEntry{}
		t.entries[tunnelID] = e
	}
	e.lastActivity = now
	return e
}

// AddToPeer records bytes flowing from the tunnel's client toward the
// public peer.
func (t *BandwidthTracker) AddToPeer(tunnelID string, n uint64) {
	t.mu.Lock()
	t.touch(tunnelID, time.Now()).BytesToPeer += n
	t.mu.Unlock()
}

// AddToTunnel records bytes flowing from the public peer toward the
// tunnel's client.
func (t *BandwidthTracker) AddToTunnel(tunnelID string, n uint64) {
	t.mu.Lock()
	t.touch(tunnelID, time.Now()).BytesToTunnel += n
	t.mu.Unlock()
}

// MarkPumpClosed refreshes the tunnel's activity stamp when a pump session
// ends, so a session that closed without moving bytes still keeps its
// counters visible for a full retention window. Unknown tunnels are a
// no-op; a close with no prior traffic has nothing to report.
func (t *BandwidthTracker) MarkPumpClosed(tunnelID string, now time.Time) {
	t.mu.Lock()
	if e, ok := t.entries[tunnelID]; ok {
		e.lastActivity = now
	}
	t.mu.Unlock()
}

// Prune drops counters for tunnels with no pump activity within
// bandwidthIdleRetention of now.
func (t *BandwidthTracker) Prune(now time.Time) {
	cutoff := now.Add(-bandwidthIdleRetention)
	t.mu.Lock()
	for id, e := range t.entries {
		if e.lastActivity.Before(cutoff) {
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()
}

// One returns the current counters for a single tunnel, if tracked.
func (t *BandwidthTracker) One(tunnelID string) (TunnelBandwidth, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[tunnelID]
	if !ok {
		return TunnelBandwidth{}, false
	}
	return e.TunnelBandwidth, true
}
