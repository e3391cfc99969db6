package admin

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	hyamux "github.com/hashicorp/yamux"

	"github.com/macqgoye/NRelay/registry"
	"github.com/macqgoye/NRelay/relaylog"
)

// replicatorDialTimeout bounds the initial TCP dial to the secondary relay.
const replicatorDialTimeout = 10 * time.Second

// replicatorReconnectInterval is the fixed delay between reconnect attempts
// when the yamux session to the secondary relay is lost.
const replicatorReconnectInterval = 5 * time.Second

// Replicator mirrors every tunnel this relay creates to a secondary relay's
// registry over a single yamux session, opening one stream per event. It is
// optional and off by default; a deployment that doesn't configure a
// secondary address never constructs one.
type Replicator struct {
	addr string

	mu   sync.Mutex
	sess *hyamux.Session
}

// NewReplicator returns a Replicator for addr. It dials only once Run is
// started; Publish drops events while no session is up.
func NewReplicator(addr string) *Replicator {
	return &Replicator{addr: addr}
}

// Run maintains a yamux session to the secondary relay, reconnecting on
// loss, until ctx is canceled.
func (r *Replicator) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := net.DialTimeout("tcp", r.addr, replicatorDialTimeout)
		if err != nil {
			relaylog.Warn(ctx, "admin.replicate", "dial secondary relay failed", "addr", r.addr, "err", err)
			r.sleep(ctx, replicatorReconnectInterval)
			continue
		}
		sess, err := hyamux.Client(conn, hyamux.DefaultConfig())
		if err != nil {
			conn.Close()
			relaylog.Warn(ctx, "admin.replicate", "yamux client session failed", "addr", r.addr, "err", err)
			r.sleep(ctx, replicatorReconnectInterval)
			continue
		}
		r.setSession(sess)
		relaylog.Info(ctx, "admin.replicate", "replication session established", "addr", r.addr)

		select {
		case <-sess.CloseChan():
		case <-ctx.Done():
			r.setSession(nil)
			sess.Close()
			return
		}
		r.setSession(nil)
		relaylog.Warn(ctx, "admin.replicate", "replication session lost", "addr", r.addr)
		r.sleep(ctx, replicatorReconnectInterval)
	}
}

func (r *Replicator) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (r *Replicator) setSession(sess *hyamux.Session) {
	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()
}

func (r *Replicator) session() *hyamux.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

// Publish mirrors one tunnel-creation event over a fresh yamux stream. It is
// best-effort: a replication hiccup never fails the tunnel creation it
// describes.
func (r *Replicator) Publish(ctx context.Context, info registry.TunnelInfo) {
	sess := r.session()
	if sess == nil {
		return
	}
	stream, err := sess.OpenStream()
	if err != nil {
		relaylog.Warn(ctx, "admin.replicate", "open stream failed", "tunnel_id", info.TunnelID, "err", err)
		return
	}
	defer stream.Close()

	if err := json.NewEncoder(stream).Encode(tunnelInfoFromDomain(info)); err != nil {
		relaylog.Warn(ctx, "admin.replicate", "encode replication event failed", "tunnel_id", info.TunnelID, "err", err)
	}
}
