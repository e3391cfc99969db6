// Package ws carries the admin status feed (GET /tunnels/{id}/status) over
// a websocket: the server side upgrades and pushes one JSON event per text
// frame, the CLI's status subcommand dials in and prints them. The feed is
// strictly server-to-client and best-effort — a subscriber that cannot keep
// up is disconnected, never waited on — so the connection type below is
// shaped around that: writes carry a fixed short deadline, reads block
// until the peer pushes or the connection is closed, and cancellation is
// expressed by closing the connection rather than by plumbing a context
// through every call.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// eventWriteTimeout bounds every event push. The status hub already drops
// events for subscribers with a full buffer; one that cannot drain a
// single frame within this window is disconnected rather than allowed to
// stall its handler.
const eventWriteTimeout = 10 * time.Second

// StatusConn is one upgraded or dialed status-feed subscription.
type StatusConn struct {
	c *websocket.Conn
}

// UpgradeOptions configures UpgradeStatusFeed.
type UpgradeOptions struct {
	CheckOrigin func(r *http.Request) bool
}

// UpgradeStatusFeed upgrades an admin status-feed HTTP request to a
// websocket subscription.
func UpgradeStatusFeed(w http.ResponseWriter, r *http.Request, opts UpgradeOptions) (*StatusConn, error) {
	up := websocket.Upgrader{CheckOrigin: opts.CheckOrigin}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &StatusConn{c: c}, nil
}

// DialOptions configures DialStatusFeed.
type DialOptions struct {
	Header http.Header
}

// DialStatusFeed opens a status-feed subscription as a client. ctx bounds
// the handshake only; to abandon an established subscription, close the
// connection (CloseWhenDone arranges that from a context).
func DialStatusFeed(ctx context.Context, urlStr string, opts DialOptions) (*StatusConn, *http.Response, error) {
	var d websocket.Dialer
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return &StatusConn{c: c}, resp, nil
}

// WriteEvent marshals evt and pushes it to the subscriber as one text
// frame, bounded by eventWriteTimeout.
func (c *StatusConn) WriteEvent(evt any) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := c.c.SetWriteDeadline(time.Now().Add(eventWriteTimeout)); err != nil {
		return err
	}
	return c.c.WriteMessage(websocket.TextMessage, b)
}

// NextEvent blocks until the relay pushes the next event and returns its
// raw JSON payload. Frames that are not text (pings, unexpected binary)
// are skipped. It returns an error once the connection is closed, by the
// peer or locally.
func (c *StatusConn) NextEvent() ([]byte, error) {
	for {
		mt, b, err := c.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return b, nil
		}
	}
}

// CloseWhenDone closes the connection once ctx ends, unblocking any
// NextEvent in flight. The returned stop function releases the watcher
// once the caller is finished with the connection.
func (c *StatusConn) CloseWhenDone(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() { c.c.Close() })
}

// Close closes the underlying connection.
func (c *StatusConn) Close() error {
	return c.c.Close()
}
