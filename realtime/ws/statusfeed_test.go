package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStatusFeedDeliversEventsInOrder(t *testing.T) {
	type event struct {
		Event string `json:"event"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := UpgradeStatusFeed(w, r, UpgradeOptions{})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		for _, e := range []string{"control_attached", "control_detached"} {
			if err := conn.WriteEvent(event{Event: e}); err != nil {
				t.Errorf("write %s: %v", e, err)
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := DialStatusFeed(ctx, wsURL(srv), DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	stop := conn.CloseWhenDone(ctx)
	defer stop()

	for _, want := range []string{"control_attached", "control_detached"} {
		b, err := conn.NextEvent()
		if err != nil {
			t.Fatalf("next event: %v", err)
		}
		var got event
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("decode %q: %v", b, err)
		}
		if got.Event != want {
			t.Fatalf("got event %q, want %q", got.Event, want)
		}
	}
}

func TestCloseWhenDoneUnblocksNextEvent(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := UpgradeStatusFeed(w, r, UpgradeOptions{})
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	conn, _, err := DialStatusFeed(dialCtx, wsURL(srv), DialOptions{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stop := conn.CloseWhenDone(ctx)
	defer stop()

	done := make(chan error, 1)
	go func() {
		_, err := conn.NextEvent()
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected NextEvent to fail once the context closed the connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("NextEvent was not unblocked by context cancellation")
	}
}
