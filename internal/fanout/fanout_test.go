package fanout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arbiterlabs/specd/internal/obs"
)

type fakeAuth struct {
	allowed map[string]bool
	id      string
}

func (a fakeAuth) CanAccessProject(projectID string) bool { return a.allowed[projectID] }
func (a fakeAuth) Identity() string                       { return a.id }

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []string
}

func (p *recordingPublisher) Publish(projectID string, event map[string]any, specHash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	eventType, _ := event["event_type"].(string)
	p.msgs = append(p.msgs, projectID+"."+eventType)
}

func newTestServer(t *testing.T, f *Fabric, auth fakeAuth) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if _, err := f.Accept(ws, auth); err != nil {
			ws.Close()
		}
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readConnectionEstablished(t, c)
	return c
}

// readConnectionEstablished discards the connection_established frame every
// Accept sends immediately on open (spec.md §6), so tests can then assert on
// whatever frame they actually care about.
func readConnectionEstablished(t *testing.T, c *websocket.Conn) {
	t.Helper()
	var hello Frame
	if err := c.ReadJSON(&hello); err != nil {
		t.Fatalf("read connection_established: %v", err)
	}
	if hello.Data["event_type"] != "connection_established" {
		t.Fatalf("got %+v, want connection_established", hello)
	}
}

func newTestFabric(t *testing.T, pub Publisher) *Fabric {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	f := New(Config{HeartbeatInterval: time.Hour, Publisher: pub}, m, nil)
	t.Cleanup(f.Close)
	return f
}

func TestSubscribeAndBroadcastDeliversEvent(t *testing.T) {
	pub := &recordingPublisher{}
	f := newTestFabric(t, pub)
	auth := fakeAuth{allowed: map[string]bool{"proj-1": true}, id: "user-a"}
	srv, url := newTestServer(t, f, auth)
	defer srv.Close()

	client := dial(t, url)
	defer client.Close()

	if err := client.WriteJSON(Frame{Type: "event", Data: map[string]any{"action": "subscribe", "project_id": "proj-1"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var confirm Frame
	if err := client.ReadJSON(&confirm); err != nil {
		t.Fatalf("read subscription_confirmed: %v", err)
	}
	if confirm.Data["event_type"] != "subscription_confirmed" {
		t.Fatalf("got %+v, want subscription_confirmed", confirm)
	}

	time.Sleep(20 * time.Millisecond) // let readPump's subscribe() land before Broadcast reads the index
	f.Broadcast(context.Background(), "proj-1", map[string]any{"event_type": "fragment_updated"})

	var ev Frame
	if err := client.ReadJSON(&ev); err != nil {
		t.Fatalf("read broadcast event: %v", err)
	}
	if ev.Data["event_type"] != "fragment_updated" {
		t.Errorf("got %+v, want fragment_updated", ev)
	}
	if ev.Data["id"] == nil || ev.Data["created_at"] == nil {
		t.Errorf("expected the Fabric to stamp id/created_at, got %+v", ev.Data)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 1 || pub.msgs[0] != "proj-1.fragment_updated" {
		t.Errorf("expected one publish recorded for fragment_updated, got %v", pub.msgs)
	}
}

func TestSubscribeDeniedForInaccessibleProject(t *testing.T) {
	f := newTestFabric(t, nil)
	auth := fakeAuth{allowed: map[string]bool{}, id: "user-a"}
	srv, url := newTestServer(t, f, auth)
	defer srv.Close()

	client := dial(t, url)
	defer client.Close()

	if err := client.WriteJSON(Frame{Type: "event", Data: map[string]any{"action": "subscribe", "project_id": "secret"}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var resp Frame
	if err := client.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != "error" {
		t.Errorf("Type = %q, want error", resp.Type)
	}
}

func TestUnsubscribeRemovesFromSubscriberSet(t *testing.T) {
	f := newTestFabric(t, nil)
	auth := fakeAuth{allowed: map[string]bool{"proj-1": true}, id: "user-a"}
	srv, url := newTestServer(t, f, auth)
	defer srv.Close()

	client := dial(t, url)
	defer client.Close()

	client.WriteJSON(Frame{Type: "event", Data: map[string]any{"action": "subscribe", "project_id": "proj-1"}})
	var confirm Frame
	client.ReadJSON(&confirm)

	client.WriteJSON(Frame{Type: "event", Data: map[string]any{"action": "unsubscribe", "project_id": "proj-1"}})
	time.Sleep(20 * time.Millisecond)

	f.mu.RLock()
	_, stillSubscribed := f.subscribers["proj-1"]
	f.mu.RUnlock()
	if stillSubscribed {
		t.Error("expected subscriber set to be empty and removed after unsubscribe")
	}
}

func TestDisconnectRemovesConnection(t *testing.T) {
	f := newTestFabric(t, nil)
	auth := fakeAuth{allowed: map[string]bool{"proj-1": true}}
	srv, url := newTestServer(t, f, auth)
	defer srv.Close()

	client := dial(t, url)
	client.WriteJSON(Frame{Type: "event", Data: map[string]any{"action": "subscribe", "project_id": "proj-1"}})
	var confirm Frame
	client.ReadJSON(&confirm)

	client.Close()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if f.ConnectionCount() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if f.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount = %d, want 0 after disconnect", f.ConnectionCount())
	}
}

func TestMaxConnectionsRejectsExcess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewMetrics(reg)
	f := New(Config{HeartbeatInterval: time.Hour, MaxConnections: 1}, m, nil)
	t.Cleanup(f.Close)
	auth := fakeAuth{allowed: map[string]bool{}}
	srv, url := newTestServer(t, f, auth)
	defer srv.Close()

	c1 := dial(t, url)
	defer c1.Close()
	time.Sleep(20 * time.Millisecond)

	// Dial directly rather than via dial(): the second connection is
	// refused before Accept ever sends a connection_established frame.
	c2, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c2.Close()

	// The second connection should be refused and closed by the server.
	c2.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := c2.ReadMessage(); err == nil {
		t.Error("expected the second connection to be closed by the server")
	}
}
