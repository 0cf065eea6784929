package fanout

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arbiterlabs/specd/internal/model"
)

// Conn is one duplex client connection, owned exclusively by the Fabric
// (SPEC_FULL.md §3's ownership rule). Subscription-set mutation happens
// under c.mu to prevent duplicate subscribe/unsubscribe interleavings
// (SPEC_FULL.md §5); outbound frames are serialized through send so a
// single connection's messages are delivered in submission order.
type Conn struct {
	id   string
	ws   *websocket.Conn
	auth model.AuthContext
	send chan Frame

	mu            sync.Mutex
	subscriptions map[string]struct{}
	lastSeen      time.Time

	closeOnce sync.Once
}

// ID returns the connection's identifier.
func (c *Conn) ID() string { return c.id }

// LastSeen returns the last time this connection was observed alive (a
// received pong, client ping, or any inbound frame).
func (c *Conn) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

// trySend enqueues frame without blocking; a full outbound queue indicates
// a slow or dead peer, so the connection is reported as failed rather than
// letting it stall the broadcaster.
func (c *Conn) trySend(f Frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// readPump decodes inbound frames and applies subscribe/unsubscribe/pong
// control semantics (SPEC_FULL.md §4.6), running until the connection
// errors or closes.
func (f *Fabric) readPump(c *Conn) {
	defer f.removeConnection(c)
	for {
		var in Frame
		if err := c.ws.ReadJSON(&in); err != nil {
			return
		}
		c.touch()

		switch in.Type {
		case "pong", "ping":
			// touch() above already recorded liveness.
		case "event":
			action, _ := in.Data["action"].(string)
			projectID, _ := in.Data["project_id"].(string)
			if projectID == "" {
				projectID = in.ProjectID
			}
			switch action {
			case "subscribe":
				if err := f.subscribe(c, projectID); err != nil {
					c.trySend(Frame{Type: "error", Data: map[string]any{"error": err.Error(), "project_id": projectID}})
					continue
				}
				c.trySend(Frame{Type: "event", ProjectID: projectID, Data: map[string]any{
					"event_type": "subscription_confirmed",
					"project_id": projectID,
				}})
			case "unsubscribe":
				f.unsubscribe(c, projectID)
			}
		}
	}
}

// writePump serializes every outbound write for c onto a single goroutine,
// which is what makes per-connection message ordering hold even though
// Broadcast dispatches to many connections concurrently.
func (f *Fabric) writePump(c *Conn) {
	for frame := range c.send {
		if err := c.ws.WriteJSON(frame); err != nil {
			return
		}
	}
}
