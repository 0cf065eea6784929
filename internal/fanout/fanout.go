// Package fanout implements the Fan-out Fabric (SPEC_FULL.md §4.6): a
// registry of duplex client connections, their per-project subscription
// sets, and the broadcast/heartbeat machinery that keeps them live.
// Grounded on internal/server/sse.go's Broadcaster (per-run fan-out,
// slow-client drop-without-block) and internal/server/registry.go's
// id-keyed registry under sync.RWMutex. The teacher's broadcaster is
// push-only SSE; SPEC_FULL.md §4.6/§6 requires true bidirectional control
// frames (subscribe/unsubscribe/pong), so the transport is upgraded to
// github.com/gorilla/websocket while keeping the teacher's exact fan-out
// shape: one outbound goroutine per connection reading from a buffered
// channel, and history-free semantics (events are journal-backed, not
// broadcaster-held).
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arbiterlabs/specd/internal/idgen"
	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/obs"
)

// Frame is the application-layer protocol envelope from SPEC_FULL.md §4.6.
type Frame struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"projectId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher is the Fabric's view of the External Bus Adapter: fire and
// forget, never blocking the broadcast path (SPEC_FULL.md §4.6 step 2).
// specHash is optional and empty when the event doesn't carry one.
type Publisher interface {
	Publish(projectID string, event map[string]any, specHash string)
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, map[string]any, string) {}

// Fabric owns every live Connection and the per-project subscriber index.
type Fabric struct {
	mu          sync.RWMutex
	connections map[string]*Conn
	subscribers map[string]map[string]struct{} // projectID -> connID set

	publisher         Publisher
	metrics           *obs.Metrics
	logger            *zap.Logger
	heartbeatInterval time.Duration
	maxConnections    int

	stop chan struct{}
	once sync.Once
}

// Config configures a Fabric.
type Config struct {
	HeartbeatInterval time.Duration
	MaxConnections    int
	Publisher         Publisher
}

// New constructs a Fabric and starts its heartbeat loop. Call Close to stop
// it.
func New(cfg Config, metrics *obs.Metrics, logger *zap.Logger) *Fabric {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	f := &Fabric{
		connections:       make(map[string]*Conn),
		subscribers:       make(map[string]map[string]struct{}),
		publisher:         cfg.Publisher,
		metrics:           metrics,
		logger:            logger,
		heartbeatInterval: cfg.HeartbeatInterval,
		maxConnections:    cfg.MaxConnections,
		stop:              make(chan struct{}),
	}
	go f.heartbeatLoop()
	return f
}

// Close stops the heartbeat loop and closes every live connection.
func (f *Fabric) Close() {
	f.once.Do(func() { close(f.stop) })
	f.mu.Lock()
	conns := make([]*Conn, 0, len(f.connections))
	for _, c := range f.connections {
		conns = append(conns, c)
	}
	f.mu.Unlock()
	for _, c := range conns {
		f.removeConnection(c)
	}
}

// ConnectionCount returns the number of currently registered connections.
func (f *Fabric) ConnectionCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.connections)
}

// Accept registers a connection already upgraded by the caller (the
// internal/httpapi transport boundary owns the HTTP upgrade itself;
// SPEC_FULL.md's §6 keeps httpapi thin, so Accept takes the raw
// *websocket.Conn rather than an http.ResponseWriter/Request pair) and
// starts its read/write pumps. It returns an error if maxConnections would
// be exceeded.
func (f *Fabric) Accept(ws *websocket.Conn, auth model.AuthContext) (*Conn, error) {
	f.mu.Lock()
	if f.maxConnections > 0 && len(f.connections) >= f.maxConnections {
		f.mu.Unlock()
		return nil, errConnectionLimitReached
	}
	c := &Conn{
		id:            idgen.New(),
		ws:            ws,
		auth:          auth,
		send:          make(chan Frame, 256),
		subscriptions: make(map[string]struct{}),
		lastSeen:      time.Now(),
	}
	f.connections[c.id] = c
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.ActiveConnections.Inc()
	}

	go f.readPump(c)
	go f.writePump(c)

	// spec.md §6: "On open, server sends {type:"event",
	// data:{event_type:"connection_established", connection_id, timestamp}}".
	c.trySend(Frame{Type: "event", Data: map[string]any{
		"event_type":    "connection_established",
		"connection_id": c.id,
		"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
	}})
	return c, nil
}

func (f *Fabric) removeConnection(c *Conn) {
	f.mu.Lock()
	if _, ok := f.connections[c.id]; !ok {
		f.mu.Unlock()
		return
	}
	delete(f.connections, c.id)
	c.mu.Lock()
	for projectID := range c.subscriptions {
		f.removeSubscriptionLocked(projectID, c.id)
	}
	c.mu.Unlock()
	f.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.ws.Close()
	})
	if f.metrics != nil {
		f.metrics.ActiveConnections.Dec()
	}
}

// removeSubscriptionLocked must be called with f.mu held.
func (f *Fabric) removeSubscriptionLocked(projectID, connID string) {
	set, ok := f.subscribers[projectID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(f.subscribers, projectID)
	}
}

// subscribe records connID as a subscriber of projectID iff auth allows it.
func (f *Fabric) subscribe(c *Conn, projectID string) error {
	if !c.auth.CanAccessProject(projectID) {
		return errAccessDenied
	}
	c.mu.Lock()
	c.subscriptions[projectID] = struct{}{}
	c.mu.Unlock()

	f.mu.Lock()
	set, ok := f.subscribers[projectID]
	if !ok {
		set = make(map[string]struct{})
		f.subscribers[projectID] = set
	}
	set[c.id] = struct{}{}
	f.mu.Unlock()
	return nil
}

func (f *Fabric) unsubscribe(c *Conn, projectID string) {
	c.mu.Lock()
	delete(c.subscriptions, projectID)
	c.mu.Unlock()

	f.mu.Lock()
	f.removeSubscriptionLocked(projectID, c.id)
	f.mu.Unlock()
}

// Broadcast implements SPEC_FULL.md §4.6's broadcast contract: assigns
// id/createdAt, fire-and-forget publishes to the External Bus Adapter,
// then concurrently sends to every connection subscribed to projectID.
// Per-send failures deregister the failing connection without aborting the
// rest of the broadcast.
func (f *Fabric) Broadcast(ctx context.Context, projectID string, event map[string]any) {
	start := time.Now()

	envelope := make(map[string]any, len(event)+2)
	for k, v := range event {
		envelope[k] = v
	}
	envelope["id"] = idgen.New()
	envelope["created_at"] = start.UTC().Format(time.RFC3339Nano)

	specHash, _ := envelope["specHash"].(string)
	f.publisher.Publish(projectID, envelope, specHash)

	f.mu.RLock()
	connIDs := f.subscribers[projectID]
	targets := make([]*Conn, 0, len(connIDs))
	for id := range connIDs {
		if c, ok := f.connections[id]; ok {
			targets = append(targets, c)
		}
	}
	f.mu.RUnlock()

	frame := Frame{Type: "event", ProjectID: projectID, Data: envelope}
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if !c.trySend(frame) {
				f.removeConnection(c)
			}
		}(c)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if f.metrics != nil {
		f.metrics.BroadcastTotal.Inc()
		f.metrics.BroadcastLatency.Observe(elapsed.Seconds())
	}
	if elapsed > 100*time.Millisecond {
		f.logger.Warn("broadcast exceeded latency budget",
			zap.String("projectId", projectID), zap.Duration("elapsed", elapsed))
	}
}

func (f *Fabric) heartbeatLoop() {
	ticker := time.NewTicker(f.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case now := <-ticker.C:
			f.tick(now)
		}
	}
}

func (f *Fabric) tick(now time.Time) {
	f.mu.RLock()
	conns := make([]*Conn, 0, len(f.connections))
	for _, c := range f.connections {
		conns = append(conns, c)
	}
	f.mu.RUnlock()

	staleCutoff := 2 * f.heartbeatInterval
	ping := Frame{Type: "ping", Data: map[string]any{"timestamp": now.UTC().Format(time.RFC3339Nano)}}
	for _, c := range conns {
		if now.Sub(c.LastSeen()) > staleCutoff {
			f.removeConnection(c)
			continue
		}
		if !c.trySend(ping) {
			f.removeConnection(c)
		}
	}
}
