// Package bus implements the External Bus Adapter (SPEC_FULL.md §4.7): a
// best-effort publisher to an external NATS subject space that never lets
// a downstream outage propagate into the Fan-out Fabric's broadcast path.
// Grounded on sanket-sapate-arc-core's packages/go-core/natsclient.Client
// (a thin NATS connection wrapper with retry-on-failed-connect) for the
// transport. The DISABLED→CONNECTING→CONNECTED→RECONNECTING→GIVE_UP state
// machine SPEC_FULL.md §4.7 requires is a thin wrapper over
// github.com/sony/gobreaker (CLOSED≈CONNECTED, OPEN≈GIVE_UP,
// HALF_OPEN≈RECONNECTING probe), the same "stop hammering a flaky
// dependency" pattern jordigilh-kubernaut uses gobreaker for. Reconnect
// backoff uses github.com/cenkalti/backoff/v5, and envelopes are encoded
// with github.com/vmihailenco/msgpack/v5 for the wire payload.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"
	"github.com/sony/gobreaker"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/arbiterlabs/specd/internal/config"
	"github.com/arbiterlabs/specd/internal/obs"
)

// State mirrors the connection state machine named in SPEC_FULL.md §4.7.
type State string

const (
	StateDisabled     State = "disabled"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateGiveUp       State = "give_up"
)

// Envelope is the payload published to NATS, per SPEC_FULL.md §4.7.
type Envelope struct {
	Topic     string         `msgpack:"topic"`
	ProjectID string         `msgpack:"projectId"`
	Event     map[string]any `msgpack:"event"`
	Metadata  Metadata       `msgpack:"metadata"`
}

// Metadata is Envelope's metadata block.
type Metadata struct {
	Timestamp string `msgpack:"timestamp"`
	SpecHash  string `msgpack:"specHash,omitempty"`
	Sequence  int64  `msgpack:"sequence"`
}

// Adapter is the External Bus Adapter. Its zero value is not usable; build
// one with New.
type Adapter struct {
	cfg     config.Bus
	logger  *zap.Logger
	metrics *obs.Metrics

	mu    sync.RWMutex
	state State
	conn  *nats.Conn
	cb    *gobreaker.CircuitBreaker

	sequence atomic.Int64
	stop     chan struct{}
	once     sync.Once
}

// New constructs an Adapter. If cfg.URL is empty the bus is permanently
// StateDisabled and Publish is a no-op — this is the supported "no external
// bus configured" mode, not a failure.
func New(cfg config.Bus, metrics *obs.Metrics, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{cfg: cfg, logger: logger, metrics: metrics, stop: make(chan struct{})}
	if cfg.URL == "" {
		a.state = StateDisabled
		return a
	}
	a.state = StateConnecting
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	a.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "specd-bus",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxAttempts)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.onBreakerStateChange(from, to)
		},
	})
	return a
}

// State returns the adapter's current connection state.
func (a *Adapter) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Adapter) onBreakerStateChange(from, to gobreaker.State) {
	switch to {
	case gobreaker.StateOpen:
		a.setState(StateGiveUp)
		a.logger.Warn("bus adapter giving up after repeated connect failures")
	case gobreaker.StateHalfOpen:
		a.setState(StateReconnecting)
	case gobreaker.StateClosed:
		if from != gobreaker.StateClosed {
			a.setState(StateConnected)
		}
	}
}

// Start establishes the initial connection in the background, retrying with
// exponential backoff (base ~2s, cap ~30s) until connected or the adapter
// is closed. A disabled adapter (no URL configured) returns immediately.
func (a *Adapter) Start(ctx context.Context) {
	if a.State() == StateDisabled {
		return
	}
	go a.connectLoop(ctx)
}

func (a *Adapter) connectLoop(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 30 * time.Second

	operation := func() (*nats.Conn, error) {
		nc, err := nats.Connect(a.cfg.URL, nats.RetryOnFailedConnect(false), nats.Timeout(5*time.Second))
		if err != nil {
			return nil, err
		}
		return nc, nil
	}

	for {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		nc, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(0))
		if err != nil {
			// ctx canceled or the adapter was stopped mid-retry.
			return
		}
		a.mu.Lock()
		a.conn = nc
		a.state = StateConnected
		a.mu.Unlock()
		a.logger.Info("bus adapter connected", zap.String("url", a.cfg.URL))

		<-nc.ClosedChan()
		a.setState(StateReconnecting)
		a.logger.Warn("bus adapter disconnected, reconnecting")
	}
}

// Close drains the NATS connection (if any) and stops reconnect attempts.
func (a *Adapter) Close() {
	a.once.Do(func() { close(a.stop) })
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
}

// topicSuffix maps an event's event_type to the bus topic grammar's
// <fragment|validation|version|general> segment (SPEC_FULL.md §4.7).
func topicSuffix(eventType string) string {
	switch {
	case hasPrefix(eventType, "fragment"):
		return "fragment"
	case hasPrefix(eventType, "validation"):
		return "validation"
	case eventType == "version_frozen":
		return "version"
	default:
		return "general"
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Publish implements fanout.Publisher. It never blocks the caller for more
// than the time it takes to encode the envelope and hand it to the NATS
// client's internal write buffer, and it never returns an error: publish
// failures are logged and counted, not propagated (SPEC_FULL.md §4.7:
// "never throws into the caller").
func (a *Adapter) Publish(projectID string, event map[string]any, specHash string) {
	eventType, _ := event["event_type"].(string)
	topic := fmt.Sprintf("%s.%s.%s.updated", a.cfg.Prefix, projectID, topicSuffix(eventType))

	envelope := Envelope{
		Topic:     topic,
		ProjectID: projectID,
		Event:     event,
		Metadata: Metadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			SpecHash:  specHash,
			Sequence:  a.sequence.Add(1),
		},
	}

	go a.publishNow(topic, envelope)
}

func (a *Adapter) publishNow(topic string, envelope Envelope) {
	a.mu.RLock()
	conn, cb, state := a.conn, a.cb, a.state
	a.mu.RUnlock()

	if state == StateDisabled || state == StateGiveUp || conn == nil {
		a.recordOutcome("skipped")
		return
	}

	payload, err := msgpack.Marshal(envelope)
	if err != nil {
		a.logger.Error("failed to encode bus envelope", zap.Error(err))
		a.recordOutcome("encode-error")
		return
	}

	_, err = cb.Execute(func() (any, error) {
		return nil, conn.Publish(topic, payload)
	})
	if err != nil {
		a.logger.Warn("bus publish failed", zap.String("topic", topic), zap.Error(err))
		a.recordOutcome("error")
		return
	}
	a.recordOutcome("ok")
}

func (a *Adapter) recordOutcome(outcome string) {
	if a.metrics != nil {
		a.metrics.BusPublishTotal.WithLabelValues(outcome).Inc()
	}
}
