// Package mqtt publishes measurement, lock and calibration telemetry to an
// MQTT broker. The bridge is egress-only: commands arrive over the HTTP
// API, while the broker carries retained state for dashboards and lab
// monitors that outlive any single connection.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/autocal"
	"github.com/QUEST-EQM/wavemeter/internal/broadcast"
	infra "github.com/QUEST-EQM/wavemeter/internal/infrastructure/mqtt"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
)

// defaultLockInterval is how often engaged lock status is republished.
const defaultLockInterval = 1 * time.Second

// Client is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// LockStatusProvider supplies lock snapshots for periodic publishing.
type LockStatusProvider interface {
	LockStatuses() []lock.Status
}

// Logger is the minimal logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// channelStatePayload is the JSON shape published per channel update.
type channelStatePayload struct {
	Channel   string    `json:"channel"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"timestamp"`
	Version   uint64    `json:"version"`
}

// calibrationPayload is the JSON shape published on calibration transitions.
type calibrationPayload struct {
	State     autocal.State `json:"state"`
	Timestamp time.Time     `json:"timestamp"`
}

// Bridge forwards broadcast events and lock telemetry to the broker.
//
// Thread Safety: all methods are safe for concurrent use.
type Bridge struct {
	client Client
	topics infra.Topics
	sub    *broadcast.Subscriber
	locks  LockStatusProvider
	qos    byte

	lockInterval time.Duration

	mu      sync.Mutex
	logger  Logger
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithQoS sets the publish quality of service level.
func WithQoS(qos byte) Option {
	return func(b *Bridge) { b.qos = qos }
}

// WithLockStatusInterval sets the lock status republish interval. Zero
// disables periodic lock publishing.
func WithLockStatusInterval(d time.Duration) Option {
	return func(b *Bridge) { b.lockInterval = d }
}

// New creates a Bridge over an active subscription. The locks provider may
// be nil when no locks are configured.
func New(client Client, sub *broadcast.Subscriber, locks LockStatusProvider, opts ...Option) *Bridge {
	b := &Bridge{
		client:       client,
		sub:          sub,
		locks:        locks,
		logger:       noopLogger{},
		lockInterval: defaultLockInterval,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetLogger sets the bridge's logger.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Start begins forwarding. Idempotent.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.run(b.stop, b.done)
}

// Stop halts forwarding and closes the subscription. Idempotent.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	stop, done := b.stop, b.done
	b.mu.Unlock()

	close(stop)
	b.sub.Close()
	<-done
}

// PublishLockStatus publishes one lock's status snapshot, retained.
func (b *Bridge) PublishLockStatus(st lock.Status) {
	payload, err := json.Marshal(st)
	if err != nil {
		b.logf().Warn("marshalling lock status", "lock", st.ID, "error", err)
		return
	}
	b.publish(b.topics.LockStatus(st.ID), payload, true)
}

// PublishLockAlert publishes a rail alert. Not retained; alerts are
// moments, not state.
func (b *Bridge) PublishLockAlert(a lock.Alert) {
	payload, err := json.Marshal(a)
	if err != nil {
		b.logf().Warn("marshalling lock alert", "lock", a.LockID, "error", err)
		return
	}
	b.publish(b.topics.LockAlert(a.LockID), payload, false)
}

// PublishCalibrationState publishes an autocal state transition, retained.
func (b *Bridge) PublishCalibrationState(s autocal.State) {
	payload, err := json.Marshal(calibrationPayload{State: s, Timestamp: time.Now()})
	if err != nil {
		b.logf().Warn("marshalling calibration state", "error", err)
		return
	}
	b.publish(b.topics.CalibrationStatus(), payload, true)
}

// PublishCalibrationResult publishes a finished cycle result, retained.
func (b *Bridge) PublishCalibrationResult(r autocal.Result) {
	payload, err := json.Marshal(r)
	if err != nil {
		b.logf().Warn("marshalling calibration result", "error", err)
		return
	}
	b.publish(b.topics.CalibrationStatus(), payload, true)
}

// PublishSystemStatus publishes a daemon-level status document, retained.
func (b *Bridge) PublishSystemStatus(status any) {
	payload, err := json.Marshal(status)
	if err != nil {
		b.logf().Warn("marshalling system status", "error", err)
		return
	}
	b.publish(b.topics.SystemStatus(), payload, true)
}

func (b *Bridge) run(stop, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if b.locks != nil && b.lockInterval > 0 {
		ticker := time.NewTicker(b.lockInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-b.sub.Events():
			if !ok {
				return
			}
			b.publishChannelState(ev)
		case <-tick:
			for _, st := range b.locks.LockStatuses() {
				if st.Mode == lock.ModeIdle {
					continue
				}
				b.PublishLockStatus(st)
			}
		}
	}
}

func (b *Bridge) publishChannelState(ev broadcast.Event) {
	m := ev.State.Latest
	payload, err := json.Marshal(channelStatePayload{
		Channel:   m.Channel,
		Value:     m.Value,
		Unit:      m.Unit,
		Valid:     m.Valid,
		Timestamp: m.Timestamp,
		Version:   ev.State.Version,
	})
	if err != nil {
		b.logf().Warn("marshalling channel state", "channel", m.Channel, "error", err)
		return
	}
	b.publish(b.topics.ChannelState(m.Channel), payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if !b.client.IsConnected() {
		b.logf().Debug("broker not connected, dropping publish", "topic", topic)
		return
	}
	if err := b.client.Publish(topic, payload, b.qos, retained); err != nil {
		b.logf().Warn("mqtt publish failed", "topic", topic, "error", fmt.Errorf("publishing: %w", err))
	}
}

func (b *Bridge) logf() Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.logger
}
