package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/autocal"
	"github.com/QUEST-EQM/wavemeter/internal/broadcast"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
	"github.com/QUEST-EQM/wavemeter/internal/measurement"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type mockClient struct {
	mu        sync.Mutex
	connected bool
	messages  []published
}

func newMockClient() *mockClient {
	return &mockClient{connected: true}
}

func (c *mockClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, payload: payload, retained: retained})
	return nil
}

func (c *mockClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *mockClient) onTopic(topic string) []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []published
	for _, m := range c.messages {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestBridge_PublishesChannelStates(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	client := newMockClient()
	bridge := New(client, b.Subscribe(), nil)
	bridge.Start()
	defer bridge.Stop()

	ts := time.Now()
	b.Publish(measurement.Measurement{
		Channel: "1", Timestamp: ts, Value: 500000.123, Unit: "GHz", Valid: true,
	})

	waitFor(t, func() bool { return len(client.onTopic("wavemeter/state/1")) >= 1 })

	msgs := client.onTopic("wavemeter/state/1")
	if !msgs[0].retained {
		t.Error("expected channel state to be retained")
	}
	var got channelStatePayload
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if got.Channel != "1" || got.Value != 500000.123 || !got.Valid || got.Version != 1 {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestBridge_DropsWhileDisconnected(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	client := newMockClient()
	client.mu.Lock()
	client.connected = false
	client.mu.Unlock()

	bridge := New(client, b.Subscribe(), nil)
	bridge.Start()
	defer bridge.Stop()

	b.Publish(measurement.Measurement{Channel: "1", Timestamp: time.Now(), Value: 500000, Valid: true})
	time.Sleep(50 * time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.messages) != 0 {
		t.Errorf("expected no publishes while disconnected, got %d", len(client.messages))
	}
}

type staticLocks struct {
	statuses []lock.Status
}

func (s *staticLocks) LockStatuses() []lock.Status { return s.statuses }

func TestBridge_PublishesEngagedLockStatus(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	client := newMockClient()
	locks := &staticLocks{statuses: []lock.Status{
		{ID: "laser1", Mode: lock.ModeLocking, Setpoint: 500000},
		{ID: "laser2", Mode: lock.ModeIdle},
	}}
	bridge := New(client, b.Subscribe(), locks, WithLockStatusInterval(20*time.Millisecond))
	bridge.Start()
	defer bridge.Stop()

	waitFor(t, func() bool { return len(client.onTopic("wavemeter/lock/laser1/status")) >= 1 })

	if idle := client.onTopic("wavemeter/lock/laser2/status"); len(idle) != 0 {
		t.Errorf("expected idle lock not published, got %d messages", len(idle))
	}
}

func TestBridge_PublishesAlertsAndCalibration(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	client := newMockClient()
	bridge := New(client, b.Subscribe(), nil)

	bridge.PublishLockAlert(lock.Alert{LockID: "laser1", Output: 10, High: true, Time: time.Now()})
	alerts := client.onTopic("wavemeter/lock/laser1/alert")
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].retained {
		t.Error("expected alerts not retained")
	}

	bridge.PublishCalibrationState(autocal.StateCountingDown)
	cal := client.onTopic("wavemeter/calibration/status")
	if len(cal) != 1 || !cal[0].retained {
		t.Fatalf("expected 1 retained calibration message, got %+v", cal)
	}
	var got calibrationPayload
	if err := json.Unmarshal(cal[0].payload, &got); err != nil {
		t.Fatalf("unmarshalling payload: %v", err)
	}
	if got.State != autocal.StateCountingDown {
		t.Errorf("expected state %q, got %q", autocal.StateCountingDown, got.State)
	}
}
