package history

import (
	"sync"
	"testing"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/broadcast"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
	"github.com/QUEST-EQM/wavemeter/internal/measurement"
)

type mockWriter struct {
	mu           sync.Mutex
	measurements []string
	lockWrites   []string
}

func (w *mockWriter) WriteMeasurement(channel string, _ float64, _ bool, _ time.Time) {
	w.mu.Lock()
	w.measurements = append(w.measurements, channel)
	w.mu.Unlock()
}

func (w *mockWriter) WriteLockStatus(lockID string, _, _, _ float64) {
	w.mu.Lock()
	w.lockWrites = append(w.lockWrites, lockID)
	w.mu.Unlock()
}

func (w *mockWriter) measurementCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.measurements)
}

func (w *mockWriter) lockWriteCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lockWrites)
}

type mockLocks struct {
	statuses []lock.Status
}

func (m *mockLocks) LockStatuses() []lock.Status { return m.statuses }

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

func TestRecorder_WritesPublishedMeasurements(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	writer := &mockWriter{}
	rec := NewRecorder(b.Subscribe(), writer, nil)
	rec.Start()
	defer rec.Stop()

	for i := 0; i < 3; i++ {
		b.Publish(measurement.Measurement{
			Channel: "1", Timestamp: time.Now(), Value: 500000, Unit: "GHz", Valid: true,
		})
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, func() bool { return writer.measurementCount() >= 1 })
}

func TestRecorder_SamplesEngagedLocks(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	writer := &mockWriter{}
	locks := &mockLocks{statuses: []lock.Status{
		{ID: "laser1", Mode: lock.ModeLocking},
		{ID: "laser2", Mode: lock.ModeIdle},
	}}
	rec := NewRecorder(b.Subscribe(), writer, locks, WithLockStatusInterval(20*time.Millisecond))
	rec.Start()
	defer rec.Stop()

	waitFor(t, func() bool { return writer.lockWriteCount() >= 1 })

	writer.mu.Lock()
	defer writer.mu.Unlock()
	for _, id := range writer.lockWrites {
		if id != "laser1" {
			t.Errorf("expected only the engaged lock recorded, got %q", id)
		}
	}
}

func TestRecorder_StopIsIdempotent(t *testing.T) {
	b := broadcast.New()
	defer b.Close()

	rec := NewRecorder(b.Subscribe(), &mockWriter{}, nil)
	rec.Start()
	rec.Start()
	rec.Stop()
	rec.Stop()
}
