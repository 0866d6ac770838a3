package measurement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/instrument"
)

// mockDriver implements instrument.Driver for testing.
type mockDriver struct {
	mu       sync.Mutex
	cb       instrument.Callback
	onFatal  func(error)
	started  int
	stopped  int
	startErr error

	calibrated []struct {
		channel string
		value   float64
	}
	exposures map[string]int
}

func newMockDriver() *mockDriver {
	return &mockDriver{exposures: map[string]int{"ch1": 2}}
}

func (d *mockDriver) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started++
	return nil
}

func (d *mockDriver) Stop(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	return nil
}

func (d *mockDriver) SetCallback(cb instrument.Callback) {
	d.mu.Lock()
	d.cb = cb
	d.mu.Unlock()
}

func (d *mockDriver) Calibrate(_ context.Context, channel string, value float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calibrated = append(d.calibrated, struct {
		channel string
		value   float64
	}{channel, value})
	return nil
}

func (d *mockDriver) Exposure(_ context.Context, channel string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ms, ok := d.exposures[channel]
	if !ok {
		return 0, instrument.ErrUnknownChannel
	}
	return ms, nil
}

func (d *mockDriver) SetExposure(_ context.Context, channel string, ms int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.exposures[channel] = ms
	return nil
}

func (d *mockDriver) SetOnFatal(cb func(error)) {
	d.mu.Lock()
	d.onFatal = cb
	d.mu.Unlock()
}

func (d *mockDriver) Close() error { return nil }

// deliver pushes a reading through the installed callback.
func (d *mockDriver) deliver(r instrument.Reading) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(r)
	}
}

// mockPublisher records published measurements.
type mockPublisher struct {
	mu        sync.Mutex
	published []Measurement
}

func (p *mockPublisher) Publish(m Measurement) {
	p.mu.Lock()
	p.published = append(p.published, m)
	p.mu.Unlock()
}

func (p *mockPublisher) all() []Measurement {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Measurement, len(p.published))
	copy(out, p.published)
	return out
}

func reading(ch string, value float64) instrument.Reading {
	return instrument.Reading{Channel: ch, Value: value, Unit: "GHz", Timestamp: time.Now()}
}

func TestSource_PublishesReadings(t *testing.T) {
	driver := newMockDriver()
	pub := &mockPublisher{}
	src := NewSource(driver, pub, Config{})

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	driver.deliver(reading("ch1", 500000.1))
	driver.deliver(reading("ch1", 500000.2))

	got := pub.all()
	if len(got) != 2 {
		t.Fatalf("published %d measurements, want 2", len(got))
	}
	if !got[0].Valid || got[0].Value != 500000.1 {
		t.Errorf("first measurement = %+v", got[0])
	}
}

func TestSource_ErrorCodePublishedInvalid(t *testing.T) {
	driver := newMockDriver()
	pub := &mockPublisher{}
	src := NewSource(driver, pub, Config{})
	_ = src

	driver.deliver(instrument.Reading{
		Channel:   "ch1",
		ErrCode:   instrument.ErrCodeUnderExposed,
		Timestamp: time.Now(),
	})

	got := pub.all()
	if len(got) != 1 {
		t.Fatalf("published %d measurements, want 1", len(got))
	}
	if got[0].Valid {
		t.Error("error reading published as valid")
	}
	if got[0].Value != float64(instrument.ErrCodeUnderExposed) {
		t.Errorf("error code value = %v, want %v", got[0].Value, instrument.ErrCodeUnderExposed)
	}
}

func TestSource_JumpFilter(t *testing.T) {
	driver := newMockDriver()
	pub := &mockPublisher{}
	src := NewSource(driver, pub, Config{SkipThreshold: 1.0})
	_ = src

	driver.deliver(reading("ch1", 500000.0)) // first value always accepted
	driver.deliver(reading("ch1", 500010.0)) // jump > threshold, dropped
	driver.deliver(reading("ch1", 500000.5)) // within threshold of last valid

	got := pub.all()
	if len(got) != 2 {
		t.Fatalf("published %d measurements, want 2", len(got))
	}
	if got[1].Value != 500000.5 {
		t.Errorf("second published value = %v, want 500000.5", got[1].Value)
	}
}

func TestSource_JumpFilterSkipsAmbientChannels(t *testing.T) {
	driver := newMockDriver()
	pub := &mockPublisher{}
	src := NewSource(driver, pub, Config{SkipThreshold: 0.1})
	_ = src

	driver.deliver(instrument.Reading{Channel: "T", Value: 20, Timestamp: time.Now()})
	driver.deliver(instrument.Reading{Channel: "T", Value: 30, Timestamp: time.Now()})

	if got := pub.all(); len(got) != 2 {
		t.Errorf("published %d temperature measurements, want 2", len(got))
	}
}

func TestSource_JumpFilterDisabled(t *testing.T) {
	driver := newMockDriver()
	pub := &mockPublisher{}
	src := NewSource(driver, pub, Config{})
	_ = src

	driver.deliver(reading("ch1", 500000.0))
	driver.deliver(reading("ch1", 600000.0))

	if got := pub.all(); len(got) != 2 {
		t.Errorf("published %d measurements with filter disabled, want 2", len(got))
	}
}

func TestSource_StartStopIdempotent(t *testing.T) {
	driver := newMockDriver()
	src := NewSource(driver, &mockPublisher{}, Config{})

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if driver.started != 1 {
		t.Errorf("driver started %d times, want 1", driver.started)
	}

	if err := src.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := src.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if driver.stopped != 1 {
		t.Errorf("driver stopped %d times, want 1", driver.stopped)
	}
}

func TestSource_StartErrorPropagates(t *testing.T) {
	driver := newMockDriver()
	driver.startErr = errors.New("no instrument")
	src := NewSource(driver, &mockPublisher{}, Config{})

	err := src.Start(context.Background())
	if err == nil {
		t.Fatal("Start() expected error")
	}
	if src.IsRunning() {
		t.Error("IsRunning() = true after failed Start")
	}
}

func TestSource_OnFatal(t *testing.T) {
	driver := newMockDriver()
	src := NewSource(driver, &mockPublisher{}, Config{})

	fatal := make(chan error, 1)
	src.SetOnFatal(func(err error) { fatal <- err })

	driver.mu.Lock()
	cb := driver.onFatal
	driver.mu.Unlock()
	cb(errors.New("connection lost"))

	select {
	case err := <-fatal:
		if err == nil {
			t.Error("fatal callback received nil error")
		}
	default:
		t.Error("fatal callback not invoked")
	}
}

func TestSource_Passthrough(t *testing.T) {
	driver := newMockDriver()
	src := NewSource(driver, &mockPublisher{}, Config{})

	ctx := context.Background()

	if err := src.Calibrate(ctx, "ch1", 500000.0); err != nil {
		t.Fatalf("Calibrate() error = %v", err)
	}
	if len(driver.calibrated) != 1 || driver.calibrated[0].channel != "ch1" {
		t.Errorf("calibrations = %+v", driver.calibrated)
	}

	if err := src.SetExposure(ctx, "ch1", 25); err != nil {
		t.Fatalf("SetExposure() error = %v", err)
	}
	ms, err := src.Exposure(ctx, "ch1")
	if err != nil {
		t.Fatalf("Exposure() error = %v", err)
	}
	if ms != 25 {
		t.Errorf("Exposure() = %d, want 25", ms)
	}
}
