// Package history forwards published measurements and lock status into
// InfluxDB for long-term storage. Writes go through the influxdb client's
// non-blocking API, so a slow or unreachable time-series backend never
// stalls the measurement path.
package history

import (
	"sync"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/broadcast"
	"github.com/QUEST-EQM/wavemeter/internal/lock"
)

// MeasurementWriter is the slice of the InfluxDB client the recorder uses.
type MeasurementWriter interface {
	WriteMeasurement(channel string, value float64, valid bool, timestamp time.Time)
	WriteLockStatus(lockID string, errorSignal, output, integrator float64)
}

// LockStatusProvider supplies lock snapshots for periodic recording.
type LockStatusProvider interface {
	LockStatuses() []lock.Status
}

// Recorder drains a broadcast subscription into the time-series store and
// periodically samples lock status.
type Recorder struct {
	sub    *broadcast.Subscriber
	writer MeasurementWriter
	locks  LockStatusProvider

	lockInterval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLockStatusInterval sets how often lock status is sampled. Zero
// disables lock status recording.
func WithLockStatusInterval(d time.Duration) Option {
	return func(r *Recorder) { r.lockInterval = d }
}

// NewRecorder creates a Recorder over an active subscription. The locks
// provider may be nil when no locks are configured.
func NewRecorder(sub *broadcast.Subscriber, writer MeasurementWriter, locks LockStatusProvider, opts ...Option) *Recorder {
	r := &Recorder{
		sub:          sub,
		writer:       writer,
		locks:        locks,
		lockInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins recording. Idempotent.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(r.stop, r.done)
}

// Stop halts recording and closes the subscription. Idempotent.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stop, done := r.stop, r.done
	r.mu.Unlock()

	close(stop)
	r.sub.Close()
	<-done
}

func (r *Recorder) run(stop, done chan struct{}) {
	defer close(done)

	var tick <-chan time.Time
	if r.locks != nil && r.lockInterval > 0 {
		ticker := time.NewTicker(r.lockInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-stop:
			return
		case ev, ok := <-r.sub.Events():
			if !ok {
				return
			}
			m := ev.State.Latest
			r.writer.WriteMeasurement(m.Channel, m.Value, m.Valid, m.Timestamp)
		case <-tick:
			for _, st := range r.locks.LockStatuses() {
				if st.Mode == lock.ModeIdle {
					continue
				}
				r.writer.WriteLockStatus(st.ID, st.LastError, st.LastOutput, st.Integrator)
			}
		}
	}
}
