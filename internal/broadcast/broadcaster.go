package broadcast

import (
	"sync"
	"time"

	"github.com/QUEST-EQM/wavemeter/internal/measurement"
)

// defaultDeliveryTimeout bounds how long a stalled subscriber delivery may
// block its dispatch goroutine before the subscriber is dropped.
const defaultDeliveryTimeout = 5 * time.Second

// ChannelState is the latest value seen on a channel together with a version
// counter that increases by exactly one per publish on that channel. Slow
// subscribers observe gaps in the version sequence, never stale reordering.
type ChannelState struct {
	Latest  measurement.Measurement `json:"latest"`
	Version uint64                  `json:"version"`
}

// Event is one state update delivered to a subscriber.
type Event struct {
	Channel string
	State   ChannelState
}

// Broadcaster fans measurements out to subscribers with latest-value-wins
// semantics. There is no buffering: a subscriber that has not consumed a
// channel's pending update simply has it replaced by the newer one.
//
// Thread Safety:
//   - Publish is intended for a single writer (the measurement source) but is
//     safe to call concurrently.
//   - Subscribe, Unsubscribe and Snapshot are safe from any goroutine.
type Broadcaster struct {
	deliveryTimeout time.Duration

	mu     sync.RWMutex
	states map[string]ChannelState
	subs   map[*Subscriber]struct{}
	closed bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithDeliveryTimeout sets the stalled-subscriber delivery timeout.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(b *Broadcaster) {
		if d > 0 {
			b.deliveryTimeout = d
		}
	}
}

// New creates a Broadcaster.
func New(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		deliveryTimeout: defaultDeliveryTimeout,
		states:          make(map[string]ChannelState),
		subs:            make(map[*Subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish records m as the latest value of its channel and offers the update
// to every subscriber. Versions increase strictly per channel.
func (b *Broadcaster) Publish(m measurement.Measurement) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	st := b.states[m.Channel]
	st.Latest = m
	st.Version++
	b.states[m.Channel] = st

	ev := Event{Channel: m.Channel, State: st}
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.offer(ev)
	}
}

// Subscribe registers a new subscriber. The subscriber first receives a
// snapshot of every channel's current state, then live updates.
func (b *Broadcaster) Subscribe() *Subscriber {
	s := newSubscriber(b, b.deliveryTimeout)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.shutdown()
		return s
	}
	b.subs[s] = struct{}{}
	snapshot := make([]Event, 0, len(b.states))
	for ch, st := range b.states {
		snapshot = append(snapshot, Event{Channel: ch, State: st})
	}
	b.mu.Unlock()

	for _, ev := range snapshot {
		s.offer(ev)
	}
	return s
}

// Snapshot returns a copy of every channel's current state.
func (b *Broadcaster) Snapshot() map[string]ChannelState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]ChannelState, len(b.states))
	for ch, st := range b.states {
		out[ch] = st
	}
	return out
}

// State returns the current state of one channel.
func (b *Broadcaster) State(channel string) (ChannelState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[channel]
	return st, ok
}

// Close drops all subscribers and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscriber]struct{})
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

// remove detaches a subscriber. Called from Subscriber.Close and from the
// dispatch goroutine when a delivery times out.
func (b *Broadcaster) remove(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// SubscriberCount returns the number of attached subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
