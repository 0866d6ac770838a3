package broadcast

import (
	"sync"
	"time"
)

// Subscriber consumes state updates from a Broadcaster.
//
// Each subscriber holds a one-slot mailbox per channel: an update that has not
// been handed to the dispatch goroutine yet is replaced by a newer one. A
// dedicated dispatch goroutine pulls pending updates and delivers them on
// Events(); a delivery that stalls beyond the delivery timeout drops the
// subscriber without affecting any other subscriber.
type Subscriber struct {
	b       *Broadcaster
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]Event
	order   []string // channels with a pending update, oldest first
	stopped bool

	notify chan struct{}
	done   chan struct{}
	events chan Event

	closeOnce sync.Once
}

func newSubscriber(b *Broadcaster, timeout time.Duration) *Subscriber {
	s := &Subscriber{
		b:       b,
		timeout: timeout,
		pending: make(map[string]Event),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		events:  make(chan Event),
	}
	go s.run()
	return s
}

// Events returns the delivery channel. It is closed when the subscriber is
// dropped or Close is called.
func (s *Subscriber) Events() <-chan Event {
	return s.events
}

// Close detaches the subscriber from the broadcaster. Idempotent.
func (s *Subscriber) Close() {
	s.b.remove(s)
	s.shutdown()
}

// shutdown stops the dispatch goroutine without touching the broadcaster.
func (s *Subscriber) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.done)
	})
}

// offer places an event in the mailbox, replacing any undelivered update for
// the same channel. Never blocks.
func (s *Subscriber) offer(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, queued := s.pending[ev.Channel]; !queued {
		s.order = append(s.order, ev.Channel)
	}
	s.pending[ev.Channel] = ev
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// next pops the oldest pending update, if any.
func (s *Subscriber) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) == 0 {
		return Event{}, false
	}
	ch := s.order[0]
	s.order = s.order[1:]
	ev := s.pending[ch]
	delete(s.pending, ch)
	return ev, true
}

// run is the dispatch loop. It terminates when the subscriber is closed or a
// delivery stalls beyond the timeout.
func (s *Subscriber) run() {
	defer close(s.events)

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.done:
				return
			case <-s.notify:
				continue
			}
		}

		timer.Reset(s.timeout)
		select {
		case s.events <- ev:
			if !timer.Stop() {
				<-timer.C
			}
		case <-s.done:
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
			// Receiver stalled. Drop this subscriber only.
			s.b.remove(s)
			s.shutdown()
			return
		}
	}
}
