package recache

import "sync"

// sendBufSize is the per-subscriber channel depth. A subscriber that falls
// further behind loses intermediate values but always observes the most
// recent one eventually, since every publication records the replay value.
const sendBufSize = 16

// Subscription is one live attachment to a broadcast stream. Values arrive
// on the channel returned by C; Cancel detaches the subscriber and releases
// its slot. Cancel is idempotent and safe to call concurrently with
// emissions.
type Subscription[T any] struct {
	ch     chan T
	cancel func()
	once   sync.Once
}

// C returns the channel on which values are delivered. The channel is never
// closed; detach with Cancel instead.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Cancel detaches the subscriber. After Cancel, no further values are
// delivered on C.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
}

// stream is a multi-subscriber broadcast with replay of the last value and
// attach/detach hooks. onFirst fires when the live subscriber count rises
// from zero, onLast when it returns to zero; both run outside the stream
// lock so hooks may subscribe, publish, or trigger fetches freely.
type stream[T any] struct {
	mu      sync.Mutex
	subs    map[*Subscription[T]]struct{}
	last    T
	hasLast bool

	onFirst func()
	onLast  func()
}

func newStream[T any]() *stream[T] {
	return &stream[T]{subs: make(map[*Subscription[T]]struct{})}
}

// seed sets the replay value without notifying current subscribers.
func (s *stream[T]) seed(v T) {
	s.mu.Lock()
	s.last = v
	s.hasLast = true
	s.mu.Unlock()
}

// publish delivers v to every live subscriber and records it for replay.
// Delivery is non-blocking: a subscriber whose buffer is full skips this
// value, mirroring the drop-on-full policy of a broadcast hub.
func (s *stream[T]) publish(v T) {
	s.mu.Lock()
	s.last = v
	s.hasLast = true
	for sub := range s.subs {
		select {
		case sub.ch <- v:
		default:
		}
	}
	s.mu.Unlock()
}

// subscribe attaches a new subscriber. The last known value, if any, is
// delivered immediately so late subscribers see current state without
// waiting for the next recomputation.
func (s *stream[T]) subscribe() *Subscription[T] {
	sub := &Subscription[T]{ch: make(chan T, sendBufSize)}
	sub.cancel = func() { s.detach(sub) }

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	first := len(s.subs) == 1
	if s.hasLast {
		sub.ch <- s.last
	}
	s.mu.Unlock()

	if first && s.onFirst != nil {
		s.onFirst()
	}
	return sub
}

func (s *stream[T]) detach(sub *Subscription[T]) {
	s.mu.Lock()
	_, ok := s.subs[sub]
	delete(s.subs, sub)
	lastGone := ok && len(s.subs) == 0
	s.mu.Unlock()

	if lastGone && s.onLast != nil {
		s.onLast()
	}
}

// count returns the number of live subscribers.
func (s *stream[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
