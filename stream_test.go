package recache

import (
	"sync/atomic"
	"testing"
)

func TestStreamPublishAndReplay(t *testing.T) {
	s := newStream[int]()

	sub := s.subscribe()
	defer sub.Cancel()

	s.publish(1)
	if got := <-sub.C(); got != 1 {
		t.Fatalf("received %d, want 1", got)
	}

	// A late subscriber replays the last value immediately.
	late := s.subscribe()
	defer late.Cancel()
	if got := <-late.C(); got != 1 {
		t.Fatalf("late subscriber received %d, want 1", got)
	}
}

func TestStreamSeedDoesNotNotify(t *testing.T) {
	s := newStream[int]()
	sub := s.subscribe()
	defer sub.Cancel()

	s.seed(9)
	select {
	case v := <-sub.C():
		t.Fatalf("seed notified existing subscriber with %d", v)
	default:
	}

	// But it is replayed to new subscribers.
	late := s.subscribe()
	defer late.Cancel()
	if got := <-late.C(); got != 9 {
		t.Fatalf("late subscriber received %d, want 9", got)
	}
}

func TestStreamAttachDetachHooks(t *testing.T) {
	s := newStream[int]()
	var firsts, lasts atomic.Int32
	s.onFirst = func() { firsts.Add(1) }
	s.onLast = func() { lasts.Add(1) }

	a := s.subscribe()
	b := s.subscribe()
	if got := firsts.Load(); got != 1 {
		t.Fatalf("onFirst fired %d times, want 1", got)
	}

	a.Cancel()
	if got := lasts.Load(); got != 0 {
		t.Fatalf("onLast fired with a live subscriber remaining")
	}

	b.Cancel()
	if got := lasts.Load(); got != 1 {
		t.Fatalf("onLast fired %d times, want 1", got)
	}

	// A fresh subscriber re-arms the cycle.
	c := s.subscribe()
	defer c.Cancel()
	if got := firsts.Load(); got != 2 {
		t.Fatalf("onFirst fired %d times after resubscribe, want 2", got)
	}
}

func TestStreamCancelIsIdempotent(t *testing.T) {
	s := newStream[int]()
	var lasts atomic.Int32
	s.onLast = func() { lasts.Add(1) }

	a := s.subscribe()
	b := s.subscribe()
	a.Cancel()
	a.Cancel()
	if got := s.count(); got != 1 {
		t.Fatalf("count = %d after double cancel, want 1", got)
	}
	b.Cancel()
	if got := lasts.Load(); got != 1 {
		t.Fatalf("onLast fired %d times, want 1", got)
	}
}

func TestStreamDropsWhenSubscriberLagging(t *testing.T) {
	s := newStream[int]()
	sub := s.subscribe()
	defer sub.Cancel()

	for i := 0; i < sendBufSize+10; i++ {
		s.publish(i)
	}

	// The buffer holds the first sendBufSize values; later ones were
	// dropped, but the replay value is the most recent publication.
	if got := <-sub.C(); got != 0 {
		t.Fatalf("first buffered value = %d, want 0", got)
	}
	late := s.subscribe()
	defer late.Cancel()
	if got := <-late.C(); got != sendBufSize+9 {
		t.Fatalf("replay = %d, want %d", got, sendBufSize+9)
	}
}

func TestStreamCount(t *testing.T) {
	s := newStream[int]()
	if got := s.count(); got != 0 {
		t.Fatalf("count = %d, want 0", got)
	}
	a := s.subscribe()
	b := s.subscribe()
	if got := s.count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
	a.Cancel()
	b.Cancel()
	if got := s.count(); got != 0 {
		t.Fatalf("count = %d after cancels, want 0", got)
	}
}
