package recache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResultResolvesOnce(t *testing.T) {
	r := newResult[int]()
	r.resolve(7, nil)
	r.resolve(9, errors.New("late")) // ignored

	got, err := r.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != 7 {
		t.Errorf("Get() = %d, want 7", got)
	}
}

func TestResultReplaysToLateCallers(t *testing.T) {
	r := newResult[string]()
	r.resolve("done", nil)

	for i := 0; i < 3; i++ {
		got, err := r.Get(context.Background())
		if err != nil || got != "done" {
			t.Fatalf("Get() #%d = %q, %v", i, got, err)
		}
	}
}

func TestResultError(t *testing.T) {
	r := newResult[int]()
	want := errors.New("boom")
	r.resolve(0, want)

	if _, err := r.Get(context.Background()); !errors.Is(err, want) {
		t.Errorf("Get() error = %v, want %v", err, want)
	}
}

func TestResultGetHonorsContext(t *testing.T) {
	r := newResult[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := r.Get(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() error = %v, want deadline exceeded", err)
	}

	// The result is still usable after a timed-out Get.
	r.resolve(1, nil)
	got, err := r.Get(context.Background())
	if err != nil || got != 1 {
		t.Errorf("Get() after resolve = %d, %v", got, err)
	}
}

func TestResultDone(t *testing.T) {
	r := newResult[int]()
	select {
	case <-r.Done():
		t.Fatal("Done() closed before resolve")
	default:
	}
	r.resolve(1, nil)
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() not closed after resolve")
	}
}
