package waiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCompleteBeforeWaitIsBuffered(t *testing.T) {
	w := New()
	key := NewKey("solicited-peer", "alice", uint32(7))

	Complete(w, key, "hello")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := Wait[string](ctx, w, key)
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestWaitThenComplete(t *testing.T) {
	w := New()
	key := NewKey("solicited-peer", "bob", uint32(1))

	type res struct {
		v   string
		err error
	}
	done := make(chan res, 1)
	go func() {
		v, err := Wait[string](context.Background(), w, key)
		done <- res{v, err}
	}()

	// Give the goroutine a chance to register before delivering.
	time.Sleep(10 * time.Millisecond)
	Complete(w, key, "world")

	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}
	if r.v != "world" {
		t.Fatalf("got %q", r.v)
	}
}

func TestThrowDeliversError(t *testing.T) {
	w := New()
	key := NewKey("direct-transfer", "carl", uint32(2))
	want := errors.New("boom")

	done := make(chan error, 1)
	go func() {
		_, err := Wait[int](context.Background(), w, key)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	Throw(w, key, want)

	if err := <-done; err != want {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestWaitContextCancelled(t *testing.T) {
	w := New()
	key := NewKey("solicited-peer", "dana", uint32(3))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Wait[string](ctx, w, key)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestCancelAllWakesWaiters(t *testing.T) {
	w := New()
	key := NewKey("solicited-peer", "erin", uint32(4))

	done := make(chan error, 1)
	go func() {
		_, err := Wait[string](context.Background(), w, key)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	w.CancelAll()

	if err := <-done; err == nil {
		t.Fatal("expected an error from CancelAll")
	}
}

func TestWrongTypeReturnsError(t *testing.T) {
	w := New()
	key := NewKey("solicited-peer", "frank", uint32(5))
	Complete(w, key, 42)

	_, err := Wait[string](context.Background(), w, key)
	if err == nil {
		t.Fatal("expected a type-mismatch error")
	}
}

func TestSecondDeliveryIsDropped(t *testing.T) {
	w := New()
	key := NewKey("solicited-peer", "gina", uint32(6))

	Complete(w, key, "first")
	Complete(w, key, "second")

	got, err := Wait[string](context.Background(), w, key)
	if err != nil {
		t.Fatal(err)
	}
	if got != "first" {
		t.Fatalf("got %q, want %q", got, "first")
	}
}
