package broadcast

import (
	"bytes"
	"testing"
	"time"
)

func TestFanOutDeliversInOrder(t *testing.T) {
	b := New(10, 10)

	var subs []*Subscription
	for i := 0; i < 3; i++ {
		subs = append(subs, b.Subscribe())
	}

	chunks := [][]byte{[]byte("A"), []byte("B"), []byte("C")}
	for _, c := range chunks {
		b.Publish(c)
	}

	for _, sub := range subs {
		for _, want := range chunks {
			got, ok := sub.Next()
			if !ok {
				t.Fatalf("subscription closed early")
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("got %q, want %q", got, want)
			}
		}
	}

	// A fourth subscriber joining after publishing still sees the replay.
	late := b.Subscribe()
	for _, want := range chunks {
		got, ok := late.Next()
		if !ok || !bytes.Equal(got, want) {
			t.Fatalf("late subscriber: got %q ok=%v, want %q", got, ok, want)
		}
	}
}

func TestSlowConsumerIsolation(t *testing.T) {
	b := New(200, 2)

	fast := b.Subscribe()
	slow := b.Subscribe()

	for i := 0; i < 100; i++ {
		b.Publish([]byte{byte(i)})
	}

	for i := 0; i < 100; i++ {
		got, ok := fast.Next()
		if !ok {
			t.Fatalf("fast consumer closed early at %d", i)
		}
		if got[0] != byte(i) {
			t.Fatalf("fast consumer out of order: got %d want %d", got[0], i)
		}
	}

	if d := slow.Dropped(); d != 98 {
		t.Fatalf("expected 98 dropped chunks, got %d", d)
	}

	// The slow consumer's remaining queue holds only the last two chunks.
	got1, _ := slow.Next()
	got2, _ := slow.Next()
	if got1[0] != 98 || got2[0] != 99 {
		t.Fatalf("expected last two chunks [98 99], got [%d %d]", got1[0], got2[0])
	}
}

func TestUnsubscribeClosesInFlightNext(t *testing.T) {
	b := New(10, 10)
	sub := b.Subscribe()

	done := make(chan bool, 1)
	go func() {
		_, ok := sub.Next()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	b.Unsubscribe(sub)

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected Next to report closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("Next did not unblock after unsubscribe")
	}
}

func TestCloseClosesAllSubscriptions(t *testing.T) {
	b := New(10, 10)
	subs := []*Subscription{b.Subscribe(), b.Subscribe(), b.Subscribe()}

	b.Close()
	b.Close() // idempotent

	for _, sub := range subs {
		if _, ok := sub.Next(); ok {
			t.Fatalf("expected subscription to report closed after broadcaster close")
		}
	}

	// Publishing after close is a no-op, not a panic.
	b.Publish([]byte("ignored"))

	// Subscribing after close returns an already-closed handle.
	late := b.Subscribe()
	if _, ok := late.Next(); ok {
		t.Fatalf("expected late subscription after close to be already closed")
	}
}

func TestReplayBufferEvictsFIFO(t *testing.T) {
	b := New(3, 10)
	for i := 0; i < 5; i++ {
		b.Publish([]byte{byte(i)})
	}

	sub := b.Subscribe()
	for i := 2; i < 5; i++ {
		got, ok := sub.Next()
		if !ok || got[0] != byte(i) {
			t.Fatalf("expected replay tail to start at 2, got %v ok=%v", got, ok)
		}
	}
}
