// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"testing"
	"time"
)

func TestBroadcaster_DeliversInOrder(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	a, unsubA := b.Subscribe(10)
	c, unsubC := b.Subscribe(10)

	for i := range 5 {
		b.Publish(ProgressEvent{Stage: StageDownloading, Progress: i * 20, Message: "step"})
	}

	for _, got := range [][]ProgressEvent{drain(a, unsubA), drain(c, unsubC)} {
		if len(got) != 5 {
			t.Fatalf("expected 5 events, got %d", len(got))
		}
		for i, ev := range got {
			if ev.Progress != i*20 {
				t.Errorf("event %d: expected progress %d, got %d", i, i*20, ev.Progress)
			}
		}
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	_, unsubSlow := b.Subscribe(1) // never read
	t.Cleanup(unsubSlow)
	fast, unsubFast := b.Subscribe(100)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 50 {
			b.Publish(ProgressEvent{Stage: StageVerifying, Progress: i, Message: "hashing"})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := drain(fast, unsubFast); len(got) != 50 {
		t.Errorf("fast subscriber expected 50 events, got %d", len(got))
	}
}

func TestBroadcaster_UnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil)
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}
	b.mu.Lock()
	n := len(b.subs)
	b.mu.Unlock()
	if n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	b.Publish(ProgressEvent{Stage: StageIdle, Message: "nobody listens"})
}
