package notify

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestPublishReachesSessionSubscribersOnly(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe("s1", 4)
	defer cancelA()
	b, cancelB := h.Subscribe("s2", 4)
	defer cancelB()

	h.Publish(Event{Kind: KindSessionEnded, SessionID: "s1"})

	if e := recv(t, a); e.Kind != KindSessionEnded || e.SessionID != "s1" {
		t.Fatalf("unexpected event %+v", e)
	}
	select {
	case e := <-b:
		t.Fatalf("subscriber of s2 got s1 event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	h := NewHub()
	h.Publish(Event{Kind: KindWindowClosed, SessionID: "s1"})

	ch, cancel := h.Subscribe("s1", 4)
	defer cancel()
	select {
	case e := <-ch:
		t.Fatalf("late subscriber replayed %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("s1", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Publish(Event{Kind: KindCredentialRotated, SessionID: "s1"})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	// exactly the buffered event survives
	recv(t, ch)
	select {
	case e := <-ch:
		t.Fatalf("expected dropped events, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelIsIdempotentAndUnregisters(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("s1", 4)
	if got := h.Subscribers("s1"); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}
	cancel()
	cancel()
	if got := h.Subscribers("s1"); got != 0 {
		t.Fatalf("subscribers after cancel = %d, want 0", got)
	}
	// publishing to a session with no listeners must not panic
	h.Publish(Event{Kind: KindSessionEnded, SessionID: "s1"})
}
