package status

import (
	"fmt"
	"testing"
)

func TestHubRetention(t *testing.T) {
	h := NewHub()
	for i := 0; i < retention+50; i++ {
		h.Post(Info, fmt.Sprintf("event %d", i))
	}

	got := h.Recent()
	if len(got) != retention {
		t.Fatalf("retained %d entries, want %d", len(got), retention)
	}
	if got[0].Message != "event 50" {
		t.Errorf("oldest retained = %q, want %q", got[0].Message, "event 50")
	}
	if got[len(got)-1].Message != fmt.Sprintf("event %d", retention+49) {
		t.Errorf("newest retained = %q", got[len(got)-1].Message)
	}
}

func TestHubSubscribe(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Post(Warning, "low disk")

	e := <-ch
	if e.Level != Warning || e.Message != "low disk" {
		t.Fatalf("got %v %q", e.Level, e.Message)
	}

	cancel()
	h.Post(Info, "after cancel")
	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("received %q after cancel", e.Message)
		}
	default:
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; Post must not stall.
	for i := 0; i < 100; i++ {
		h.Post(Info, "burst")
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffer fill = %d, want %d", len(ch), cap(ch))
	}
	if got := len(h.Recent()); got != 100 {
		t.Errorf("retained %d, want 100", got)
	}
}

func TestLevelString(t *testing.T) {
	for want, l := range map[string]Level{"info": Info, "warning": Warning, "error": Error} {
		if l.String() != want {
			t.Errorf("%d.String() = %q, want %q", l, l.String(), want)
		}
	}
}
