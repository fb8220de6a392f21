package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubscribeDeliversMatchingTypeOnly(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(EventTradeClosed, func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	bus.PublishTradeClosed("u1", "pos-1", "WIN", "TAKE_PROFIT", 12.5)
	bus.PublishTradeOpened("u1", "pos-2", "BTCUSDT", "LONG", 100)

	waitForEvents(t, &mu, &got, 1)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("delivered %d events, want 1", len(got))
	}
	if got[0].Type != EventTradeClosed || got[0].UserID != "u1" {
		t.Errorf("unexpected event %+v", got[0])
	}
	if got[0].Timestamp.IsZero() {
		t.Error("published event must carry a timestamp")
	}
}

func TestSubscribeAllSeesEveryEvent(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []Event
	bus.SubscribeAll(func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	bus.PublishTradeOpened("u1", "pos-1", "BTCUSDT", "LONG", 100)
	bus.PublishCooldown(EventCooldownStarted, "u1", "2x consecutive losses detected")
	bus.PublishError("u1", "monitor", errors.New("exchange unreachable"))

	waitForEvents(t, &mu, &got, 3)

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[EventType]bool)
	for _, evt := range got {
		seen[evt.Type] = true
	}
	for _, want := range []EventType{EventTradeOpened, EventCooldownStarted, EventError} {
		if !seen[want] {
			t.Errorf("catch-all subscriber missed %s", want)
		}
	}
}

func waitForEvents(t *testing.T, mu *sync.Mutex, got *[]Event, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(*got)
		mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("subscriber did not receive %d events in time", want)
}
