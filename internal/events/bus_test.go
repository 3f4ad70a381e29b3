package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitSyncReachesTypedAndWildcard(t *testing.T) {
	bus := NewEventBus()
	var typed, all atomic.Int32

	bus.Subscribe(EventDesync, "typed", func(ctx context.Context, e Event) error {
		typed.Add(1)
		return nil
	})
	bus.SubscribeAll("all", func(ctx context.Context, e Event) error {
		all.Add(1)
		if e.Time.IsZero() {
			t.Error("event time not stamped")
		}
		return nil
	})

	if err := bus.EmitSync(context.Background(), Event{Type: EventDesync}); err != nil {
		t.Fatal(err)
	}
	if err := bus.EmitSync(context.Background(), Event{Type: EventChat}); err != nil {
		t.Fatal(err)
	}
	if typed.Load() != 1 || all.Load() != 2 {
		t.Fatalf("typed=%d all=%d", typed.Load(), all.Load())
	}
	if bus.HandlerCount(EventDesync) != 2 {
		t.Fatalf("HandlerCount = %d", bus.HandlerCount(EventDesync))
	}
}

func TestEmitSyncReturnsErrorAndSurvivesPanic(t *testing.T) {
	bus := NewEventBus()
	boom := errors.New("boom")
	bus.Subscribe(EventGameOver, "err", func(ctx context.Context, e Event) error { return boom })
	bus.Subscribe(EventGameOver, "panic", func(ctx context.Context, e Event) error { panic("x") })

	if err := bus.EmitSync(context.Background(), Event{Type: EventGameOver}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestEmitAsyncAndStop(t *testing.T) {
	bus := NewEventBus()
	done := make(chan struct{})
	bus.Subscribe(EventGameCreated, "h", func(ctx context.Context, e Event) error {
		close(done)
		return nil
	})
	bus.Emit(context.Background(), Event{Type: EventGameCreated})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.StopCh():
	default:
		t.Fatal("StopCh not closed")
	}
	bus.Emit(context.Background(), Event{Type: EventGameCreated}) // dropped, no panic
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventChat, "a", func(ctx context.Context, e Event) error { return nil })
	bus.Subscribe(EventChat, "b", func(ctx context.Context, e Event) error { return nil })
	bus.Unsubscribe(EventChat, "a")
	if bus.HandlerCount(EventChat) != 1 {
		t.Fatalf("HandlerCount = %d", bus.HandlerCount(EventChat))
	}
}

func TestGamePhaseJSON(t *testing.T) {
	b, _ := PhaseRunning.MarshalJSON()
	if string(b) != `"running"` {
		t.Fatalf("got %s", b)
	}
}
