package signal_test

import (
	"testing"
	"time"

	"github.com/pulsekit/pulse/signal"
)

func TestPublishSubscribe(t *testing.T) {
	bus := signal.NewBus(4, nil)
	defer bus.Close()

	ch := bus.Subscribe(signal.EventProcessed, signal.RuleCreated)

	bus.Publish(signal.EventProcessed, map[string]any{"event_type": "invoice.paid"})
	bus.Publish(signal.SubscriptionCreated, nil) // not subscribed
	bus.Publish(signal.RuleCreated, nil)

	got := make([]signal.Kind, 0, 2)
	for range 2 {
		select {
		case sig := <-ch:
			got = append(got, sig.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for signal")
		}
	}

	if got[0] != signal.EventProcessed || got[1] != signal.RuleCreated {
		t.Errorf("received %v, want [event_processed rule_created]", got)
	}

	select {
	case sig := <-ch:
		t.Errorf("unexpected signal %v", sig.Kind)
	default:
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	bus := signal.NewBus(1, nil)
	defer bus.Close()

	_ = bus.Subscribe(signal.EventProcessed)

	// Second publish must not block even though nobody drains the channel.
	done := make(chan struct{})
	go func() {
		bus.Publish(signal.EventProcessed, nil)
		bus.Publish(signal.EventProcessed, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if bus.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", bus.Dropped())
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	bus := signal.NewBus(1, nil)
	ch := bus.Subscribe(signal.EventProcessed)

	bus.Close()
	bus.Publish(signal.EventProcessed, nil) // no-op after close

	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}
}
