package pulse_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/routing"
	"github.com/pulsekit/pulse/store/memory"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

func newPulse(t *testing.T) *pulse.Pulse {
	t.Helper()
	p, err := pulse.New(
		pulse.WithStore(memory.New()),
		pulse.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return p
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := pulse.New(); !errors.Is(err, pulse.ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
}

func TestEndToEndDelivery(t *testing.T) {
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Pulse-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newPulse(t)
	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	wh, err := p.Webhooks().Create(ctx, webhook.Input{
		Name:   "orders hook",
		URL:    srv.URL,
		Events: []string{"order.created"},
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}

	if err := p.TriggerEvent(ctx, "order.created", map[string]any{"order_id": "ord-1"}, ""); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	select {
	case sig := <-received:
		if sig == "" {
			t.Error("delivery missing signature despite auto-generated secret")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook never delivered")
	}

	// History reflects the completed delivery.
	deadline := time.Now().Add(5 * time.Second)
	for {
		events, err := p.Deliveries().ListEvents(ctx, delivery.ListOpts{WebhookID: wh.ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(events) == 1 && events[0].Status == delivery.StatusSuccess {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("delivery never recorded as success")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stats, err := p.Deliveries().GetStats(ctx, delivery.StatsOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalWebhooks != 1 || stats.SuccessfulEvents != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProcessEventMatchesSubscriptions(t *testing.T) {
	p := newPulse(t)
	ctx := context.Background()

	if _, err := p.Subscriptions().Create(ctx, subscription.Input{
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
		Filters: []condition.Condition{
			{Field: "amount", Operator: condition.Gt, Value: 100},
		},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := p.ProcessEvent(ctx, routing.Event{
		Type:   "invoice.paid",
		UserID: "user-1",
		Data:   map[string]any{"amount": 500},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("matches = %d, want 1", len(results))
	}
}

func TestSchemaValidationGatesTrigger(t *testing.T) {
	p := newPulse(t)
	ctx := context.Background()

	schema := []byte(`{
		"type": "object",
		"required": ["order_id"],
		"properties": {"order_id": {"type": "string"}}
	}`)
	if _, err := p.Catalog().Register(ctx, "order.created", "orders", "", schema); err != nil {
		t.Fatal(err)
	}

	err := p.TriggerEvent(ctx, "order.created", map[string]any{"wrong": true}, "")
	if !errors.Is(err, pulse.ErrPayloadValidationFailed) {
		t.Errorf("err = %v, want ErrPayloadValidationFailed", err)
	}

	if err := p.TriggerEvent(ctx, "order.created", map[string]any{"order_id": "ord-1"}, ""); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
}

func TestUnregisteredTypesPassThrough(t *testing.T) {
	p := newPulse(t)

	if err := p.TriggerEvent(context.Background(), "never.registered", nil, ""); err != nil {
		t.Errorf("unregistered type rejected: %v", err)
	}
}
