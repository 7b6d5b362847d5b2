package routing_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/routing"
	"github.com/pulsekit/pulse/signal"
	"github.com/pulsekit/pulse/store/memory"
	"github.com/pulsekit/pulse/subscription"
)

// harness bundles the matching engine with its collaborators for tests.
type harness struct {
	store      *memory.Store
	bus        *signal.Bus
	subs       *subscription.Service
	dispatcher *routing.Dispatcher
	engine     *routing.Engine
}

func newHarness(t *testing.T, trigger routing.WebhookTrigger) *harness {
	t.Helper()
	s := memory.New()
	bus := signal.NewBus(16, nil)
	subs := subscription.NewService(s, bus, subscription.Config{}, nil)
	dispatcher := routing.NewDispatcher(bus, trigger, routing.DispatcherConfig{}, nil)
	return &harness{
		store:      s,
		bus:        bus,
		subs:       subs,
		dispatcher: dispatcher,
		engine:     routing.NewEngine(subs, dispatcher, bus, nil),
	}
}

func (h *harness) createSub(t *testing.T, sub *subscription.Subscription) {
	t.Helper()
	sub.Entity = entity.New()
	if sub.ID.IsNil() {
		sub.ID = id.NewSubscriptionID()
	}
	if err := h.store.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
}

func TestProcessEventScoring(t *testing.T) {
	h := newHarness(t, nil)

	h.createSub(t, &subscription.Subscription{
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
		Filters: []condition.Condition{
			{Field: "amount", Operator: condition.Gt, Value: 100},
			{Field: "currency", Operator: condition.Eq, Value: "EUR"},
		},
		PriorityThreshold: subscription.PriorityLow,
		Enabled:           true,
	})

	results := h.engine.ProcessEvent(context.Background(), routing.Event{
		Type:     "invoice.paid",
		UserID:   "user-1",
		Priority: subscription.PriorityHigh,
		Data:     map[string]any{"amount": 250, "currency": "EUR"},
	})
	if len(results) != 1 {
		t.Fatalf("matches = %d, want 1", len(results))
	}

	// base 10 + 2 filters * 5 + high ordinal 3 * 2.
	if results[0].Score != 26 {
		t.Errorf("score = %d, want 26", results[0].Score)
	}
	if len(results[0].MatchedFilters) != 2 {
		t.Errorf("matched filters = %v", results[0].MatchedFilters)
	}
	if !results[0].Matches {
		t.Error("result not marked as match")
	}
}

func TestProcessEventRejections(t *testing.T) {
	tests := []struct {
		name string
		sub  subscription.Subscription
		evt  routing.Event
	}{
		{
			name: "disabled subscription",
			sub: subscription.Subscription{
				UserID: "user-1", EventTypes: []string{"invoice.paid"}, Enabled: false,
			},
			evt: routing.Event{Type: "invoice.paid", UserID: "user-1"},
		},
		{
			name: "type mismatch",
			sub: subscription.Subscription{
				UserID: "user-1", EventTypes: []string{"user.signup"}, Enabled: true,
			},
			evt: routing.Event{Type: "invoice.paid", UserID: "user-1"},
		},
		{
			name: "failing filter rejects",
			sub: subscription.Subscription{
				UserID:     "user-1",
				EventTypes: []string{"invoice.paid"},
				Filters: []condition.Condition{
					{Field: "amount", Operator: condition.Gt, Value: 1000},
					{Field: "currency", Operator: condition.Eq, Value: "EUR"},
				},
				Enabled: true,
			},
			evt: routing.Event{
				Type: "invoice.paid", UserID: "user-1",
				Data: map[string]any{"amount": 50, "currency": "EUR"},
			},
		},
		{
			name: "priority below threshold",
			sub: subscription.Subscription{
				UserID:            "user-1",
				EventTypes:        []string{"invoice.paid"},
				PriorityThreshold: subscription.PriorityUrgent,
				Enabled:           true,
			},
			evt: routing.Event{
				Type: "invoice.paid", UserID: "user-1",
				Priority: subscription.PriorityNormal,
			},
		},
		{
			name: "other user",
			sub: subscription.Subscription{
				UserID: "user-2", EventTypes: []string{"invoice.paid"}, Enabled: true,
			},
			evt: routing.Event{Type: "invoice.paid", UserID: "user-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			sub := tt.sub
			h.createSub(t, &sub)

			results := h.engine.ProcessEvent(context.Background(), tt.evt)
			if len(results) != 0 {
				t.Errorf("matches = %d, want 0", len(results))
			}
		})
	}
}

func TestProcessEventWildcardAndDefaults(t *testing.T) {
	h := newHarness(t, nil)

	h.createSub(t, &subscription.Subscription{
		UserID:     "user-1",
		EventTypes: []string{subscription.AllEventTypes},
		Enabled:    true,
	})

	// No declared priority: defaults to normal, which passes an empty
	// threshold (also normal-ranked).
	results := h.engine.ProcessEvent(context.Background(), routing.Event{
		Type:   "anything.happened",
		UserID: "user-1",
	})
	if len(results) != 1 {
		t.Fatalf("matches = %d, want 1", len(results))
	}
	// base 10 + normal ordinal 2 * 2.
	if results[0].Score != 14 {
		t.Errorf("score = %d, want 14", results[0].Score)
	}
}

func TestProcessEventOrdersByScore(t *testing.T) {
	h := newHarness(t, nil)

	h.createSub(t, &subscription.Subscription{
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
		Enabled:    true,
	})
	h.createSub(t, &subscription.Subscription{
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
		Filters: []condition.Condition{
			{Field: "amount", Operator: condition.Gt, Value: 10},
		},
		Enabled: true,
	})

	results := h.engine.ProcessEvent(context.Background(), routing.Event{
		Type:   "invoice.paid",
		UserID: "user-1",
		Data:   map[string]any{"amount": 100},
	})
	if len(results) != 2 {
		t.Fatalf("matches = %d, want 2", len(results))
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("results not sorted: %d then %d", results[0].Score, results[1].Score)
	}
	if len(results[0].MatchedFilters) != 1 {
		t.Error("more specific subscription should rank first")
	}
}

func TestRulesFireActions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	emails := h.bus.Subscribe(signal.ActionSendEmail)

	if _, err := h.subs.CreateRule(ctx, subscription.RuleInput{
		Name:       "large invoice alert",
		AgencyID:   "ag-1",
		EventTypes: []string{"invoice.paid"},
		Conditions: []condition.Condition{
			{Field: "amount", Operator: condition.Gte, Value: 1000},
		},
		Actions: []subscription.Action{
			{Type: subscription.ActionSendEmail, Config: map[string]any{"to": "ops@example.com"}},
		},
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	h.dispatcher.Start(ctx)
	defer h.dispatcher.Stop()

	h.engine.ProcessEvent(ctx, routing.Event{
		Type:     "invoice.paid",
		UserID:   "user-1",
		AgencyID: "ag-1",
		Data:     map[string]any{"amount": 5000},
	})

	select {
	case sig := <-emails:
		if sig.Payload["rule_name"] != "large invoice alert" {
			t.Errorf("payload = %v", sig.Payload)
		}
		if sig.Payload["event_type"] != "invoice.paid" {
			t.Errorf("event type = %v", sig.Payload["event_type"])
		}
		if cfg, ok := sig.Payload["config"].(map[string]any); !ok || cfg["to"] != "ops@example.com" {
			t.Errorf("config = %v", sig.Payload["config"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("email action never dispatched")
	}
}

func TestRuleConditionGatesActions(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tasks := h.bus.Subscribe(signal.ActionCreateTask)

	if _, err := h.subs.CreateRule(ctx, subscription.RuleInput{
		Name:       "escalate",
		EventTypes: []string{"ticket.opened"},
		Conditions: []condition.Condition{
			{Field: "severity", Operator: condition.Eq, Value: "critical"},
		},
		Actions: []subscription.Action{{Type: subscription.ActionCreateTask}},
	}); err != nil {
		t.Fatal(err)
	}

	h.dispatcher.Start(ctx)
	defer h.dispatcher.Stop()

	h.engine.ProcessEvent(ctx, routing.Event{
		Type:   "ticket.opened",
		UserID: "user-1",
		Data:   map[string]any{"severity": "low"},
	})

	select {
	case <-tasks:
		t.Fatal("rule fired despite failing condition")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAgencyRuleScoping(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	notifications := h.bus.Subscribe(signal.ActionSendNotification)

	mkRule := func(name, agency string) {
		t.Helper()
		if _, err := h.subs.CreateRule(ctx, subscription.RuleInput{
			Name:       name,
			AgencyID:   agency,
			EventTypes: []string{subscription.AllEventTypes},
			Actions:    []subscription.Action{{Type: subscription.ActionSendNotification}},
		}); err != nil {
			t.Fatal(err)
		}
	}
	mkRule("global", "")
	mkRule("mine", "ag-1")
	mkRule("other", "ag-2")

	h.dispatcher.Start(ctx)
	defer h.dispatcher.Stop()

	h.engine.ProcessEvent(ctx, routing.Event{
		Type:     "invoice.paid",
		UserID:   "user-1",
		AgencyID: "ag-1",
	})

	fired := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(fired) < 2 {
		select {
		case sig := <-notifications:
			fired[sig.Payload["rule_name"].(string)] = true
		case <-timeout:
			t.Fatalf("fired rules = %v", fired)
		}
	}

	if !fired["global"] || !fired["mine"] {
		t.Errorf("fired = %v, want global and mine", fired)
	}
	select {
	case sig := <-notifications:
		t.Errorf("unexpected rule fired: %v", sig.Payload["rule_name"])
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookActionTriggersEngine(t *testing.T) {
	var triggered atomic.Int32
	trigger := triggerFunc(func(ctx context.Context, eventType string, data map[string]any, agencyID string) error {
		if eventType == "invoice.paid" && agencyID == "ag-1" {
			triggered.Add(1)
		}
		return nil
	})

	h := newHarness(t, trigger)
	ctx := context.Background()

	if _, err := h.subs.CreateRule(ctx, subscription.RuleInput{
		Name:       "forward to webhooks",
		AgencyID:   "ag-1",
		EventTypes: []string{"invoice.paid"},
		Actions:    []subscription.Action{{Type: subscription.ActionWebhook}},
	}); err != nil {
		t.Fatal(err)
	}

	h.dispatcher.Start(ctx)
	defer h.dispatcher.Stop()

	h.engine.ProcessEvent(ctx, routing.Event{
		Type:     "invoice.paid",
		UserID:   "user-1",
		AgencyID: "ag-1",
	})

	deadline := time.Now().Add(2 * time.Second)
	for triggered.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if triggered.Load() != 1 {
		t.Errorf("webhook trigger called %d times, want 1", triggered.Load())
	}
}

// triggerFunc adapts a function to the WebhookTrigger interface.
type triggerFunc func(ctx context.Context, eventType string, data map[string]any, agencyID string) error

func (f triggerFunc) Trigger(ctx context.Context, eventType string, data map[string]any, agencyID string) error {
	return f(ctx, eventType, data, agencyID)
}
