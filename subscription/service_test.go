package subscription_test

import (
	"context"
	"errors"
	"testing"

	"github.com/pulsekit/pulse/condition"
	"github.com/pulsekit/pulse/signal"
	"github.com/pulsekit/pulse/store/memory"
	"github.com/pulsekit/pulse/subscription"
)

func newService(t *testing.T) (*subscription.Service, *memory.Store, *signal.Bus) {
	t.Helper()
	s := memory.New()
	bus := signal.NewBus(16, nil)
	return subscription.NewService(s, bus, subscription.Config{}, nil), s, bus
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		in    subscription.Input
		field string
	}{
		{name: "missing user", in: subscription.Input{EventTypes: []string{"a"}}, field: "user_id"},
		{name: "missing event types", in: subscription.Input{UserID: "u"}, field: "event_types"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			var verr *subscription.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("err = %v, want validation error on %s", err, tt.field)
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	svc, _, _ := newService(t)

	sub, err := svc.Create(context.Background(), subscription.Input{
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sub.PriorityThreshold != subscription.PriorityLow {
		t.Errorf("threshold = %q, want low", sub.PriorityThreshold)
	}
	if !sub.Enabled {
		t.Error("new subscriptions default to enabled")
	}
	if sub.ID.IsNil() {
		t.Error("no ID assigned")
	}
}

func TestMutationsEmitSignals(t *testing.T) {
	svc, _, bus := newService(t)
	ctx := context.Background()

	created := bus.Subscribe(signal.SubscriptionCreated)
	deleted := bus.Subscribe(signal.SubscriptionDeleted)

	sub, err := svc.Create(ctx, subscription.Input{
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
	})
	if err != nil {
		t.Fatal(err)
	}

	sig := <-created
	if sig.Payload["subscription_id"] != sub.ID.String() {
		t.Errorf("created payload = %v", sig.Payload)
	}

	if err := svc.Delete(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}
	sig = <-deleted
	if sig.Payload["user_id"] != "user-1" {
		t.Errorf("deleted payload = %v", sig.Payload)
	}
}

func TestForUserCachesAndInvalidates(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	sub, err := svc.Create(ctx, subscription.Input{
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := svc.ForUser(ctx, "user-1"); len(got) != 1 {
		t.Fatalf("subs = %d, want 1", len(got))
	}

	// A mutation through the service must be visible immediately.
	disabled := false
	if _, err := svc.Update(ctx, sub.ID, subscription.Input{Enabled: &disabled}); err != nil {
		t.Fatal(err)
	}

	got := svc.ForUser(ctx, "user-1")
	if len(got) != 1 || got[0].Enabled {
		t.Error("update not reflected after cache invalidation")
	}
}

func TestCreateRuleValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, subscription.RuleInput{
		Name:       "bad action",
		EventTypes: []string{"invoice.paid"},
		Actions:    []subscription.Action{{Type: "explode"}},
	})
	var verr *subscription.ValidationError
	if !errors.As(err, &verr) || verr.Field != "actions" {
		t.Errorf("err = %v, want validation error on actions", err)
	}
}

func TestRulesInScopeOrder(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, subscription.RuleInput{
		Name: "global", EventTypes: []string{"all"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateRule(ctx, subscription.RuleInput{
		Name: "scoped", AgencyID: "ag-1", EventTypes: []string{"all"},
		Conditions: []condition.Condition{{Field: "x", Operator: condition.Eq, Value: 1}},
	}); err != nil {
		t.Fatal(err)
	}

	rules := svc.RulesInScope(ctx, "ag-1")
	if len(rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rules))
	}
	if rules[0].Name != "scoped" || rules[1].Name != "global" {
		t.Errorf("order = %s, %s; want scoped then global", rules[0].Name, rules[1].Name)
	}

	if got := svc.RulesInScope(ctx, ""); len(got) != 1 {
		t.Errorf("global scope rules = %d, want 1", len(got))
	}
}
