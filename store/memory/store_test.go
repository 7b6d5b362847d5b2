package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pulsekit/pulse"
	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/store/memory"
	"github.com/pulsekit/pulse/subscription"
	"github.com/pulsekit/pulse/webhook"
)

func newWebhook(agencyID string, events ...string) *webhook.Webhook {
	return &webhook.Webhook{
		Entity:   entity.New(),
		ID:       id.NewWebhookID(),
		AgencyID: agencyID,
		Name:     "test webhook",
		URL:      "https://example.com/hook",
		Method:   "POST",
		Events:   events,
		IsActive: true,
	}
}

func newWebhookEvent(whID id.ID, status delivery.Status, due time.Time) *delivery.WebhookEvent {
	return &delivery.WebhookEvent{
		Entity:        entity.New(),
		ID:            id.NewWebhookEventID(),
		WebhookID:     whID,
		EventType:     "invoice.paid",
		Status:        status,
		TriggeredAt:   time.Now().UTC(),
		NextAttemptAt: due,
	}
}

func TestEventTypeUpsert(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	et := &catalog.EventType{
		Entity:   entity.New(),
		ID:       id.NewEventTypeID(),
		Name:     "invoice.paid",
		Category: "billing",
		IsActive: true,
	}
	if err := s.RegisterEventType(ctx, et); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Re-registering the same name updates in place and keeps the ID.
	et2 := &catalog.EventType{
		Entity:      entity.New(),
		ID:          id.NewEventTypeID(),
		Name:        "invoice.paid",
		Category:    "billing",
		Description: "updated",
		IsActive:    true,
	}
	if err := s.RegisterEventType(ctx, et2); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if et2.ID.String() != et.ID.String() {
		t.Errorf("upsert changed ID: %s -> %s", et.ID, et2.ID)
	}

	got, err := s.GetEventType(ctx, "invoice.paid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "updated" {
		t.Errorf("description = %q, want updated", got.Description)
	}

	if _, err := s.GetEventType(ctx, "nope"); !errors.Is(err, pulse.ErrEventTypeNotFound) {
		t.Errorf("missing type error = %v", err)
	}
}

func TestListEventTypesFiltering(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for _, et := range []*catalog.EventType{
		{Entity: entity.New(), ID: id.NewEventTypeID(), Name: "invoice.paid", Category: "billing", IsActive: true},
		{Entity: entity.New(), ID: id.NewEventTypeID(), Name: "user.signup", Category: "accounts", IsActive: true},
		{Entity: entity.New(), ID: id.NewEventTypeID(), Name: "invoice.void", Category: "billing", IsActive: false},
	} {
		if err := s.RegisterEventType(ctx, et); err != nil {
			t.Fatalf("register %s: %v", et.Name, err)
		}
	}

	active, err := s.ListEventTypes(ctx, catalog.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active types = %d, want 2", len(active))
	}

	billing, err := s.ListEventTypes(ctx, catalog.ListOpts{Category: "billing", IncludeInactive: true})
	if err != nil {
		t.Fatalf("list billing: %v", err)
	}
	if len(billing) != 2 {
		t.Errorf("billing types = %d, want 2", len(billing))
	}
}

func TestSubscriptionCRUD(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := &subscription.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		EventTypes: []string{"invoice.paid"},
		Enabled:    true,
	}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("user = %q", got.UserID)
	}

	subs, err := s.ListSubscriptionsByUser(ctx, "user-1")
	if err != nil || len(subs) != 1 {
		t.Fatalf("list = %d, %v; want 1, nil", len(subs), err)
	}

	if err := s.DeleteSubscription(ctx, sub.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSubscription(ctx, sub.ID); !errors.Is(err, pulse.ErrSubscriptionNotFound) {
		t.Errorf("after delete error = %v", err)
	}
}

func TestRulesByScope(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	global := &subscription.Rule{Entity: entity.New(), ID: id.NewRuleID(), Name: "global", Enabled: true}
	scoped := &subscription.Rule{Entity: entity.New(), ID: id.NewRuleID(), Name: "scoped", AgencyID: "ag-1", Enabled: true}

	for _, r := range []*subscription.Rule{global, scoped} {
		if err := s.CreateRule(ctx, r); err != nil {
			t.Fatalf("create rule: %v", err)
		}
	}

	globals, err := s.ListRulesByScope(ctx, "")
	if err != nil || len(globals) != 1 || globals[0].Name != "global" {
		t.Fatalf("global rules = %v, %v", globals, err)
	}

	agency, err := s.ListRulesByScope(ctx, "ag-1")
	if err != nil || len(agency) != 1 || agency[0].Name != "scoped" {
		t.Fatalf("agency rules = %v, %v", agency, err)
	}
}

func TestResolveWebhooks(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	global := newWebhook("", "invoice.paid")
	agencyA := newWebhook("ag-a", "invoice.paid")
	agencyB := newWebhook("ag-b", "invoice.paid")
	inactive := newWebhook("ag-a", "invoice.paid")
	inactive.IsActive = false
	otherType := newWebhook("ag-a", "user.signup")

	for _, wh := range []*webhook.Webhook{global, agencyA, agencyB, inactive, otherType} {
		if err := s.CreateWebhook(ctx, wh); err != nil {
			t.Fatalf("create webhook: %v", err)
		}
	}

	// Agency scope matches the agency's webhooks plus unscoped ones.
	got, err := s.ResolveWebhooks(ctx, "invoice.paid", "ag-a")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("scoped resolve = %d webhooks, want 2", len(got))
	}

	// Empty scope matches everything active and subscribed.
	all, err := s.ResolveWebhooks(ctx, "invoice.paid", "")
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("unscoped resolve = %d webhooks, want 3", len(all))
	}
}

func TestDeleteWebhookCascades(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	wh := newWebhook("", "invoice.paid")
	if err := s.CreateWebhook(ctx, wh); err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	evt := newWebhookEvent(wh.ID, delivery.StatusSuccess, time.Now())
	if err := s.CreateWebhookEvent(ctx, evt); err != nil {
		t.Fatalf("create event: %v", err)
	}

	if err := s.DeleteWebhook(ctx, wh.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetWebhookEvent(ctx, evt.ID); !errors.Is(err, pulse.ErrWebhookEventNotFound) {
		t.Errorf("history should be deleted with the webhook, got %v", err)
	}
}

func TestDequeueDueLocksRecords(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	wh := newWebhook("", "invoice.paid")
	if err := s.CreateWebhook(ctx, wh); err != nil {
		t.Fatal(err)
	}

	due := newWebhookEvent(wh.ID, delivery.StatusPending, time.Now().Add(-time.Second))
	future := newWebhookEvent(wh.ID, delivery.StatusRetrying, time.Now().Add(time.Hour))
	terminal := newWebhookEvent(wh.ID, delivery.StatusSuccess, time.Now().Add(-time.Second))

	for _, evt := range []*delivery.WebhookEvent{due, future, terminal} {
		if err := s.CreateWebhookEvent(ctx, evt); err != nil {
			t.Fatal(err)
		}
	}

	batch, err := s.DequeueDue(ctx, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 1 || batch[0].ID.String() != due.ID.String() {
		t.Fatalf("dequeue = %d records, want only the due one", len(batch))
	}

	// The locked record is not handed out again until updated.
	again, err := s.DequeueDue(ctx, 10)
	if err != nil {
		t.Fatalf("second dequeue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("locked record dequeued twice")
	}

	batch[0].Status = delivery.StatusRetrying
	batch[0].NextAttemptAt = time.Now().Add(-time.Second)
	if err := s.UpdateWebhookEvent(ctx, batch[0]); err != nil {
		t.Fatalf("update: %v", err)
	}

	third, err := s.DequeueDue(ctx, 10)
	if err != nil {
		t.Fatalf("third dequeue: %v", err)
	}
	if len(third) != 1 {
		t.Errorf("updated record should be dequeuable again, got %d", len(third))
	}
}

func TestListWebhookEventsFiltering(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	wh1 := newWebhook("", "invoice.paid")
	wh2 := newWebhook("", "user.signup")
	for _, wh := range []*webhook.Webhook{wh1, wh2} {
		if err := s.CreateWebhook(ctx, wh); err != nil {
			t.Fatal(err)
		}
	}

	e1 := newWebhookEvent(wh1.ID, delivery.StatusSuccess, time.Now())
	e2 := newWebhookEvent(wh1.ID, delivery.StatusFailed, time.Now())
	e3 := newWebhookEvent(wh2.ID, delivery.StatusSuccess, time.Now())
	e3.EventType = "user.signup"

	for _, evt := range []*delivery.WebhookEvent{e1, e2, e3} {
		if err := s.CreateWebhookEvent(ctx, evt); err != nil {
			t.Fatal(err)
		}
	}

	byWebhook, err := s.ListWebhookEvents(ctx, delivery.ListOpts{WebhookID: wh1.ID})
	if err != nil || len(byWebhook) != 2 {
		t.Fatalf("by webhook = %d, %v; want 2", len(byWebhook), err)
	}

	failed := delivery.StatusFailed
	byStatus, err := s.ListWebhookEvents(ctx, delivery.ListOpts{Status: &failed})
	if err != nil || len(byStatus) != 1 {
		t.Fatalf("by status = %d, %v; want 1", len(byStatus), err)
	}

	byType, err := s.ListWebhookEvents(ctx, delivery.ListOpts{EventType: "user.signup"})
	if err != nil || len(byType) != 1 {
		t.Fatalf("by type = %d, %v; want 1", len(byType), err)
	}

	limited, err := s.ListWebhookEvents(ctx, delivery.ListOpts{Limit: 2})
	if err != nil || len(limited) != 2 {
		t.Fatalf("limited = %d, %v; want 2", len(limited), err)
	}
}

func TestDeliveryStats(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	whA := newWebhook("ag-a", "invoice.paid")
	whB := newWebhook("ag-b", "invoice.paid")
	whB.IsActive = false
	for _, wh := range []*webhook.Webhook{whA, whB} {
		if err := s.CreateWebhook(ctx, wh); err != nil {
			t.Fatal(err)
		}
	}

	old := newWebhookEvent(whA.ID, delivery.StatusSuccess, time.Now())
	old.TriggeredAt = time.Now().Add(-48 * time.Hour)

	for _, evt := range []*delivery.WebhookEvent{
		newWebhookEvent(whA.ID, delivery.StatusSuccess, time.Now()),
		newWebhookEvent(whA.ID, delivery.StatusFailed, time.Now()),
		newWebhookEvent(whB.ID, delivery.StatusSuccess, time.Now()),
		old,
	} {
		if err := s.CreateWebhookEvent(ctx, evt); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.DeliveryStats(ctx, delivery.StatsOpts{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalWebhooks != 2 || stats.ActiveWebhooks != 1 {
		t.Errorf("webhooks = %d/%d, want 2/1", stats.TotalWebhooks, stats.ActiveWebhooks)
	}
	if stats.TotalEvents != 4 || stats.SuccessfulEvents != 3 || stats.FailedEvents != 1 {
		t.Errorf("events = %d/%d/%d", stats.TotalEvents, stats.SuccessfulEvents, stats.FailedEvents)
	}
	if stats.EventsLast24h != 3 {
		t.Errorf("last 24h = %d, want 3", stats.EventsLast24h)
	}

	scoped, err := s.DeliveryStats(ctx, delivery.StatsOpts{AgencyID: "ag-a"})
	if err != nil {
		t.Fatalf("scoped stats: %v", err)
	}
	if scoped.TotalEvents != 3 {
		t.Errorf("scoped events = %d, want 3", scoped.TotalEvents)
	}
}

func TestClosedStorePing(t *testing.T) {
	s := memory.New()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, pulse.ErrStoreClosed) {
		t.Errorf("ping after close = %v", err)
	}
}
