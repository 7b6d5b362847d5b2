package catalog_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pulsekit/pulse/catalog"
	"github.com/pulsekit/pulse/store/memory"
)

func TestRegisterAndGet(t *testing.T) {
	s := memory.New()
	svc := catalog.NewService(s, catalog.Config{}, nil)
	ctx := context.Background()

	et, err := svc.Register(ctx, "invoice.paid", "billing", "An invoice was paid", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !et.IsActive {
		t.Error("registered types default to active")
	}

	got, err := svc.Get(ctx, "invoice.paid")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Category != "billing" {
		t.Errorf("category = %q", got.Category)
	}
}

func TestGetServesFromCache(t *testing.T) {
	s := memory.New()
	svc := catalog.NewService(s, catalog.Config{CacheTTL: time.Minute}, nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "invoice.paid", "billing", "", nil); err != nil {
		t.Fatal(err)
	}

	// Close the backing store; a warm cache still answers.
	if err := svc.WarmCache(ctx); err != nil {
		t.Fatal(err)
	}
	s.Close()

	if _, err := svc.Get(ctx, "invoice.paid"); err != nil {
		t.Errorf("cached get failed: %v", err)
	}
}

func TestInvalidateCacheForcesReload(t *testing.T) {
	s := memory.New()
	svc := catalog.NewService(s, catalog.Config{CacheTTL: time.Minute}, nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "invoice.paid", "billing", "first", nil); err != nil {
		t.Fatal(err)
	}
	// Write through the store directly, bypassing the service cache.
	et, err := s.GetEventType(ctx, "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	et.Description = "second"

	svc.InvalidateCache()

	got, err := svc.Get(ctx, "invoice.paid")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "second" {
		t.Errorf("description = %q, want reloaded value", got.Description)
	}
}

func TestValidator(t *testing.T) {
	v := catalog.NewValidator()

	schema := []byte(`{
		"type": "object",
		"required": ["amount"],
		"properties": {
			"amount": {"type": "number"},
			"currency": {"type": "string"}
		}
	}`)

	doc := json.RawMessage(schema)

	if err := v.Validate(doc, map[string]any{"amount": 42.0, "currency": "EUR"}); err != nil {
		t.Errorf("valid payload rejected: %v", err)
	}
	if err := v.Validate(doc, map[string]any{"currency": "EUR"}); err == nil {
		t.Error("payload missing required field accepted")
	}
	if err := v.Validate(nil, map[string]any{"anything": true}); err != nil {
		t.Errorf("nil schema should skip validation: %v", err)
	}
}
