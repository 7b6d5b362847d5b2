// Package pulse provides a composable event routing and webhook delivery
// engine for Go.
//
// Pulse is a library, not a service. Import it into your application to
// get per-user subscription matching with relevance scoring, tenant-scoped
// automation rules, and registered webhook endpoints with HMAC-signed
// delivery and durable retries.
//
// Key features:
//   - Subscription matching with filter conditions and priority thresholds
//   - Automation rules firing typed actions through dedicated worker queues
//   - Webhook registry with per-webhook retry, timeout and rate limit settings
//   - HMAC-SHA256 signatures on every delivery carrying a secret
//   - Composable store pattern with multiple backends (Postgres, Redis, Memory)
//   - Optional event type catalog with JSON Schema payload validation
//
// Quick start:
//
//	p, err := pulse.New(
//	    pulse.WithStore(memoryStore),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p.Start(ctx)
//	defer p.Stop()
//
//	p.Webhooks().Create(ctx, webhook.Input{
//	    Name:   "billing hook",
//	    URL:    "https://example.com/hooks/billing",
//	    Events: []string{"invoice.paid"},
//	})
//
//	p.TriggerEvent(ctx, "invoice.paid", map[string]any{"invoice_id": "inv_01h..."}, "")
package pulse
