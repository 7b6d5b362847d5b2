package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pulsekit/pulse/signature"
	"github.com/pulsekit/pulse/webhook"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body when the
// webhook has a secret configured. Custom headers may not override it.
const SignatureHeader = "X-Pulse-Signature"

const userAgent = "Pulse-Webhooks/1.0"

// Payload is the JSON body sent to webhook endpoints.
type Payload struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
	Webhook   PayloadWebhook `json:"webhook"`
}

// PayloadWebhook identifies the receiving webhook inside the payload.
type PayloadWebhook struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Result holds the outcome of a single delivery attempt.
type Result struct {
	StatusCode     int
	ResponseBody   string
	Error          string
	TimedOut       bool
	DurationMs     int
	RequestHeaders map[string]string
	RequestBody    string
}

// Sender performs HTTP webhook delivery.
type Sender struct {
	client *http.Client
}

// NewSender creates a sender. Per-attempt timeouts come from each
// webhook's configuration, so the shared client has none.
func NewSender() *Sender {
	return &Sender{
		client: &http.Client{},
	}
}

// Send delivers a payload to a webhook and returns the attempt result.
// The attempt is bounded by the webhook's configured timeout.
func (s *Sender) Send(ctx context.Context, wh *webhook.Webhook, payload Payload) Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Error: fmt.Sprintf("marshal payload: %v", err)}
	}

	timeout := time.Duration(wh.TimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// GET requests carry no body.
	var reqBody io.Reader
	requestBody := ""
	if wh.Method != http.MethodGet {
		reqBody = bytes.NewReader(body)
		requestBody = string(body)
	}

	req, err := http.NewRequestWithContext(ctx, wh.Method, wh.URL, reqBody)
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	// Defaults first, then custom headers (which may override them),
	// then the signature header, which custom headers may not override.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}
	if wh.SecretToken != "" {
		req.Header.Set(SignatureHeader, signature.Sign(body, wh.SecretToken))
	}

	sentHeaders := make(map[string]string, len(req.Header))
	for k := range req.Header {
		sentHeaders[k] = req.Header.Get(k)
	}

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: URL is a user-configured webhook destination; SSRF is by design.
	duration := int(time.Since(start).Milliseconds())

	if err != nil {
		return Result{
			Error:          err.Error(),
			TimedOut:       isTimeout(err),
			DurationMs:     duration,
			RequestHeaders: sentHeaders,
			RequestBody:    requestBody,
		}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if readErr != nil {
		return Result{
			StatusCode:     resp.StatusCode,
			Error:          fmt.Sprintf("read response: %v", readErr),
			DurationMs:     duration,
			RequestHeaders: sentHeaders,
			RequestBody:    requestBody,
		}
	}

	return Result{
		StatusCode:     resp.StatusCode,
		ResponseBody:   string(respBody),
		DurationMs:     duration,
		RequestHeaders: sentHeaders,
		RequestBody:    requestBody,
	}
}

// BuildPayload assembles the delivery payload for a webhook event.
func BuildPayload(wh *webhook.Webhook, eventType string, data map[string]any) Payload {
	return Payload{
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Webhook: PayloadWebhook{
			ID:   wh.ID.String(),
			Name: wh.Name,
		},
	}
}

// isTimeout reports whether the transport error was a client-side timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
