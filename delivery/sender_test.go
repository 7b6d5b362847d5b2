package delivery_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pulsekit/pulse/delivery"
	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/signature"
	"github.com/pulsekit/pulse/webhook"
)

func testWebhook(url, method string) *webhook.Webhook {
	return &webhook.Webhook{
		Entity:         entity.New(),
		ID:             id.NewWebhookID(),
		Name:           "orders hook",
		URL:            url,
		Method:         method,
		TimeoutSeconds: 5,
	}
}

func TestSendPostPayload(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "POST")
	wh.Headers = map[string]string{"X-Custom": "yes"}

	sender := delivery.NewSender()
	payload := delivery.BuildPayload(wh, "order.created", map[string]any{"order_id": "ord-1"})
	res := sender.Send(context.Background(), wh, payload)

	if res.StatusCode != 200 {
		t.Fatalf("status = %d, want 200 (error %q)", res.StatusCode, res.Error)
	}
	if res.ResponseBody != "ok" {
		t.Errorf("response body = %q", res.ResponseBody)
	}

	var sent map[string]any
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("unmarshal sent body: %v", err)
	}
	if sent["event_type"] != "order.created" {
		t.Errorf("event_type = %v", sent["event_type"])
	}
	whInfo, _ := sent["webhook"].(map[string]any)
	if whInfo["id"] != wh.ID.String() || whInfo["name"] != wh.Name {
		t.Errorf("webhook info = %v", whInfo)
	}
	if _, err := time.Parse(time.RFC3339, sent["timestamp"].(string)); err != nil {
		t.Errorf("timestamp not RFC3339: %v", err)
	}

	if gotHeader.Get("Content-Type") != "application/json" {
		t.Errorf("content type = %q", gotHeader.Get("Content-Type"))
	}
	if gotHeader.Get("X-Custom") != "yes" {
		t.Errorf("custom header missing")
	}
	if gotHeader.Get(delivery.SignatureHeader) != "" {
		t.Errorf("unsigned webhook must not send a signature header")
	}
}

func TestSendSignsWhenSecretConfigured(t *testing.T) {
	var gotBody []byte
	var gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(delivery.SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "POST")
	wh.SecretToken = "whsec_testsecret"

	sender := delivery.NewSender()
	res := sender.Send(context.Background(), wh, delivery.BuildPayload(wh, "order.created", nil))
	if res.Error != "" {
		t.Fatalf("send error: %v", res.Error)
	}

	if gotSig == "" {
		t.Fatal("signature header missing")
	}
	if want := signature.Sign(gotBody, wh.SecretToken); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
	if !signature.Verify(gotBody, wh.SecretToken, gotSig) {
		t.Error("receiver-side verification failed")
	}
}

func TestSendSignatureNotOverridable(t *testing.T) {
	var gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get(delivery.SignatureHeader)
		if !signature.Verify(body, "whsec_real", gotSig) {
			t.Error("signature does not match the real secret")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "POST")
	wh.SecretToken = "whsec_real"
	wh.Headers = map[string]string{delivery.SignatureHeader: "spoofed"}

	sender := delivery.NewSender()
	sender.Send(context.Background(), wh, delivery.BuildPayload(wh, "order.created", nil))

	if gotSig == "spoofed" {
		t.Error("custom header overrode the signature")
	}
}

func TestSendGetOmitsBody(t *testing.T) {
	var gotBody []byte
	var gotMethod string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "GET")
	sender := delivery.NewSender()
	res := sender.Send(context.Background(), wh, delivery.BuildPayload(wh, "order.created", nil))

	if gotMethod != "GET" {
		t.Errorf("method = %q", gotMethod)
	}
	if len(gotBody) != 0 {
		t.Errorf("GET delivery sent a body: %q", gotBody)
	}
	if res.RequestBody != "" {
		t.Errorf("GET result snapshot has a body")
	}
}

func TestSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "POST")
	wh.TimeoutSeconds = 1

	sender := delivery.NewSender()
	res := sender.Send(context.Background(), wh, delivery.BuildPayload(wh, "order.created", nil))

	if !res.TimedOut {
		t.Errorf("expected timeout, got status %d error %q", res.StatusCode, res.Error)
	}
}

func TestSendTruncatesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", delivery.MaxResponseBody+5000))
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "POST")
	sender := delivery.NewSender()
	res := sender.Send(context.Background(), wh, delivery.BuildPayload(wh, "order.created", nil))

	if len(res.ResponseBody) != delivery.MaxResponseBody {
		t.Errorf("response body length = %d, want %d", len(res.ResponseBody), delivery.MaxResponseBody)
	}
}

func TestSendConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed immediately: connection refused

	wh := testWebhook(srv.URL, "POST")
	sender := delivery.NewSender()
	res := sender.Send(context.Background(), wh, delivery.BuildPayload(wh, "order.created", nil))

	if res.StatusCode != 0 || res.Error == "" {
		t.Errorf("expected transport error, got status %d error %q", res.StatusCode, res.Error)
	}
	if res.TimedOut {
		t.Error("connection refused should not classify as timeout")
	}
}
