package delivery

import (
	"time"

	"github.com/pulsekit/pulse/webhook"
)

// Decision is the outcome of evaluating a delivery attempt.
type Decision int

const (
	// Succeed means the attempt completed with a 2xx response.
	Succeed Decision = iota

	// Retry means the attempt failed but should be tried again later.
	Retry

	// Fail means the delivery is permanently failed.
	Fail
)

// Retrier decides what to do after a delivery attempt.
type Retrier struct{}

// NewRetrier creates a retrier.
func NewRetrier() *Retrier {
	return &Retrier{}
}

// Decide determines what to do with a webhook event after an attempt.
//
// Decision matrix:
//   - 2xx → Succeed
//   - client-side timeout → Fail (the endpoint is too slow to bother retrying)
//   - 408, 429, 5xx → Retry while attempts remain, else Fail
//   - other 4xx → Fail immediately (client error won't self-correct)
//   - 0 with a transport error → Retry while attempts remain, else Fail
func (r *Retrier) Decide(res Result, evt *WebhookEvent, wh *webhook.Webhook) Decision {
	code := res.StatusCode

	if code >= 200 && code < 300 {
		return Succeed
	}

	if res.TimedOut {
		return Fail
	}

	if code == 408 || code == 429 {
		return r.retryOrFail(evt, wh)
	}

	if code >= 400 && code < 500 {
		return Fail
	}

	// 5xx, or 0 with a transport error.
	return r.retryOrFail(evt, wh)
}

// retryOrFail returns Retry while the webhook's retry budget lasts.
// A webhook with retry_attempts = N makes at most N+1 attempts.
func (r *Retrier) retryOrFail(evt *WebhookEvent, wh *webhook.Webhook) Decision {
	if evt.AttemptNumber <= wh.RetryAttempts {
		return Retry
	}
	return Fail
}

// NextAttempt returns when the next attempt should run.
func (r *Retrier) NextAttempt(wh *webhook.Webhook) time.Time {
	return time.Now().UTC().Add(time.Duration(wh.RetryDelaySeconds) * time.Second)
}
