package webhook

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/pulsekit/pulse/id"
	"github.com/pulsekit/pulse/internal/entity"
	"github.com/pulsekit/pulse/signature"
)

// Defaults applied on create when the input leaves them unset.
const (
	DefaultMethod            = "POST"
	DefaultRetryAttempts     = 3
	DefaultRetryDelaySeconds = 60
	DefaultTimeoutSeconds    = 30
)

// allowedMethods are the HTTP methods a webhook may be configured with.
var allowedMethods = map[string]bool{
	"GET":    true,
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Service provides webhook registry operations.
//
// The registry deliberately has no cache: delivery volume, not
// registry-read volume, is the hot path, and every call re-reads the store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new webhook service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Create registers a new webhook.
func (svc *Service) Create(ctx context.Context, in Input) (*Webhook, error) {
	if in.Name == "" {
		return nil, &ValidationError{Field: "name", Message: "required"}
	}
	if _, err := url.ParseRequestURI(in.URL); err != nil {
		return nil, &ValidationError{Field: "url", Message: "invalid URL"}
	}
	if len(in.Events) == 0 {
		return nil, &ValidationError{Field: "events", Message: "at least one event type required"}
	}

	method := strings.ToUpper(in.Method)
	if method == "" {
		method = DefaultMethod
	}
	if !allowedMethods[method] {
		return nil, &ValidationError{Field: "method", Message: "unsupported HTTP method"}
	}

	retryAttempts := DefaultRetryAttempts
	if in.RetryAttempts != nil {
		if *in.RetryAttempts < 0 {
			return nil, &ValidationError{Field: "retry_attempts", Message: "must be >= 0"}
		}
		retryAttempts = *in.RetryAttempts
	}

	retryDelay := DefaultRetryDelaySeconds
	if in.RetryDelaySeconds != nil {
		if *in.RetryDelaySeconds < 0 {
			return nil, &ValidationError{Field: "retry_delay_seconds", Message: "must be >= 0"}
		}
		retryDelay = *in.RetryDelaySeconds
	}

	timeout := DefaultTimeoutSeconds
	if in.TimeoutSeconds != nil {
		if *in.TimeoutSeconds <= 0 {
			return nil, &ValidationError{Field: "timeout_seconds", Message: "must be > 0"}
		}
		timeout = *in.TimeoutSeconds
	}

	rateLimit := 0
	if in.RateLimit != nil {
		if *in.RateLimit < 0 {
			return nil, &ValidationError{Field: "rate_limit", Message: "must be >= 0"}
		}
		rateLimit = *in.RateLimit
	}

	secret := in.SecretToken
	if secret == "" {
		secret = signature.GenerateSecret()
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	wh := &Webhook{
		Entity:            entity.New(),
		ID:                id.NewWebhookID(),
		AgencyID:          in.AgencyID,
		Name:              in.Name,
		Description:       in.Description,
		URL:               in.URL,
		Method:            method,
		Headers:           in.Headers,
		SecretToken:       secret,
		Events:            in.Events,
		IsActive:          active,
		RetryAttempts:     retryAttempts,
		RetryDelaySeconds: retryDelay,
		TimeoutSeconds:    timeout,
		RateLimit:         rateLimit,
		Filters:           in.Filters,
	}

	if err := svc.store.CreateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	return wh, nil
}

// Get returns a webhook by ID.
func (svc *Service) Get(ctx context.Context, whID id.ID) (*Webhook, error) {
	return svc.store.GetWebhook(ctx, whID)
}

// Update modifies an existing webhook.
func (svc *Service) Update(ctx context.Context, whID id.ID, in Input) (*Webhook, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return nil, err
	}

	if in.Name != "" {
		wh.Name = in.Name
	}
	if in.Description != "" {
		wh.Description = in.Description
	}
	if in.URL != "" {
		if _, err := url.ParseRequestURI(in.URL); err != nil {
			return nil, &ValidationError{Field: "url", Message: "invalid URL"}
		}
		wh.URL = in.URL
	}
	if in.Method != "" {
		method := strings.ToUpper(in.Method)
		if !allowedMethods[method] {
			return nil, &ValidationError{Field: "method", Message: "unsupported HTTP method"}
		}
		wh.Method = method
	}
	if in.Headers != nil {
		wh.Headers = in.Headers
	}
	if len(in.Events) > 0 {
		wh.Events = in.Events
	}
	if in.RetryAttempts != nil {
		if *in.RetryAttempts < 0 {
			return nil, &ValidationError{Field: "retry_attempts", Message: "must be >= 0"}
		}
		wh.RetryAttempts = *in.RetryAttempts
	}
	if in.RetryDelaySeconds != nil {
		if *in.RetryDelaySeconds < 0 {
			return nil, &ValidationError{Field: "retry_delay_seconds", Message: "must be >= 0"}
		}
		wh.RetryDelaySeconds = *in.RetryDelaySeconds
	}
	if in.TimeoutSeconds != nil {
		if *in.TimeoutSeconds <= 0 {
			return nil, &ValidationError{Field: "timeout_seconds", Message: "must be > 0"}
		}
		wh.TimeoutSeconds = *in.TimeoutSeconds
	}
	if in.RateLimit != nil {
		if *in.RateLimit < 0 {
			return nil, &ValidationError{Field: "rate_limit", Message: "must be >= 0"}
		}
		wh.RateLimit = *in.RateLimit
	}
	if in.Filters != nil {
		wh.Filters = in.Filters
	}
	if in.IsActive != nil {
		wh.IsActive = *in.IsActive
	}

	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return nil, err
	}

	return wh, nil
}

// Delete removes a webhook.
func (svc *Service) Delete(ctx context.Context, whID id.ID) error {
	return svc.store.DeleteWebhook(ctx, whID)
}

// List returns webhooks, optionally filtered by scope and activity.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Webhook, error) {
	return svc.store.ListWebhooks(ctx, opts)
}

// RotateSecret generates a new signing secret for a webhook.
func (svc *Service) RotateSecret(ctx context.Context, whID id.ID) (string, error) {
	wh, err := svc.store.GetWebhook(ctx, whID)
	if err != nil {
		return "", err
	}

	newSecret := signature.GenerateSecret()

	wh.SecretToken = newSecret
	if err := svc.store.UpdateWebhook(ctx, wh); err != nil {
		return "", err
	}

	return newSecret, nil
}
