package webhook

// Input is the creation/update payload for webhooks.
type Input struct {
	// AgencyID optionally scopes the webhook to a tenant.
	AgencyID string `json:"agency_id,omitempty"`

	// Name is a human-readable webhook name. Required on create.
	Name string `json:"name"`

	// Description explains what the webhook is for.
	Description string `json:"description,omitempty"`

	// URL is the delivery URL. Required on create.
	URL string `json:"url"`

	// Method is the HTTP method. Defaults to POST.
	Method string `json:"method,omitempty"`

	// Headers are custom HTTP headers merged into each delivery request.
	Headers map[string]string `json:"headers,omitempty"`

	// SecretToken is the HMAC signing secret. Auto-generated if empty on create.
	SecretToken string `json:"secret_token,omitempty"`

	// Events are the subscribed event type names. Required on create.
	Events []string `json:"events"`

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts *int `json:"retry_attempts,omitempty"`

	// RetryDelaySeconds is the delay between attempts.
	RetryDelaySeconds *int `json:"retry_delay_seconds,omitempty"`

	// TimeoutSeconds bounds each HTTP attempt.
	TimeoutSeconds *int `json:"timeout_seconds,omitempty"`

	// RateLimit caps deliveries per second. Zero means unlimited.
	RateLimit *int `json:"rate_limit,omitempty"`

	// Filters gate deliveries by field equality against the event data.
	Filters map[string]any `json:"filters,omitempty"`

	// IsActive toggles the webhook. New webhooks default to active.
	IsActive *bool `json:"is_active,omitempty"`
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "webhook validation: " + e.Field + ": " + e.Message
}
