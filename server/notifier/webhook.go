package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
)

// WebhookConfig holds webhook sender configuration.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Headers map[string]string
	// RequestsPerSecond caps outbound calls to the webhook endpoint.
	// Zero means no cap.
	RequestsPerSecond float64
}

// WebhookSender posts notifications to a configured HTTP endpoint.
type WebhookSender struct {
	config     WebhookConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// WebhookPayload is the webhook request body.
type WebhookPayload struct {
	Event     string         `json:"event"`
	Recipient string         `json:"recipient"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(config WebhookConfig, logger *slog.Logger) *WebhookSender {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	return &WebhookSender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
		logger:     logger,
	}
}

// Send posts the message to the webhook endpoint. Network errors and 5xx
// responses are transient; 4xx responses are permanent.
func (s *WebhookSender) Send(ctx context.Context, recipient string, message string, metadata map[string]any) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", serviceerrors.TransientDelivery("rate limit wait aborted", err)
		}
	}

	payload := WebhookPayload{
		Event:     "reminder.delivery",
		Recipient: recipient,
		Message:   message,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", serviceerrors.PermanentDelivery("failed to marshal webhook payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		return "", serviceerrors.PermanentDelivery("failed to build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.config.Secret != "" {
		req.Header.Set("Authorization", "Bearer "+s.config.Secret)
	}
	for k, v := range s.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", serviceerrors.TransientDelivery("webhook request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		ref := parseMessageRef(resp.Body)
		s.logger.Debug("webhook notification sent", "recipient", recipient, "status", resp.StatusCode)
		return ref, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", serviceerrors.TransientDelivery("webhook endpoint unavailable", nil).
			WithContext("status", resp.StatusCode)
	default:
		return "", serviceerrors.PermanentDelivery("webhook endpoint rejected request", nil).
			WithContext("status", resp.StatusCode)
	}
}

// Name returns the sender name.
func (s *WebhookSender) Name() string {
	return "webhook"
}

// parseMessageRef extracts an optional {"messageRef": "..."} from the
// response body. Endpoints that return anything else yield an empty ref.
func parseMessageRef(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var body struct {
		MessageRef string `json:"messageRef"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	return body.MessageRef
}
