package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/livetemplate/formwizard/internal/delivery"
	"github.com/livetemplate/formwizard/internal/form"
)

// Webhook request headers.
const (
	WebhookIDHeader        = "X-Webhook-ID"
	WebhookTimestampHeader = "X-Webhook-Timestamp"
	WebhookSignatureHeader = "X-Webhook-Signature"
)

// WebhookPayload is the JSON body POSTed for each submission.
type WebhookPayload struct {
	ID          string    `json:"id"`
	SubmittedAt time.Time `json:"submittedAt"`
	Data        form.Data `json:"data"`
}

// WebhookSubmitter delivers completed forms to an HTTP endpoint. Any 2xx
// answer is a success. With a secret, the body is signed as
// "sha256=<hex hmac>" in X-Webhook-Signature. Retries resend the same
// payload, so receivers can deduplicate on X-Webhook-ID.
type WebhookSubmitter struct {
	url     string
	secret  string
	client  *http.Client
	now     func() time.Time
	logger  *zap.Logger
	retry   delivery.RetryConfig
	breaker *delivery.CircuitBreaker
}

// NewWebhookSubmitter creates a submitter that POSTs to url.
func NewWebhookSubmitter(url, secret string, timeout time.Duration, logger *zap.Logger) *WebhookSubmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSubmitter{
		url:    url,
		secret: secret,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
		logger:  logger,
		breaker: delivery.NewCircuitBreaker(url, delivery.DefaultCircuitBreakerConfig(), logger),
	}
}

// WithRetry enables retrying transient failures.
func (s *WebhookSubmitter) WithRetry(cfg delivery.RetryConfig) *WebhookSubmitter {
	s.retry = cfg
	return s
}

// Breaker exposes the circuit breaker guarding the endpoint.
func (s *WebhookSubmitter) Breaker() *delivery.CircuitBreaker {
	return s.breaker
}

// Submit implements wizard.Submitter.
func (s *WebhookSubmitter) Submit(ctx context.Context, data form.Data) error {
	payload := WebhookPayload{
		ID:          uuid.NewString(),
		SubmittedAt: s.now().UTC(),
		Data:        data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode submission: %w", err)
	}

	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return delivery.WithRetry(ctx, s.url, s.retry, s.logger, func(ctx context.Context) error {
			return s.post(ctx, payload, body)
		})
	})
}

func (s *WebhookSubmitter) post(ctx context.Context, payload WebhookPayload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(WebhookIDHeader, payload.ID)
	req.Header.Set(WebhookTimestampHeader, strconv.FormatInt(payload.SubmittedAt.Unix(), 10))
	if s.secret != "" {
		req.Header.Set(WebhookSignatureHeader, "sha256="+Sign(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed", zap.String("id", payload.ID), zap.Error(err))
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Limit error response body to prevent memory exhaustion from malicious endpoints
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if len(bodyBytes) > 200 {
			bodyBytes = bodyBytes[:200]
		}
		s.logger.Warn("webhook rejected submission",
			zap.String("id", payload.ID), zap.Int("status", resp.StatusCode))
		return &delivery.StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	s.logger.Info("webhook delivered submission", zap.String("id", payload.ID))
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" header value against body.
// Receivers can use it to authenticate deliveries.
func VerifySignature(body []byte, header, secret string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	return hmac.Equal([]byte(header[len(prefix):]), []byte(Sign(body, secret)))
}
