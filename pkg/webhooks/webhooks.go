package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/rampart/pkg/async"
	"github.com/platinummonkey/rampart/pkg/audit"
	"github.com/platinummonkey/rampart/pkg/observability"
)

// Delivery headers
const (
	HeaderEvent     = "X-Rampart-Event"
	HeaderEventID   = "X-Rampart-Event-ID"
	HeaderDelivery  = "X-Rampart-Delivery"
	HeaderSignature = "X-Rampart-Signature"
)

var (
	// ErrNotFound indicates that no subscription has the requested ID
	ErrNotFound = errors.New("webhooks: subscription not found")
	// ErrInvalidSubscription indicates a subscription that cannot be delivered to
	ErrInvalidSubscription = errors.New("webhooks: invalid subscription")
)

// Format selects how an event is rendered in the request body
type Format string

const (
	// FormatJSON posts the audit event as is
	FormatJSON Format = "json"
	// FormatSlack posts a Slack incoming-webhook message
	FormatSlack Format = "slack"
)

// Subscription receives the audit events of the listed types
type Subscription struct {
	ID          int64             `json:"id"`
	URL         string            `json:"url"`
	Events      []audit.EventType `json:"events"`
	Secret      string            `json:"-"`
	Format      Format            `json:"format"`
	Active      bool              `json:"active"`
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Validate checks the URL, event types and format
func (s *Subscription) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidSubscription)
	}
	if len(s.Events) == 0 {
		return fmt.Errorf("%w: at least one event type is required", ErrInvalidSubscription)
	}
	for _, e := range s.Events {
		if !e.Valid() {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalidSubscription, e)
		}
	}
	switch s.Format {
	case FormatJSON, FormatSlack:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidSubscription, s.Format)
	}
	return nil
}

// Wants reports whether the subscription listens for t
func (s *Subscription) Wants(t audit.EventType) bool {
	for _, e := range s.Events {
		if e == t {
			return true
		}
	}
	return false
}

// Config tunes delivery
type Config struct {
	Workers       int
	Timeout       time.Duration
	RatePerMinute int
	RetryInterval time.Duration
	MaxLogs       int
	Retry         RetryConfig
}

// DefaultConfig returns the delivery defaults
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		Timeout:       10 * time.Second,
		RatePerMinute: 100,
		RetryInterval: 30 * time.Second,
		MaxLogs:       1000,
		Retry:         DefaultRetryConfig(),
	}
}

// Dispatcher fans audit events out to subscriptions. It implements
// audit.Logger so it can sit next to the database and file sinks;
// Log only queues deliveries and never waits for a subscriber.
type Dispatcher struct {
	store      *Store
	client     *http.Client
	pool       *async.WorkerPool
	deliveries *DeliveryLogStore
	policy     *RetryPolicy
	limiter    *RateLimiter
	interval   time.Duration
	logger     *observability.Logger
	now        func() time.Time
}

// NewDispatcher starts the delivery workers. They stop on Close or when
// ctx is cancelled.
func NewDispatcher(ctx context.Context, store *Store, cfg Config, logger *observability.Logger) *Dispatcher {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}

	logger = logger.WithField("component", "webhooks")
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		pool:       async.NewWorkerPool(ctx, cfg.Workers, "webhook delivery", cfg.Timeout, logger),
		deliveries: NewDeliveryLogStore(cfg.MaxLogs),
		policy:     NewRetryPolicy(cfg.Retry),
		limiter:    NewRateLimiter(cfg.RatePerMinute, time.Minute),
		interval:   cfg.RetryInterval,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Log queues one delivery per active subscription interested in e
func (d *Dispatcher) Log(ctx context.Context, e *audit.Event) error {
	subs, err := d.store.List(ctx, true)
	if err != nil {
		return err
	}

	var errs []error
	for _, sub := range subs {
		if !sub.Wants(e.Type) {
			continue
		}

		body, err := render(sub.Format, e)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		delivery := d.deliveries.Add(DeliveryLog{
			SubscriptionID: sub.ID,
			EventID:        e.ID,
			EventType:      e.Type,
			URL:            sub.URL,
			Status:         DeliveryStatusPending,
			CreatedAt:      d.now(),
			payload:        body,
		})
		if err := d.submit(sub, delivery); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting deliveries and waits for queued ones
func (d *Dispatcher) Close() error {
	return d.pool.Shutdown(d.client.Timeout)
}

// Deliveries returns the newest delivery logs of a subscription
func (d *Dispatcher) Deliveries(subscriptionID int64, limit int) []DeliveryLog {
	return d.deliveries.GetBySubscription(subscriptionID, limit)
}

// Stats summarises the deliveries of a subscription
func (d *Dispatcher) Stats(subscriptionID int64) DeliveryStats {
	return d.deliveries.GetStats(subscriptionID)
}

func (d *Dispatcher) submit(sub *Subscription, delivery DeliveryLog) error {
	return d.pool.Submit(func(ctx context.Context) error {
		return d.attempt(ctx, sub, delivery)
	})
}

// attempt sends one delivery and records the outcome
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, delivery DeliveryLog) error {
	delivery.Attempts++
	start := time.Now()

	err := d.send(ctx, sub, &delivery)
	delivery.Duration = time.Since(start)

	now := d.now()
	switch {
	case err == nil:
		delivery.Status = DeliveryStatusSuccess
		delivery.ErrorMessage = ""
		delivery.NextRetryAt = nil
		delivery.CompletedAt = &now
	case d.policy.ShouldRetry(delivery.Attempts, err):
		next := now.Add(d.policy.NextRetryDelay(delivery.Attempts))
		delivery.Status = DeliveryStatusRetrying
		delivery.ErrorMessage = err.Error()
		delivery.NextRetryAt = &next
	default:
		delivery.Status = DeliveryStatusFailed
		delivery.ErrorMessage = err.Error()
		delivery.NextRetryAt = nil
		delivery.CompletedAt = &now
	}
	d.deliveries.Update(delivery)

	if err != nil {
		return fmt.Errorf("delivery %s to webhook %d (attempt %d): %w", delivery.ID, sub.ID, delivery.Attempts, err)
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, delivery *DeliveryLog) error {
	if !d.limiter.Allow(sub.ID) {
		return fmt.Errorf("rate limit exceeded for webhook %d", sub.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(delivery.payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(delivery.EventType))
	req.Header.Set(HeaderEventID, strconv.FormatInt(delivery.EventID, 10))
	req.Header.Set(HeaderDelivery, delivery.ID)
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, generateSignature(delivery.payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	delivery.StatusCode = resp.StatusCode
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	delivery.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// maxResponseBody bounds how much of a subscriber's reply is kept
const maxResponseBody = 1024

func render(format Format, e *audit.Event) ([]byte, error) {
	var v interface{} = e
	if format == FormatSlack {
		v = slackMessage(e)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return body, nil
}

// VerifySignature checks an X-Rampart-Signature header against payload
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

var _ audit.Logger = (*Dispatcher)(nil)
