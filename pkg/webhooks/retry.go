package webhooks

import (
	"context"
	"errors"
	"math"
	"time"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// RetryPolicy implements exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling unset fields with defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a delivery that failed with err after
// attempts tries gets another one
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	return err != nil && attempts < p.config.MaxAttempts
}

// NextRetryDelay is initialDelay * multiplier^(attempts-1), capped at MaxDelay
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}

	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// RunRetries resubmits due deliveries every retry interval until ctx is done
func (d *Dispatcher) RunRetries(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.processRetries(ctx)
		}
	}
}

func (d *Dispatcher) processRetries(ctx context.Context) {
	for _, delivery := range d.deliveries.ClaimRetries(d.now()) {
		sub, err := d.store.Get(ctx, delivery.SubscriptionID)
		switch {
		case errors.Is(err, ErrNotFound):
			d.fail(delivery, "webhook no longer exists")
			continue
		case err != nil:
			// put it back for the next sweep
			delivery.Status = DeliveryStatusRetrying
			d.deliveries.Update(delivery)
			d.logger.WithError(err).Warn("failed to load webhook for retry")
			continue
		case !sub.Active:
			d.fail(delivery, "webhook is inactive")
			continue
		}

		if err := d.submit(sub, delivery); err != nil {
			delivery.Status = DeliveryStatusRetrying
			d.deliveries.Update(delivery)
		}
	}
}

func (d *Dispatcher) fail(delivery DeliveryLog, reason string) {
	now := d.now()
	delivery.Status = DeliveryStatusFailed
	delivery.ErrorMessage = reason
	delivery.NextRetryAt = nil
	delivery.CompletedAt = &now
	d.deliveries.Update(delivery)
}
