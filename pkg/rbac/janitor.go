package rbac

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/rampart/pkg/observability"
)

// DefaultPurgeSchedule runs the janitor at five past every hour
const DefaultPurgeSchedule = "5 * * * *"

// PurgeRecorder observes janitor runs
type PurgeRecorder interface {
	RecordPurge(removed int64, err error)
}

// Janitor periodically deletes assignments whose expiry passed more than
// a grace period ago. Expired assignments never grant access, so purging
// only reclaims space.
type Janitor struct {
	store    *Store
	clock    Clock
	grace    time.Duration
	logger   *observability.Logger
	recorder PurgeRecorder

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor creates a janitor over store
func NewJanitor(store *Store, grace time.Duration) *Janitor {
	return &Janitor{
		store:  store,
		clock:  SystemClock(),
		grace:  grace,
		logger: observability.NewLogger(observability.InfoLevel, os.Stdout),
	}
}

// WithClock replaces the system clock
func (j *Janitor) WithClock(c Clock) *Janitor {
	j.clock = c
	return j
}

// WithLogger sets the janitor logger
func (j *Janitor) WithLogger(logger *observability.Logger) *Janitor {
	if logger != nil {
		j.logger = logger
	}
	return j
}

// WithRecorder sets the purge recorder
func (j *Janitor) WithRecorder(r PurgeRecorder) *Janitor {
	j.recorder = r
	return j
}

// RunOnce purges every assignment that expired before now minus the grace period
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.clock.Now().Add(-j.grace)
	removed, err := j.store.PurgeExpired(ctx, cutoff)
	if j.recorder != nil {
		j.recorder.RecordPurge(removed, err)
	}

	logger := j.logger.WithFields(map[string]interface{}{
		"cutoff":  cutoff.Format(time.RFC3339),
		"removed": removed,
	})
	if err != nil {
		logger.WithError(err).Error("Purge of expired assignments failed")
		return removed, err
	}
	if removed > 0 {
		logger.Info("Purged expired assignments")
	} else {
		logger.Debug("No expired assignments to purge")
	}
	return removed, nil
}

// Start schedules RunOnce on a cron spec. Calling Start twice is an error.
func (j *Janitor) Start(schedule string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(j.logger, "rbac.janitor")
		_, _ = j.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}

	c.Start()
	j.cron = c
	j.logger.WithField("schedule", schedule).Info("Janitor started")
	return nil
}

// Stop halts the schedule and waits for a running purge, or for ctx
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
