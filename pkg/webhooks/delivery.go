package webhooks

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/rampart/pkg/audit"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusFailed   DeliveryStatus = "failed"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
)

// DeliveryLog tracks one event on its way to one subscription
type DeliveryLog struct {
	ID             string          `json:"id"`
	SubscriptionID int64           `json:"subscription_id"`
	EventID        int64           `json:"event_id"`
	EventType      audit.EventType `json:"event_type"`
	URL            string          `json:"url"`
	Status         DeliveryStatus  `json:"status"`
	StatusCode     int             `json:"status_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Attempts       int             `json:"attempts"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Duration       time.Duration   `json:"duration,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`

	// payload is the rendered body, resent unchanged on retries
	payload []byte
}

// DeliveryLogStore keeps the most recent delivery logs in memory.
// Logs are stored and returned by value.
type DeliveryLogStore struct {
	mu      sync.RWMutex
	logs    map[string]DeliveryLog
	maxLogs int
}

// NewDeliveryLogStore creates a store holding at most maxLogs entries
func NewDeliveryLogStore(maxLogs int) *DeliveryLogStore {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &DeliveryLogStore{
		logs:    make(map[string]DeliveryLog),
		maxLogs: maxLogs,
	}
}

// Add assigns an ID and stores log, evicting the oldest entries when full
func (s *DeliveryLogStore) Add(log DeliveryLog) DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.logs) >= s.maxLogs {
		s.evictOldest()
	}
	log.ID = uuid.NewString()
	s.logs[log.ID] = log
	return log
}

// Get retrieves a delivery log by ID
func (s *DeliveryLogStore) Get(id string) (DeliveryLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	return log, ok
}

// Update replaces a stored log. Logs evicted in the meantime stay gone.
func (s *DeliveryLogStore) Update(log DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[log.ID]; ok {
		s.logs[log.ID] = log
	}
}

// GetBySubscription returns the newest logs of a subscription first
func (s *DeliveryLogStore) GetBySubscription(subscriptionID int64, limit int) []DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []DeliveryLog{}
	for _, log := range s.logs {
		if log.SubscriptionID == subscriptionID {
			result = append(result, log)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// ClaimRetries returns the logs due for a retry at now and marks them
// pending so the next sweep skips them while they are in flight.
func (s *DeliveryLogStore) ClaimRetries(now time.Time) []DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []DeliveryLog
	for id, log := range s.logs {
		if log.Status != DeliveryStatusRetrying || log.NextRetryAt == nil || log.NextRetryAt.After(now) {
			continue
		}
		log.Status = DeliveryStatusPending
		s.logs[id] = log
		due = append(due, log)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	return due
}

// evictOldest removes the oldest tenth of the logs
func (s *DeliveryLogStore) evictOldest() {
	logs := make([]DeliveryLog, 0, len(s.logs))
	for _, log := range s.logs {
		logs = append(logs, log)
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].CreatedAt.Before(logs[j].CreatedAt)
	})

	evict := max(len(logs)/10, 1)
	for _, log := range logs[:min(evict, len(logs))] {
		delete(s.logs, log.ID)
	}
}

// DeliveryStats summarises the deliveries of one subscription
type DeliveryStats struct {
	SubscriptionID  int64         `json:"subscription_id"`
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Retrying        int           `json:"retrying"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}

// GetStats returns delivery statistics for a subscription
func (s *DeliveryLogStore) GetStats(subscriptionID int64) DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := DeliveryStats{SubscriptionID: subscriptionID}
	var successDuration time.Duration
	for _, log := range s.logs {
		if log.SubscriptionID != subscriptionID {
			continue
		}
		stats.Total++
		switch log.Status {
		case DeliveryStatusSuccess:
			stats.Successful++
			successDuration += log.Duration
		case DeliveryStatusFailed:
			stats.Failed++
		case DeliveryStatusRetrying:
			stats.Retrying++
		}
	}

	if stats.Successful > 0 {
		stats.AverageDuration = successDuration / time.Duration(stats.Successful)
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}
