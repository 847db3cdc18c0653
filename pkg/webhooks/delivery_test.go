package webhooks

import (
	"testing"
	"time"

	"github.com/platinummonkey/rampart/pkg/audit"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestDeliveryLogStore_AddAndGet(t *testing.T) {
	store := NewDeliveryLogStore(10)

	log := store.Add(DeliveryLog{SubscriptionID: 1, EventType: audit.EventTypeRoleAssign, CreatedAt: epoch})
	if log.ID == "" {
		t.Fatal("Expected Add to assign an ID")
	}

	got, ok := store.Get(log.ID)
	if !ok || got.SubscriptionID != 1 {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}

	log.Status = DeliveryStatusSuccess
	store.Update(log)
	got, _ = store.Get(log.ID)
	if got.Status != DeliveryStatusSuccess {
		t.Errorf("Expected updated status, got %s", got.Status)
	}

	store.Update(DeliveryLog{ID: "missing"})
	if _, ok := store.Get("missing"); ok {
		t.Error("Update must not resurrect unknown logs")
	}
}

func TestDeliveryLogStore_Eviction(t *testing.T) {
	store := NewDeliveryLogStore(10)

	var first DeliveryLog
	for i := 0; i < 10; i++ {
		log := store.Add(DeliveryLog{SubscriptionID: 1, CreatedAt: epoch.Add(time.Duration(i) * time.Minute)})
		if i == 0 {
			first = log
		}
	}
	store.Add(DeliveryLog{SubscriptionID: 1, CreatedAt: epoch.Add(time.Hour)})

	if _, ok := store.Get(first.ID); ok {
		t.Error("Expected the oldest log to be evicted")
	}
	if got := len(store.GetBySubscription(1, 0)); got != 10 {
		t.Errorf("Expected 10 logs after eviction, got %d", got)
	}
}

func TestDeliveryLogStore_GetBySubscription(t *testing.T) {
	store := NewDeliveryLogStore(0)
	for i := 0; i < 5; i++ {
		store.Add(DeliveryLog{SubscriptionID: 1, EventID: int64(i), CreatedAt: epoch.Add(time.Duration(i) * time.Second)})
	}
	store.Add(DeliveryLog{SubscriptionID: 2, CreatedAt: epoch})

	logs := store.GetBySubscription(1, 3)
	if len(logs) != 3 {
		t.Fatalf("Expected 3 logs, got %d", len(logs))
	}
	if logs[0].EventID != 4 || logs[2].EventID != 2 {
		t.Errorf("Expected newest first, got events %d..%d", logs[0].EventID, logs[2].EventID)
	}

	if logs := store.GetBySubscription(3, 0); len(logs) != 0 {
		t.Errorf("Expected no logs for unknown subscription, got %d", len(logs))
	}
}

func TestDeliveryLogStore_ClaimRetries(t *testing.T) {
	store := NewDeliveryLogStore(0)
	due := epoch.Add(-time.Minute)
	later := epoch.Add(time.Minute)

	ready := store.Add(DeliveryLog{SubscriptionID: 1, Status: DeliveryStatusRetrying, NextRetryAt: &due, CreatedAt: epoch})
	store.Add(DeliveryLog{SubscriptionID: 1, Status: DeliveryStatusRetrying, NextRetryAt: &later, CreatedAt: epoch})
	store.Add(DeliveryLog{SubscriptionID: 1, Status: DeliveryStatusFailed, NextRetryAt: &due, CreatedAt: epoch})

	claimed := store.ClaimRetries(epoch)
	if len(claimed) != 1 || claimed[0].ID != ready.ID {
		t.Fatalf("ClaimRetries() = %+v, want only the due delivery", claimed)
	}
	if claimed[0].Status != DeliveryStatusPending {
		t.Errorf("Expected claimed delivery to be pending, got %s", claimed[0].Status)
	}

	if again := store.ClaimRetries(epoch); len(again) != 0 {
		t.Errorf("Expected a claimed delivery not to be handed out twice, got %d", len(again))
	}
}

func TestDeliveryLogStore_GetStats(t *testing.T) {
	store := NewDeliveryLogStore(0)
	store.Add(DeliveryLog{SubscriptionID: 1, Status: DeliveryStatusSuccess, Duration: 100 * time.Millisecond})
	store.Add(DeliveryLog{SubscriptionID: 1, Status: DeliveryStatusSuccess, Duration: 300 * time.Millisecond})
	store.Add(DeliveryLog{SubscriptionID: 1, Status: DeliveryStatusFailed, Duration: time.Second})
	store.Add(DeliveryLog{SubscriptionID: 1, Status: DeliveryStatusRetrying})

	stats := store.GetStats(1)
	if stats.Total != 4 || stats.Successful != 2 || stats.Failed != 1 || stats.Retrying != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("Expected success rate 0.5, got %v", stats.SuccessRate)
	}
	if stats.AverageDuration != 200*time.Millisecond {
		t.Errorf("Expected average duration 200ms, got %v", stats.AverageDuration)
	}
}
