package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rampart/pkg/async"
	"github.com/platinummonkey/rampart/pkg/audit"
	"github.com/platinummonkey/rampart/pkg/database"
	"github.com/platinummonkey/rampart/pkg/observability"
)

type received struct {
	header http.Header
	body   []byte
}

// receiver records requests and answers with the queued status codes, then 200
type receiver struct {
	mu       sync.Mutex
	requests []received
	statuses []int
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.requests = append(rc.requests, received{header: r.Header.Clone(), body: body})
	status := http.StatusOK
	if len(rc.statuses) > 0 {
		status, rc.statuses = rc.statuses[0], rc.statuses[1:]
	}
	rc.mu.Unlock()
	w.WriteHeader(status)
	_, _ = w.Write([]byte("ok"))
}

func (rc *receiver) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.requests)
}

func (rc *receiver) last() received {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.requests[len(rc.requests)-1]
}

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *Store) {
	t.Helper()
	store := NewStore(database.NewTestSQLite(t))
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(ctx, store, cfg, logger)
	t.Cleanup(func() {
		_ = d.Close()
		cancel()
	})
	return d, store
}

func grantEvent() *audit.Event {
	return &audit.Event{
		ID:         42,
		OccurredAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Type:       audit.EventTypeRoleAssign,
		Actor:      "user:1",
		Principal:  "user:7",
		Target:     "editor",
		Context:    "organization:3",
	}
}

func TestSubscriptionValidate(t *testing.T) {
	valid := func() *Subscription {
		return &Subscription{
			URL:    "https://hooks.example.com/rbac",
			Events: []audit.EventType{audit.EventTypeRoleAssign},
			Format: FormatJSON,
		}
	}

	tests := []struct {
		name   string
		mutate func(s *Subscription)
		ok     bool
	}{
		{"valid", func(s *Subscription) {}, true},
		{"slack", func(s *Subscription) { s.Format = FormatSlack }, true},
		{"relative url", func(s *Subscription) { s.URL = "/hook" }, false},
		{"ftp url", func(s *Subscription) { s.URL = "ftp://example.com" }, false},
		{"no events", func(s *Subscription) { s.Events = nil }, false},
		{"unknown event", func(s *Subscription) { s.Events = []audit.EventType{"module.created"} }, false},
		{"unknown format", func(s *Subscription) { s.Format = "xml" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidSubscription)
			}
		})
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event_type":"role.assign"}`)
	signature := generateSignature(payload, "s3cret")

	assert.True(t, VerifySignature(payload, signature, "s3cret"))
	assert.False(t, VerifySignature(payload, signature, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), signature, "s3cret"))
}

func TestStoreCRUD(t *testing.T) {
	store := NewStore(database.NewTestSQLite(t))
	ctx := context.Background()

	sub := &Subscription{
		URL:    "https://hooks.example.com/a",
		Events: []audit.EventType{audit.EventTypeRoleAssign, audit.EventTypeRoleRevoke},
		Secret: "s3cret",
	}
	require.NoError(t, store.Create(ctx, sub))
	assert.NotZero(t, sub.ID)
	assert.True(t, sub.Active)
	assert.Equal(t, FormatJSON, sub.Format)

	err := store.Create(ctx, &Subscription{URL: "nope", Events: sub.Events})
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	got, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Events, got.Events)
	assert.Equal(t, "s3cret", got.Secret)

	updated, err := store.Update(ctx, sub.ID, &Subscription{Format: FormatSlack, Description: "chatops"})
	require.NoError(t, err)
	assert.Equal(t, FormatSlack, updated.Format)
	assert.Equal(t, sub.URL, updated.URL)

	require.NoError(t, store.SetActive(ctx, sub.ID, false))
	active, err := store.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := store.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, store.Delete(ctx, sub.ID))
	_, err = store.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, sub.ID), ErrNotFound)
	assert.ErrorIs(t, store.SetActive(ctx, sub.ID, true), ErrNotFound)
}

func TestDispatcherDelivers(t *testing.T) {
	rc := &receiver{}
	server := httptest.NewServer(rc)
	defer server.Close()

	d, store := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	signed := &Subscription{URL: server.URL, Events: []audit.EventType{audit.EventTypeRoleAssign}, Secret: "s3cret"}
	require.NoError(t, store.Create(ctx, signed))
	uninterested := &Subscription{URL: server.URL, Events: []audit.EventType{audit.EventTypePermissionRevoke}}
	require.NoError(t, store.Create(ctx, uninterested))

	require.NoError(t, d.Log(ctx, grantEvent()))
	require.Eventually(t, func() bool {
		return len(d.Deliveries(signed.ID, 0)) == 1 && d.Deliveries(signed.ID, 0)[0].Status == DeliveryStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, rc.count())
	req := rc.last()
	assert.Equal(t, "role.assign", req.header.Get(HeaderEvent))
	assert.Equal(t, "42", req.header.Get(HeaderEventID))
	assert.NotEmpty(t, req.header.Get(HeaderDelivery))
	assert.True(t, VerifySignature(req.body, req.header.Get(HeaderSignature), "s3cret"))

	var event audit.Event
	require.NoError(t, json.Unmarshal(req.body, &event))
	assert.Equal(t, "editor", event.Target)

	assert.Empty(t, d.Deliveries(uninterested.ID, 0))
	stats := d.Stats(signed.ID)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestDispatcherSlackFormat(t *testing.T) {
	rc := &receiver{}
	server := httptest.NewServer(rc)
	defer server.Close()

	d, store := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	sub := &Subscription{URL: server.URL, Events: audit.EventTypes(), Format: FormatSlack}
	require.NoError(t, store.Create(ctx, sub))

	require.NoError(t, d.Log(ctx, grantEvent()))
	require.Eventually(t, func() bool { return rc.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	var msg SlackMessage
	require.NoError(t, json.Unmarshal(rc.last().body, &msg))
	assert.Equal(t, "user:7 was granted role *editor* in organization:3", msg.Text)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "good", msg.Attachments[0].Color)
	assert.Contains(t, msg.Attachments[0].Fields, SlackField{Title: "Changed by", Value: "user:1", Short: true})
	assert.Empty(t, rc.last().header.Get(HeaderSignature))
}

func TestDispatcherRetries(t *testing.T) {
	rc := &receiver{statuses: []int{http.StatusServiceUnavailable}}
	server := httptest.NewServer(rc)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	d, store := newTestDispatcher(t, cfg)
	ctx := context.Background()

	sub := &Subscription{URL: server.URL, Events: []audit.EventType{audit.EventTypeRoleAssign}}
	require.NoError(t, store.Create(ctx, sub))
	require.NoError(t, d.Log(ctx, grantEvent()))

	require.Eventually(t, func() bool {
		logs := d.Deliveries(sub.ID, 0)
		return len(logs) == 1 && logs[0].Status == DeliveryStatusRetrying
	}, 2*time.Second, 10*time.Millisecond)
	first := d.Deliveries(sub.ID, 0)[0]
	assert.Equal(t, http.StatusServiceUnavailable, first.StatusCode)
	assert.Contains(t, first.ErrorMessage, "non-2xx")

	time.Sleep(5 * time.Millisecond)
	d.processRetries(ctx)

	require.Eventually(t, func() bool {
		return d.Deliveries(sub.ID, 0)[0].Status == DeliveryStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
	final := d.Deliveries(sub.ID, 0)[0]
	assert.Equal(t, 2, final.Attempts)
	assert.Equal(t, 2, rc.count())
	assert.Equal(t, rc.requests[0].body, rc.requests[1].body, "retries resend the original payload")
}

func TestDispatcherDropsRetriesForRemovedWebhooks(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Retry = RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	d, store := newTestDispatcher(t, cfg)
	ctx := context.Background()

	sub := &Subscription{URL: server.URL, Events: []audit.EventType{audit.EventTypeRoleAssign}}
	require.NoError(t, store.Create(ctx, sub))
	require.NoError(t, d.Log(ctx, grantEvent()))
	require.Eventually(t, func() bool {
		logs := d.Deliveries(sub.ID, 0)
		return len(logs) == 1 && logs[0].Status == DeliveryStatusRetrying
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Delete(ctx, sub.ID))
	time.Sleep(5 * time.Millisecond)
	d.processRetries(ctx)

	final := d.Deliveries(sub.ID, 0)[0]
	assert.Equal(t, DeliveryStatusFailed, final.Status)
	assert.Equal(t, "webhook no longer exists", final.ErrorMessage)
	assert.Equal(t, int32(1), hits.Load())
}

func TestDispatcherLogAfterClose(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Subscription{URL: "http://127.0.0.1:1", Events: audit.EventTypes()}))
	require.NoError(t, d.Close())

	err := d.Log(ctx, grantEvent())
	assert.True(t, errors.Is(err, async.ErrPoolClosed), "got %v", err)
}
