package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rampart/pkg/database"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedEvents(t *testing.T, l *DBLogger) {
	t.Helper()
	ctx := context.Background()
	events := []*Event{
		{OccurredAt: base, Type: EventTypeRoleAssign, Actor: "user:1", Principal: "user:2", Target: "editor", Context: "team:3"},
		{OccurredAt: base.Add(time.Minute), Type: EventTypePermissionAssign, Principal: "user:2", Target: "view",
			Metadata: map[string]interface{}{"expired_at": "2027-01-01T00:00:00Z"}},
		{OccurredAt: base.Add(2 * time.Minute), Type: EventTypeRoleRevoke, Actor: "user:1", Principal: "user:2", Target: "editor", Context: "team:3", Removed: 2},
		{OccurredAt: base.Add(3 * time.Minute), Type: EventTypeRoleAssign, Actor: "user:1", Principal: "user:5", Target: "viewer"},
	}
	for _, e := range events {
		require.NoError(t, l.Log(ctx, e))
		assert.NotZero(t, e.ID)
	}
}

func TestDBLoggerSearch(t *testing.T) {
	l, err := NewDBLogger(database.NewTestSQLite(t))
	require.NoError(t, err)
	seedEvents(t, l)
	ctx := context.Background()

	since := base.Add(time.Minute)
	until := base.Add(3 * time.Minute)

	tests := []struct {
		name    string
		filter  SearchFilter
		targets []string
	}{
		{"everything newest first", SearchFilter{}, []string{"viewer", "editor", "view", "editor"}},
		{"by principal", SearchFilter{Principal: "user:5"}, []string{"viewer"}},
		{"by actor", SearchFilter{Actor: "user:1", Limit: 2}, []string{"viewer", "editor"}},
		{"by types", SearchFilter{Types: []EventType{EventTypeRoleRevoke, EventTypePermissionAssign}}, []string{"editor", "view"}},
		{"time range is half open", SearchFilter{Since: &since, Until: &until}, []string{"editor", "view"}},
		{"offset", SearchFilter{Offset: 3}, []string{"editor"}},
		{"no match", SearchFilter{Principal: "user:9"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := l.Search(ctx, tt.filter)
			require.NoError(t, err)
			targets := []string{}
			for _, e := range events {
				targets = append(targets, e.Target)
			}
			assert.Equal(t, tt.targets, targets)
		})
	}
}

func TestDBLoggerGet(t *testing.T) {
	l, err := NewDBLogger(database.NewTestSQLite(t))
	require.NoError(t, err)
	seedEvents(t, l)
	ctx := context.Background()

	e, err := l.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, EventTypePermissionAssign, e.Type)
	assert.Empty(t, e.Actor)
	assert.Empty(t, e.Context)
	assert.Equal(t, "2027-01-01T00:00:00Z", e.Metadata["expired_at"])
	assert.True(t, base.Add(time.Minute).Equal(e.OccurredAt))

	e, err = l.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Removed)
	assert.Equal(t, "team:3", e.Context)

	_, err = l.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDBLoggerErrors(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l, err := NewDBLogger(db)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO rbac_audit_log").WillReturnError(errors.New("disk full"))
	err = l.Log(context.Background(), &Event{OccurredAt: base, Type: EventTypeRoleAssign, Principal: "user:1", Target: "x"})
	assert.ErrorContains(t, err, "disk full")

	mock.ExpectQuery("SELECT id, occurred_at").WillReturnError(errors.New("gone"))
	_, err = l.Search(context.Background(), SearchFilter{})
	assert.ErrorContains(t, err, "failed to search audit events")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLimit(t *testing.T) {
	assert.Equal(t, DefaultSearchLimit, limit(0))
	assert.Equal(t, 5, limit(5))
	assert.Equal(t, MaxSearchLimit, limit(MaxSearchLimit+1))
}
