package rbac

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rampart/pkg/observability"
)

type purgeLog struct {
	removed []int64
	errs    []error
}

func (p *purgeLog) RecordPurge(removed int64, err error) {
	p.removed = append(p.removed, removed)
	p.errs = append(p.errs, err)
}

func TestJanitorRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.role(t, "temp")
	f.perm(t, "peek")

	_, err := f.manager.AssignRole(ctx, User(1), RoleNamed("temp"), nil, Window{ExpiredAt: at(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = f.manager.AssignPermission(ctx, User(1), PermissionNamed("peek"), nil, Window{ExpiredAt: at(-30 * time.Minute)})
	require.NoError(t, err)
	_, err = f.manager.AssignRole(ctx, User(2), RoleNamed("temp"), nil, Window{})
	require.NoError(t, err)

	var buf bytes.Buffer
	rec := &purgeLog{}
	j := NewJanitor(f.store, time.Hour).
		WithClock(f.clock).
		WithRecorder(rec).
		WithLogger(observability.NewLogger(observability.InfoLevel, &buf))

	removed, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	assert.Contains(t, buf.String(), "Purged expired assignments")

	f.clock.Advance(time.Hour)
	removed, err = j.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	removed, err = j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	assert.Equal(t, []int64{1, 1, 0}, rec.removed)

	assignments, err := f.store.RoleAssignments(ctx, User(2))
	require.NoError(t, err)
	assert.Len(t, assignments, 1)
}

func TestJanitorStartStop(t *testing.T) {
	f := newFixture(t)
	j := NewJanitor(f.store, 0)

	assert.Error(t, j.Start("not a schedule"))

	require.NoError(t, j.Start(DefaultPurgeSchedule))
	assert.Error(t, j.Start(DefaultPurgeSchedule))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Stop(ctx))
	require.NoError(t, j.Stop(ctx))
}
