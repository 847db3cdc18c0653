package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/rampart/pkg/contextkeys"
	"github.com/platinummonkey/rampart/pkg/observability"
	"github.com/platinummonkey/rampart/pkg/rbac"
)

// Trail turns grants and revokes into audit events. Write failures are
// logged and never fail the grant itself.
type Trail struct {
	logger Logger
	errors *observability.Logger
	now    func() time.Time
}

// NewTrail creates a trail writing to logger
func NewTrail(logger Logger, errors *observability.Logger) *Trail {
	return &Trail{
		logger: logger,
		errors: errors,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AuditAssignment implements rbac.Auditor
func (t *Trail) AuditAssignment(ctx context.Context, e rbac.AssignmentEvent) {
	event := &Event{
		OccurredAt: t.now(),
		Type:       EventType(e.Kind + "." + e.Operation),
		Principal:  e.Principal.String(),
		Target:     e.Name,
		Removed:    e.Removed,
		RequestID:  contextkeys.GetRequestID(ctx),
	}
	if e.Context != nil {
		event.Context = e.Context.String()
	}
	if actor, ok := rbac.PrincipalFromContext(ctx); ok {
		event.Actor = actor.String()
	}
	if e.Window.ActivatedAt != nil || e.Window.ExpiredAt != nil {
		event.Metadata = map[string]interface{}{}
		if e.Window.ActivatedAt != nil {
			event.Metadata["activated_at"] = e.Window.ActivatedAt.UTC().Format(time.RFC3339)
		}
		if e.Window.ExpiredAt != nil {
			event.Metadata["expired_at"] = e.Window.ExpiredAt.UTC().Format(time.RFC3339)
		}
	}

	if err := t.logger.Log(ctx, event); err != nil {
		t.errors.WithError(err).
			WithField("event_type", string(event.Type)).
			WithField("principal", event.Principal).
			Error("failed to write audit event")
	}
}

var _ rbac.Auditor = (*Trail)(nil)
