package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DBLogger stores audit events in the rbac_audit_log table created by
// the database migrations. It works on both Postgres and SQLite.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit store
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

const selectEvents = `
	SELECT id, occurred_at, event_type, actor, principal, target, context, removed, request_id, metadata
	FROM rbac_audit_log
`

// Log inserts event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO rbac_audit_log (occurred_at, event_type, actor, principal, target, context, removed, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		event.OccurredAt.UTC(),
		string(event.Type),
		nullString(event.Actor),
		event.Principal,
		event.Target,
		nullString(event.Context),
		event.Removed,
		nullString(event.RequestID),
		metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Get returns the event with the given ID
func (l *DBLogger) Get(ctx context.Context, id int64) (*Event, error) {
	e, err := scanEvent(l.db.QueryRowContext(ctx, selectEvents+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}
	return e, nil
}

// Search returns matching events, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.Principal != "" {
		add("principal = $%d", filter.Principal)
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if filter.Since != nil {
		add("occurred_at >= $%d", filter.Since.UTC())
	}
	if filter.Until != nil {
		add("occurred_at < $%d", filter.Until.UTC())
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			args = append(args, string(t))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := selectEvents
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT %d OFFSET %d", limit(filter.Limit), max(filter.Offset, 0))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit events: %w", err)
	}
	return events, nil
}

// Close is a no-op; the connection pool belongs to the caller
func (l *DBLogger) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		e                                    Event
		eventType                            string
		actor, scope, requestID, rawMetadata sql.NullString
	)
	err := row.Scan(&e.ID, &e.OccurredAt, &eventType, &actor, &e.Principal, &e.Target,
		&scope, &e.Removed, &requestID, &rawMetadata)
	if err != nil {
		return nil, err
	}

	e.Type = EventType(eventType)
	e.Actor = actor.String
	e.Context = scope.String
	e.RequestID = requestID.String
	e.OccurredAt = e.OccurredAt.UTC()
	if rawMetadata.Valid && rawMetadata.String != "" {
		if err := json.Unmarshal([]byte(rawMetadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func limit(n int) int {
	switch {
	case n <= 0:
		return DefaultSearchLimit
	case n > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return n
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Store = (*DBLogger)(nil)
