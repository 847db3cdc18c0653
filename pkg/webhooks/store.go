package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/rampart/pkg/audit"
)

// Store persists subscriptions in the rbac_webhooks table
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a subscription store
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and inserts a subscription. New subscriptions are active.
func (s *Store) Create(ctx context.Context, sub *Subscription) error {
	if sub.Format == "" {
		sub.Format = FormatJSON
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rbac_webhooks (url, events, secret, format, active, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, sub.URL, joinEvents(sub.Events), nullString(sub.Secret), string(sub.Format), true,
		nullString(sub.Description), now, now).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}

	sub.Active = true
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

// Get retrieves a subscription by ID
func (s *Store) Get(ctx context.Context, id int64) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, events, secret, format, active, description, created_at, updated_at
		FROM rbac_webhooks
		WHERE id = $1
	`, id)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return sub, nil
}

// List returns subscriptions ordered by ID, only active ones when activeOnly is set
func (s *Store) List(ctx context.Context, activeOnly bool) ([]*Subscription, error) {
	query := `
		SELECT id, url, events, secret, format, active, description, created_at, updated_at
		FROM rbac_webhooks
	`
	var args []interface{}
	if activeOnly {
		query += ` WHERE active = $1`
		args = append(args, true)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate webhooks: %w", err)
	}
	return subs, nil
}

// Update overwrites the non-zero fields of updates
func (s *Store) Update(ctx context.Context, id int64, updates *Subscription) (*Subscription, error) {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if updates.URL != "" {
		sub.URL = updates.URL
	}
	if len(updates.Events) > 0 {
		sub.Events = updates.Events
	}
	if updates.Secret != "" {
		sub.Secret = updates.Secret
	}
	if updates.Format != "" {
		sub.Format = updates.Format
	}
	if updates.Description != "" {
		sub.Description = updates.Description
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	sub.UpdatedAt = s.now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE rbac_webhooks
		SET url = $1, events = $2, secret = $3, format = $4, description = $5, updated_at = $6
		WHERE id = $7
	`, sub.URL, joinEvents(sub.Events), nullString(sub.Secret), string(sub.Format),
		nullString(sub.Description), sub.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update webhook: %w", err)
	}
	return sub, nil
}

// SetActive enables or pauses deliveries to a subscription
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	return s.exec(ctx, id, `UPDATE rbac_webhooks SET active = $1, updated_at = $2 WHERE id = $3`, active, s.now(), id)
}

// Delete removes a subscription
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.exec(ctx, id, `DELETE FROM rbac_webhooks WHERE id = $1`, id)
}

func (s *Store) exec(ctx context.Context, id int64, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to modify webhook %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var sub Subscription
	var events, format string
	var secret, description sql.NullString

	err := row.Scan(&sub.ID, &sub.URL, &events, &secret, &format, &sub.Active, &description, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sub.Events = splitEvents(events)
	sub.Secret = secret.String
	sub.Format = Format(format)
	sub.Description = description.String
	return &sub, nil
}

func joinEvents(events []audit.EventType) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = string(e)
	}
	return strings.Join(parts, ",")
}

func splitEvents(s string) []audit.EventType {
	var events []audit.EventType
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			events = append(events, audit.EventType(part))
		}
	}
	return events
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
