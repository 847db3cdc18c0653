package audit

import (
	"errors"
	"time"
)

// EventType names what happened
type EventType string

const (
	EventTypeRoleAssign       EventType = "role.assign"
	EventTypeRoleRevoke       EventType = "role.revoke"
	EventTypePermissionAssign EventType = "permission.assign"
	EventTypePermissionRevoke EventType = "permission.revoke"
)

// EventTypes lists every event type in a stable order
func EventTypes() []EventType {
	return []EventType{EventTypeRoleAssign, EventTypeRoleRevoke, EventTypePermissionAssign, EventTypePermissionRevoke}
}

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	for _, known := range EventTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// ErrNotFound indicates that no event has the requested ID
var ErrNotFound = errors.New("audit: event not found")

// Event is one entry of the audit trail
type Event struct {
	ID         int64     `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	Type       EventType `json:"event_type"`

	// Actor is the caller that made the change, empty for system changes
	Actor string `json:"actor,omitempty"`
	// Principal is the subject whose grants changed
	Principal string `json:"principal"`
	// Target is the role or permission name
	Target  string `json:"target"`
	Context string `json:"context,omitempty"`
	// Removed counts the rows a revoke deleted
	Removed   int64  `json:"removed,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows a Search. Zero fields match everything.
type SearchFilter struct {
	Principal string
	Actor     string
	Types     []EventType
	Since     *time.Time
	Until     *time.Time

	Limit  int
	Offset int
}

// DefaultSearchLimit caps searches that set no limit
const DefaultSearchLimit = 100

// MaxSearchLimit is the largest accepted limit
const MaxSearchLimit = 1000

// ExportFormat selects the encoding of an export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
