package rbac

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/rampart/pkg/hierarchy"
)

const (
	// DefaultGuard is the guard used when none is configured
	DefaultGuard = "web"
	// RootRole bypasses every permission check when held globally
	RootRole = "root"
)

var (
	// ErrNotFound indicates that a role, permission or context entity does not exist
	ErrNotFound = errors.New("rbac: not found")
	// ErrInvalidWindow indicates an expiry before the activation time
	ErrInvalidWindow = errors.New("rbac: expiry precedes activation")
	// ErrAlreadyExists indicates a role or permission name already taken in the guard
	ErrAlreadyExists = errors.New("rbac: already exists")
	// ErrInvalidPrincipal indicates a malformed principal reference
	ErrInvalidPrincipal = errors.New("rbac: invalid principal")
)

// Principal identifies the subject of an authorization decision.
// Type distinguishes kinds of subjects, e.g. "user" or "service".
type Principal struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// User returns a principal of type "user"
func User(id int64) Principal {
	return Principal{Type: "user", ID: id}
}

func (p Principal) String() string {
	return p.Type + ":" + strconv.FormatInt(p.ID, 10)
}

// Validate checks that the principal is usable as a key
func (p Principal) Validate() error {
	if p.Type == "" {
		return fmt.Errorf("%w: empty type", ErrInvalidPrincipal)
	}
	return nil
}

// Member returns the principal as a container membership key
func (p Principal) Member() hierarchy.Member {
	return hierarchy.Member{Type: p.Type, ID: p.ID}
}

// ParsePrincipal parses "type:id", e.g. "user:42"
func ParsePrincipal(s string) (Principal, error) {
	typ, rawID, ok := strings.Cut(s, ":")
	if !ok || typ == "" {
		return Principal{}, fmt.Errorf("%w: %q", ErrInvalidPrincipal, s)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %q", ErrInvalidPrincipal, s)
	}
	return Principal{Type: typ, ID: id}, nil
}

// ContextRef names the entity a grant is scoped to. A nil *ContextRef
// means the grant is global. Matching is exact: a global grant does not
// satisfy a contextual check and vice versa.
type ContextRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// Context returns a reference to the entity kind:id
func Context(kind string, id int64) *ContextRef {
	return &ContextRef{Kind: kind, ID: id}
}

func (c *ContextRef) String() string {
	if c == nil {
		return "global"
	}
	return c.Kind + ":" + strconv.FormatInt(c.ID, 10)
}

// ParseContext parses "kind:id"; an empty string or "global" yields nil
func ParseContext(s string) (*ContextRef, error) {
	if s == "" || s == "global" {
		return nil, nil
	}
	kind, rawID, ok := strings.Cut(s, ":")
	if !ok || kind == "" {
		return nil, fmt.Errorf("invalid context reference %q", s)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid context reference %q: %w", s, err)
	}
	return &ContextRef{Kind: kind, ID: id}, nil
}

// sameContext reports whether a and b denote the same scope
func sameContext(a, b *ContextRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Role is a named bundle of permissions
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	GuardName string    `json:"guard_name"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission is a named capability such as "edit-posts"
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	GuardName string    `json:"guard_name"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RolePermission links a permission into a role
type RolePermission struct {
	RoleID       int64 `json:"role_id"`
	PermissionID int64 `json:"permission_id"`
}

// Window bounds when an assignment is in force. Nil bounds are open.
type Window struct {
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at,omitempty"`
}

// Validate rejects windows that close before they open
func (w Window) Validate() error {
	if w.ActivatedAt != nil && w.ExpiredAt != nil && w.ExpiredAt.Before(*w.ActivatedAt) {
		return fmt.Errorf("%w: %s < %s", ErrInvalidWindow,
			w.ExpiredAt.Format(time.RFC3339), w.ActivatedAt.Format(time.RFC3339))
	}
	return nil
}

// Assignment is the part shared by role and permission bindings
type Assignment struct {
	ID          int64       `json:"id"`
	Principal   Principal   `json:"principal"`
	Context     *ContextRef `json:"context,omitempty"`
	ActivatedAt *time.Time  `json:"activated_at,omitempty"`
	ExpiredAt   *time.Time  `json:"expired_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ActiveAt reports whether the assignment is in force at t
func (a *Assignment) ActiveAt(t time.Time) bool {
	return IsActive(a.ActivatedAt, a.ExpiredAt, t)
}

// RoleAssignment binds a role to a principal
type RoleAssignment struct {
	Assignment
	RoleID   int64  `json:"role_id"`
	RoleName string `json:"role_name,omitempty"`
}

// PermissionAssignment binds a permission directly to a principal
type PermissionAssignment struct {
	Assignment
	PermissionID   int64  `json:"permission_id"`
	PermissionName string `json:"permission_name,omitempty"`
}

// RoleRef selects a role by ID or by name
type RoleRef struct {
	ID   int64
	Name string
}

// RoleID refers to a role by ID
func RoleID(id int64) RoleRef { return RoleRef{ID: id} }

// RoleNamed refers to a role by name within the configured guard
func RoleNamed(name string) RoleRef { return RoleRef{Name: name} }

func (r RoleRef) String() string {
	if r.Name != "" {
		return r.Name
	}
	return "#" + strconv.FormatInt(r.ID, 10)
}

// PermissionRef selects a permission by ID or by name
type PermissionRef struct {
	ID   int64
	Name string
}

// PermissionID refers to a permission by ID
func PermissionID(id int64) PermissionRef { return PermissionRef{ID: id} }

// PermissionNamed refers to a permission by name within the configured guard
func PermissionNamed(name string) PermissionRef { return PermissionRef{Name: name} }

func (r PermissionRef) String() string {
	if r.Name != "" {
		return r.Name
	}
	return "#" + strconv.FormatInt(r.ID, 10)
}

// Decision is the outcome of an Authorize call
type Decision struct {
	Allowed    bool        `json:"allowed"`
	Principal  Principal   `json:"principal"`
	Permission string      `json:"permission"`
	Context    *ContextRef `json:"context,omitempty"`
	// Via names the ancestor whose grant allowed a container check
	Via       *ContextRef `json:"via,omitempty"`
	Reason    string      `json:"reason"`
	CheckedAt time.Time   `json:"checked_at"`
}

// Decision reasons
const (
	ReasonRoot      = "root"
	ReasonDirect    = "direct"
	ReasonRole      = "role"
	ReasonAncestor  = "ancestor"
	ReasonNoGrant   = "no matching grant"
	ReasonUnmatched = "no matching grant in hierarchy"
)
