package hierarchy

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one of the container hierarchies
type Kind string

const (
	KindOrganization Kind = "organization"
	KindPartner      Kind = "partner"
)

var (
	// ErrNotFound indicates that a container does not exist
	ErrNotFound = errors.New("hierarchy: container not found")
	// ErrCycleDetected indicates corrupted parent links
	ErrCycleDetected = errors.New("hierarchy: cycle detected")
	// ErrAlreadyMember indicates a duplicate membership
	ErrAlreadyMember = errors.New("hierarchy: principal is already a member")
	// ErrNotMember indicates that no membership was removed
	ErrNotMember = errors.New("hierarchy: principal is not a member")
	// ErrInvalidMember indicates a membership without a principal type
	ErrInvalidMember = errors.New("hierarchy: invalid member")
	// ErrUnknownKind indicates an unsupported container kind
	ErrUnknownKind = errors.New("hierarchy: unknown container kind")
)

// tables describes the relational layout of one container kind.
type tables struct {
	containers  string
	memberships string
	foreignKey  string
}

var kindTables = map[Kind]tables{
	KindOrganization: {
		containers:  "organizations",
		memberships: "organization_employees",
		foreignKey:  "organization_id",
	},
	KindPartner: {
		containers:  "partners",
		memberships: "partner_employees",
		foreignKey:  "partner_id",
	},
}

// Kinds returns every supported container kind
func Kinds() []Kind {
	return []Kind{KindOrganization, KindPartner}
}

// Validate reports whether k is a supported kind
func (k Kind) Validate() error {
	if _, ok := kindTables[k]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
	return nil
}

// Container is a node in an organization or partner tree
type Container struct {
	ID          int64     `json:"id"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	Type        string    `json:"type,omitempty"`
	Description string    `json:"description,omitempty"`
	IsBusiness  bool      `json:"is_business"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsRoot reports whether the container has no parent
func (c *Container) IsRoot() bool {
	return c.ParentID == nil
}

func (c *Container) String() string {
	return fmt.Sprintf("%s:%d", c.Kind, c.ID)
}

// Member identifies the principal of a membership by type and id,
// e.g. {Type: "user", ID: 5}
type Member struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func (m Member) String() string {
	return fmt.Sprintf("%s:%d", m.Type, m.ID)
}

// Validate checks that the member is usable as a key
func (m Member) Validate() error {
	if m.Type == "" {
		return fmt.Errorf("%w: empty principal type", ErrInvalidMember)
	}
	return nil
}

// Membership links a principal to a container
type Membership struct {
	ContainerID   int64     `json:"container_id"`
	PrincipalType string    `json:"principal_type"`
	PrincipalID   int64     `json:"principal_id"`
	Position      *string   `json:"position,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
