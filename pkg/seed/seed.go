// Package seed loads a declarative catalog of permissions, roles and
// assignments from YAML and applies it idempotently.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/rampart/pkg/rbac"
)

// File is the document format:
//
//	permissions:
//	  - name: edit-posts
//	roles:
//	  - name: editor
//	    permissions: [edit-posts]
//	assignments:
//	  - principal: user:1
//	    role: editor
//	    context: team:3
//	    expired_at: 2027-01-01T00:00:00Z
type File struct {
	Permissions []Entry      `yaml:"permissions"`
	Roles       []RoleEntry  `yaml:"roles"`
	Assignments []Assignment `yaml:"assignments"`
}

// Entry declares a permission
type Entry struct {
	Name  string `yaml:"name"`
	Label string `yaml:"label,omitempty"`
}

// RoleEntry declares a role and the permissions it bundles
type RoleEntry struct {
	Name        string   `yaml:"name"`
	Label       string   `yaml:"label,omitempty"`
	Permissions []string `yaml:"permissions,omitempty"`
}

// Assignment grants exactly one of Role or Permission to Principal
type Assignment struct {
	Principal   string     `yaml:"principal"`
	Role        string     `yaml:"role,omitempty"`
	Permission  string     `yaml:"permission,omitempty"`
	Context     string     `yaml:"context,omitempty"`
	ActivatedAt *time.Time `yaml:"activated_at,omitempty"`
	ExpiredAt   *time.Time `yaml:"expired_at,omitempty"`
}

// Result counts what Apply changed
type Result struct {
	Permissions int `json:"permissions"`
	Roles       int `json:"roles"`
	Assignments int `json:"assignments"`
}

// Load reads and validates a seed file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes and validates a seed document. Unknown keys are errors.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks names, principals, contexts and windows without
// touching the store.
func (f *File) Validate() error {
	var errs []error
	for i, p := range f.Permissions {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("permissions[%d]: name is required", i))
		}
	}
	for i, r := range f.Roles {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("roles[%d]: name is required", i))
		}
	}
	for i, a := range f.Assignments {
		if (a.Role == "") == (a.Permission == "") {
			errs = append(errs, fmt.Errorf("assignments[%d]: exactly one of role or permission is required", i))
		}
		if _, err := rbac.ParsePrincipal(a.Principal); err != nil {
			errs = append(errs, fmt.Errorf("assignments[%d]: %w", i, err))
		}
		if _, err := rbac.ParseContext(a.Context); err != nil {
			errs = append(errs, fmt.Errorf("assignments[%d]: %w", i, err))
		}
		if err := a.window().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("assignments[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (a Assignment) window() rbac.Window {
	return rbac.Window{ActivatedAt: a.ActivatedAt, ExpiredAt: a.ExpiredAt}
}

// Apply creates whatever the file declares and the store lacks. Existing
// entries and identical assignments are left alone, so applying the same
// file twice changes nothing.
func Apply(ctx context.Context, store *rbac.Store, assignments *rbac.AssignmentManager, f *File) (*Result, error) {
	res := &Result{}

	for _, p := range f.Permissions {
		created, err := ensurePermission(ctx, store, p.Name, p.Label)
		if err != nil {
			return res, err
		}
		if created {
			res.Permissions++
		}
	}

	for _, r := range f.Roles {
		existing, err := store.GetRoleByName(ctx, r.Name)
		if errors.Is(err, rbac.ErrNotFound) {
			existing = &rbac.Role{Name: r.Name, Label: r.Label}
			if err = store.CreateRole(ctx, existing); err == nil {
				res.Roles++
			}
		}
		if err != nil {
			return res, fmt.Errorf("role %q: %w", r.Name, err)
		}

		for _, name := range r.Permissions {
			created, err := ensurePermission(ctx, store, name, "")
			if err != nil {
				return res, err
			}
			if created {
				res.Permissions++
			}
			perm, err := store.GetPermissionByName(ctx, name)
			if err != nil {
				return res, err
			}
			if err := store.AttachPermission(ctx, existing.ID, perm.ID); err != nil {
				return res, fmt.Errorf("role %q: %w", r.Name, err)
			}
		}
	}

	for i, a := range f.Assignments {
		created, err := applyAssignment(ctx, store, assignments, a)
		if err != nil {
			return res, fmt.Errorf("assignments[%d]: %w", i, err)
		}
		if created {
			res.Assignments++
		}
	}

	return res, nil
}

func ensurePermission(ctx context.Context, store *rbac.Store, name, label string) (bool, error) {
	_, err := store.GetPermissionByName(ctx, name)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, rbac.ErrNotFound) {
		return false, fmt.Errorf("permission %q: %w", name, err)
	}
	if err := store.CreatePermission(ctx, &rbac.Permission{Name: name, Label: label}); err != nil {
		return false, fmt.Errorf("permission %q: %w", name, err)
	}
	return true, nil
}

func applyAssignment(ctx context.Context, store *rbac.Store, m *rbac.AssignmentManager, a Assignment) (bool, error) {
	p, _ := rbac.ParsePrincipal(a.Principal)
	ref, _ := rbac.ParseContext(a.Context)
	w := a.window()

	if a.Role != "" {
		existing, err := store.RoleAssignments(ctx, p)
		if err != nil {
			return false, err
		}
		for _, e := range existing {
			if e.RoleName == a.Role && sameBinding(e.Assignment, ref, w) {
				return false, nil
			}
		}
		_, err = m.AssignRole(ctx, p, rbac.RoleNamed(a.Role), ref, w)
		return err == nil, err
	}

	existing, err := store.PermissionAssignments(ctx, p)
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.PermissionName == a.Permission && sameBinding(e.Assignment, ref, w) {
			return false, nil
		}
	}
	_, err = m.AssignPermission(ctx, p, rbac.PermissionNamed(a.Permission), ref, w)
	return err == nil, err
}

func sameBinding(a rbac.Assignment, ref *rbac.ContextRef, w rbac.Window) bool {
	if (a.Context == nil) != (ref == nil) || (ref != nil && *a.Context != *ref) {
		return false
	}
	return sameTime(a.ActivatedAt, w.ActivatedAt) && sameTime(a.ExpiredAt, w.ExpiredAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
