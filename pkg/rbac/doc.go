// Package rbac provides role-based access control for rampart.
//
// # Overview
//
// Principals hold roles and permissions. A role is a named bundle of
// permissions; a permission is a named capability such as "edit-posts".
// Both are scoped to a guard so that separate applications can reuse
// names without colliding.
//
// Every binding of a role or permission to a principal carries:
//
//   - an optional context, e.g. organization:12, which must match the
//     context of a check exactly
//   - an optional activation time before which it grants nothing
//   - an optional expiry time after which it grants nothing
//
// A global check (nil context) is satisfied only by global bindings, and a
// check in organization:12 only by bindings made in organization:12.
// Window bounds are inclusive.
//
// # Checking Permissions
//
//	store := rbac.NewStore(db)
//	auth := rbac.NewAuthorizer(store)
//
//	ok, err := auth.HasPermission(ctx, rbac.User(42), "edit-posts", rbac.Context("team", 7))
//
// HasAnyPermission and HasAllPermissions check several names at once.
// Authorize returns a Decision describing why a check passed.
//
// A principal holding the root role globally passes every check.
//
// # Containers
//
// Organizations and partners form trees (see package hierarchy). With
// checkHierarchy set, HasPermissionInContainer also accepts a grant made
// in any ancestor of the container, nearest first:
//
//	auth = auth.WithHierarchy(hierarchy.KindOrganization, orgs)
//	ok, err := auth.HasPermissionInContainerID(ctx, p, "view-reports",
//		hierarchy.KindOrganization, 31, true)
//
// Grants never flow downward to children and a corrupted parent chain
// fails closed.
//
// # Managing Assignments
//
//	m := rbac.NewAssignmentManager(store)
//	_, err := m.AssignRole(ctx, p, rbac.RoleNamed("editor"), rbac.Context("team", 7), rbac.Window{
//		ExpiredAt: &deadline,
//	})
//	removed, err := m.RevokeRole(ctx, p, rbac.RoleNamed("editor"), rbac.Context("team", 7))
//
// Revocation removes every binding for the role in that exact context,
// whatever its window.
//
// # HTTP
//
// PermissionMiddleware guards gorilla/mux routes; Handlers serves the JSON
// check and administration API. Manager wires all of it, plus the Janitor
// that purges long-expired bindings on a cron schedule.
package rbac
