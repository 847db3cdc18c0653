// Package cli provides the rampartctl command-line interface.
//
// # Overview
//
// Most commands call a running rampart server over HTTP, identifying
// the caller with the principal header. migrate and seed open the
// database directly and are meant for deploy pipelines.
//
// # Commands
//
// check: Check a permission globally or in a context
//
//	rampartctl check --as user:1 --permission edit-posts --context team:3
//
// check-in: Check a permission in a container, walking its ancestors
//
//	rampartctl check-in --principal user:1 --permission view-reports \
//		--kind organization --id 42
//
// effective: List current permissions
//
//	rampartctl effective --principal user:1
//
// grant / revoke: Manage assignments
//
//	rampartctl grant --principal user:1 --role editor \
//		--context organization:3 --expires 2027-01-01T00:00:00Z
//	rampartctl revoke --principal user:1 --role editor --context organization:3
//
// hierarchy: Walk a container tree
//
//	rampartctl hierarchy --kind partner --id 7 --relation descendants
//
// migrate: Apply database migrations
//
//	rampartctl migrate --database-url postgres://localhost/rampart
//
// seed: Apply a YAML catalog, optionally re-applying on change
//
//	rampartctl seed --file rbac.yaml --watch
//
// # Configuration
//
// Flags fall back to RAMPART_SERVER, RAMPART_PRINCIPAL,
// RAMPART_PROXY_SECRET, RAMPART_DATABASE_URL, RAMPART_DATABASE_DRIVER,
// RAMPART_GUARD and RAMPART_SEED_FILE.
//
// # Exit status
//
// check and check-in return ErrDenied when access is refused; the
// binary exits with status 2 in that case.
package cli
