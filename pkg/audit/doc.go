// Package audit keeps a durable trail of every role and permission grant
// and revoke.
//
// # Overview
//
// Trail implements rbac.Auditor. Each completed assignment change becomes
// an Event naming the caller (actor), the affected principal, the role or
// permission, the context and the request ID, and is written to a Logger:
//
//	dbLog, _ := audit.NewDBLogger(db)
//	fileLog, _ := audit.NewFileLogger(audit.FileLoggerConfig{Dir: "/var/log/rampart"})
//	trail := audit.NewTrail(audit.NewMultiLogger(dbLog, fileLog), logger)
//	assignments.WithAuditor(trail)
//
// DBLogger also implements Store, which Handlers exposes:
//
//	GET /audit/events?principal=user:1&type=role.assign,role.revoke&since=2026-01-01T00:00:00Z
//	GET /audit/events/{id}
//	GET /audit/export?format=csv
//
// FileLoggerConfig.OnRotate receives each rotated file, which is how
// archive.S3Archiver ships old logs to object storage.
//
// Audit writes never fail the grant they describe; failures are logged.
package audit
