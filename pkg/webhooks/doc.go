// Package webhooks notifies external systems of grants and revokes.
//
// A Subscription names a URL and the audit event types it wants. The
// Dispatcher implements audit.Logger, so it is added next to the
// database sink:
//
//	dispatcher := webhooks.NewDispatcher(ctx, webhooks.NewStore(db), webhooks.DefaultConfig(), logger)
//	trail := audit.NewTrail(audit.NewMultiLogger(dbLog, dispatcher), logger)
//
// Deliveries run on a worker pool. Each POST carries the event type,
// the audit event ID and a delivery ID in X-Rampart-* headers, and an
// HMAC-SHA256 X-Rampart-Signature when the subscription has a secret.
// Failed deliveries are retried with exponential backoff by RunRetries;
// delivery logs live in memory and are served by the admin API.
package webhooks
