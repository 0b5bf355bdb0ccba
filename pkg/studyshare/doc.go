// Package studyshare provides the submission admission and moderation engine
// for a shared study-material library.
//
// Contributors submit files into categories identified by course, term,
// subject, kind and a set of units. The Admission Controller decides whether a
// submission is published immediately or queued for review, keeping at most
// Capacity approved items per category. Admins then approve, reject, replace
// or remove submissions through the Moderation Engine; every decision is
// written to the Decision Log in the same transaction as the item change.
//
// Persistence is pluggable: repositories (memory, Postgres), blob stores
// (memory, filesystem, S3, MinIO), session activity logs (memory, MongoDB)
// and audit ledgers (memory, Redis) live in subpackages.
//
// Side Channels
//
// Session activity entries and audit ledger events are best effort. They are
// recorded after the primary transaction commits and their failures are
// logged, never returned. Audit events are delivered asynchronously by an
// AuditDispatcher.
package studyshare
