package lock

import "context"

// Store is the durable backing for queue entries and the audit log.
//
// The broker writes every transition through the store before publishing
// it in memory, so implementations must provide ACID semantics for each
// call: an entry mutation and its audit record land in one transaction
// or not at all. The store is written exclusively by the broker.
type Store interface {
	// PutEntry upserts a queue entry and appends the audit record, if
	// any, in a single transaction.
	PutEntry(ctx context.Context, e *Entry, audit *AuditRecord) error

	// DeleteEntry removes a queue entry and appends the audit record,
	// if any, in a single transaction. Deleting a missing entry is not
	// an error.
	DeleteEntry(ctx context.Context, e *Entry, audit *AuditRecord) error

	// LoadEntries returns every persisted queue entry. Used once at
	// startup for crash recovery.
	LoadEntries(ctx context.Context) ([]*Entry, error)

	// NextRequestID allocates the next value of the broker-wide
	// monotonic request sequence. Allocations survive restarts; gaps
	// are permitted, regressions are not.
	NextRequestID(ctx context.Context) (uint64, error)

	// NextAuditSeq allocates the next audit sequence number.
	NextAuditSeq(ctx context.Context) (uint64, error)

	// Audit returns up to limit audit records, newest first.
	Audit(ctx context.Context, limit int) ([]AuditRecord, error)

	// PruneAudit drops audit records beyond the newest keep entries.
	PruneAudit(ctx context.Context, keep int) error

	// Close releases store resources.
	Close() error
}
