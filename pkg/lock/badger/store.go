// Package badger implements the broker's durable store on BadgerDB.
//
// A single Badger database under the broker's state directory holds the
// queue entries and the append-only audit log. Entry mutations and their
// audit records are written in one transaction, which gives the
// enqueue/grant/release path the ACID semantics the broker requires.
package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/gatefs/internal/logger"
	"github.com/marmos91/gatefs/pkg/lock"
)

// sequenceBandwidth is the lease size for badger sequences. Larger
// batches mean fewer disk writes per allocation and larger potential
// gaps after a crash; gaps are harmless to the FIFO order.
const sequenceBandwidth = 128

// Store is the BadgerDB implementation of lock.Store.
type Store struct {
	db       *badgerdb.DB
	reqSeq   *badgerdb.Sequence
	auditSeq *badgerdb.Sequence
}

// Verify Store satisfies lock.Store at compile time.
var _ lock.Store = (*Store)(nil)

// Open opens (or creates) the durable store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %q: %w", dir, err)
	}

	opts := badgerdb.DefaultOptions(filepath.Join(dir, "locks")).
		WithLogger(badgerLogger{})

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock store at %q: %w", dir, err)
	}

	reqSeq, err := db.GetSequence([]byte(keyRequestSeq), sequenceBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open request sequence: %w", err)
	}
	auditSeq, err := db.GetSequence([]byte(keyAuditSeq), sequenceBandwidth)
	if err != nil {
		_ = reqSeq.Release()
		_ = db.Close()
		return nil, fmt.Errorf("failed to open audit sequence: %w", err)
	}

	return &Store{db: db, reqSeq: reqSeq, auditSeq: auditSeq}, nil
}

// Close releases the sequences and closes the database.
func (s *Store) Close() error {
	if err := s.reqSeq.Release(); err != nil {
		logger.Warn("failed to release request sequence", logger.KeyError, err)
	}
	if err := s.auditSeq.Release(); err != nil {
		logger.Warn("failed to release audit sequence", logger.KeyError, err)
	}
	return s.db.Close()
}

// PutEntry upserts a queue entry and its audit record in one transaction.
func (s *Store) PutEntry(ctx context.Context, e *lock.Entry, audit *lock.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entryBytes, err := encodeEntry(e)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(keyEntry(e.ID), entryBytes); err != nil {
			return fmt.Errorf("failed to store entry: %w", err)
		}
		return s.appendAuditTxn(txn, audit)
	})
}

// DeleteEntry removes a queue entry and appends its audit record in one
// transaction. Deleting a missing entry is not an error.
func (s *Store) DeleteEntry(ctx context.Context, e *lock.Entry, audit *lock.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(keyEntry(e.ID)); err != nil {
			return fmt.Errorf("failed to delete entry: %w", err)
		}
		return s.appendAuditTxn(txn, audit)
	})
}

func (s *Store) appendAuditTxn(txn *badgerdb.Txn, audit *lock.AuditRecord) error {
	if audit == nil {
		return nil
	}
	auditBytes, err := encodeAudit(audit)
	if err != nil {
		return err
	}
	if err := txn.Set(keyAudit(audit.Seq), auditBytes); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// LoadEntries returns every persisted queue entry.
func (s *Store) LoadEntries(ctx context.Context) ([]*lock.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []*lock.Entry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixEntry)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	return entries, nil
}

// NextRequestID allocates the next monotonic request sequence value.
func (s *Store) NextRequestID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id, err := s.reqSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate request id: %w", err)
	}
	return id, nil
}

// NextAuditSeq allocates the next audit sequence value.
func (s *Store) NextAuditSeq(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	seq, err := s.auditSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate audit seq: %w", err)
	}
	return seq, nil
}

// Audit returns up to limit audit records, newest first.
func (s *Store) Audit(ctx context.Context, limit int) ([]lock.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	var records []lock.AuditRecord
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAudit)
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek to the end of the prefix range.
		seek := append([]byte(prefixAudit), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.Valid() && len(records) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeAudit(val)
				if err != nil {
					return err
				}
				records = append(records, *rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return records, nil
}

// PruneAudit drops audit records beyond the newest keep entries.
func (s *Store) PruneAudit(ctx context.Context, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if keep <= 0 {
		return nil
	}

	// Count, then delete the oldest surplus. Counting keys only is
	// cheap; the audit log is bounded by retention anyway.
	var total int
	var oldest [][]byte
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixAudit)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			total++
		}
		if total <= keep {
			return nil
		}
		surplus := total - keep
		for it.Rewind(); it.Valid() && len(oldest) < surplus; it.Next() {
			oldest = append(oldest, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan audit log: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range oldest {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("failed to prune audit record: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush audit prune: %w", err)
	}
	return nil
}

// badgerLogger routes BadgerDB's internal logging through the structured
// logger at debug level; Badger is chatty at INFO.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug(fmt.Sprintf("badger: "+format, args...))
}
