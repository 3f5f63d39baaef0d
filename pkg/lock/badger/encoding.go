package badger

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/marmos91/gatefs/pkg/lock"
)

// ============================================================================
// Database Key Namespace Design
// ============================================================================
//
// BadgerDB is a key-value store, so prefixed keys organize the two data
// types the broker persists:
//
// Data Type      Prefix  Key Format            Value Type
// =======================================================================
// Queue Entries  "e:"    e:<entryUUID>         lock.Entry (JSON)
// Audit Records  "a:"    a:<seq, 8B big-end>   lock.AuditRecord (JSON)
//
// Audit keys embed the sequence number big-endian so that Badger's
// lexicographic key order equals chronological order; the audit query
// iterates in reverse for newest-first, and pruning iterates forward to
// find the oldest records.
//
// Sequence counters live under "seq:" and are managed by badger.Sequence
// (leased in batches; crash-safe, monotonic, gaps allowed).

const (
	prefixEntry = "e:"
	prefixAudit = "a:"

	keyRequestSeq = "seq:request"
	keyAuditSeq   = "seq:audit"
)

func keyEntry(id uuid.UUID) []byte {
	return []byte(prefixEntry + id.String())
}

func keyAudit(seq uint64) []byte {
	key := make([]byte, len(prefixAudit)+8)
	copy(key, prefixAudit)
	binary.BigEndian.PutUint64(key[len(prefixAudit):], seq)
	return key
}

func encodeEntry(e *lock.Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*lock.Entry, error) {
	var e lock.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &e, nil
}

func encodeAudit(rec *lock.AuditRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode audit record %d: %w", rec.Seq, err)
	}
	return data, nil
}

func decodeAudit(data []byte) (*lock.AuditRecord, error) {
	var rec lock.AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode audit record: %w", err)
	}
	return &rec, nil
}
