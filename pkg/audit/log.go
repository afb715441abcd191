// Package audit implements the append-only, hash-chained audit trail of
// identity and decision lifecycle events. Each entry commits to its
// predecessor, so any alteration of history is detectable.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrid/mandate/pkg/canonicalize"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/store"
)

// genesisHash seeds the chain before any entry exists.
const genesisHash = "genesis"

// Log is the hash-chained audit trail. Appends are linearized under a single
// mutex so the chain head advances exactly once per entry.
type Log struct {
	mu    sync.Mutex
	store store.AuditStore
	clock func() time.Time
}

// NewLog creates an audit log over the given store.
func NewLog(st store.AuditStore) *Log {
	return &Log{store: st, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append records a typed lifecycle event. The entry hash commits to the
// previous entry's hash, the event type, the canonical payload and the
// timestamp.
func (l *Log) Append(ctx context.Context, payload contracts.AuditPayload) (*contracts.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: read chain head: %w", err)
	}
	prevHash := genesisHash
	var seq uint64 = 1
	if prev != nil {
		prevHash = prev.EntryHash
		seq = prev.Sequence + 1
	}

	canonical, err := canonicalize.JCS(payload)
	if err != nil {
		return nil, fmt.Errorf("audit: canonicalize payload: %w", err)
	}
	ts := l.clock().UTC()

	entry := &contracts.AuditEntry{
		EntryID:   uuid.New().String(),
		Sequence:  seq,
		EventType: payload.AuditEventType(),
		Payload:   canonical,
		Timestamp: ts,
		PrevHash:  prevHash,
		EntryHash: entryHash(prevHash, payload.AuditEventType(), canonical, ts),
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("audit: append entry: %w", err)
	}
	return entry, nil
}

// List returns entries in append order.
func (l *Log) List(ctx context.Context, limit, offset int) ([]*contracts.AuditEntry, error) {
	return l.store.List(ctx, limit, offset)
}

// Verify recomputes the hash chain over entries (in append order) and
// reports every break found, one error string per offending entry.
func Verify(entries []*contracts.AuditEntry) (bool, []string) {
	var errs []string
	prevHash := genesisHash
	for i, e := range entries {
		if e.PrevHash != prevHash {
			errs = append(errs, fmt.Sprintf(
				"entry %d (%s): prev_hash mismatch: expected %s, got %s",
				i, e.EntryID, prevHash, e.PrevHash))
		}
		recomputed := entryHash(e.PrevHash, e.EventType, e.Payload, e.Timestamp)
		if recomputed != e.EntryHash {
			errs = append(errs, fmt.Sprintf(
				"entry %d (%s): entry_hash mismatch: expected %s, got %s",
				i, e.EntryID, recomputed, e.EntryHash))
		}
		prevHash = e.EntryHash
	}
	return len(errs) == 0, errs
}

func entryHash(prevHash string, eventType contracts.AuditEventType, payload []byte, ts time.Time) string {
	var buf bytes.Buffer
	buf.WriteString(prevHash)
	buf.WriteByte(0)
	buf.WriteString(string(eventType))
	buf.WriteByte(0)
	buf.Write(payload)
	buf.WriteByte(0)
	buf.WriteString(ts.UTC().Format(time.RFC3339Nano))
	return canonicalize.HashBytes(buf.Bytes())
}
