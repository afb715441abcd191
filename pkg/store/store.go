// Package store defines the persistence contracts for the authorization core
// and provides memory, SQLite and Postgres implementations. Components take a
// store as an explicit dependency; there is no ambient global handle.
package store

import (
	"context"

	"github.com/aegisgrid/mandate/pkg/contracts"
)

// MinistryStore persists ministries and their append-only key history.
type MinistryStore interface {
	Create(ctx context.Context, m *contracts.Ministry) error
	Get(ctx context.Context, id string) (*contracts.Ministry, error)
	GetByCode(ctx context.Context, code string) (*contracts.Ministry, error)
	Update(ctx context.Context, m *contracts.Ministry) error
	AppendKeyRecord(ctx context.Context, r *contracts.KeyRecord) error
	UpdateKeyRecord(ctx context.Context, r *contracts.KeyRecord) error
	KeyHistory(ctx context.Context, ministryID string) ([]*contracts.KeyRecord, error)
}

// DecisionStore persists decisions with ordered scan by creation sequence.
type DecisionStore interface {
	Create(ctx context.Context, d *contracts.Decision) error
	Get(ctx context.Context, id string) (*contracts.Decision, error)
	Update(ctx context.Context, d *contracts.Decision) error
	// List returns decisions matching the filter, newest first.
	List(ctx context.Context, f contracts.DecisionFilter) ([]*contracts.Decision, error)
	// Chain returns all decisions in creation order (sequence ascending).
	Chain(ctx context.Context) ([]*contracts.Decision, error)
	// Head returns the most recently created decision, or nil when empty.
	Head(ctx context.Context) (*contracts.Decision, error)
}

// ReceiptStore persists the receipt chain in authorization order.
type ReceiptStore interface {
	Append(ctx context.Context, r *contracts.Receipt) error
	GetByDecision(ctx context.Context, decisionID string) (*contracts.Receipt, error)
	// List returns receipts in authorization order (sequence ascending).
	List(ctx context.Context) ([]*contracts.Receipt, error)
	// Last returns the most recent receipt, or nil when empty.
	Last(ctx context.Context) (*contracts.Receipt, error)
}

// AuditStore persists the hash-chained audit trail. Entries are never
// updated or removed.
type AuditStore interface {
	Append(ctx context.Context, e *contracts.AuditEntry) error
	// List returns entries in append order (sequence ascending).
	List(ctx context.Context, limit, offset int) ([]*contracts.AuditEntry, error)
	// Last returns the most recent entry, or nil when empty.
	Last(ctx context.Context) (*contracts.AuditEntry, error)
}
