// Package registry owns ministries and their signing keys. Keys are issued at
// registration, rotated and revoked under a per-ministry critical section, and
// every mutation lands in the audit trail. Private keys are returned to the
// caller exactly once and are never persisted.
package registry

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrid/mandate/pkg/audit"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/crypto"
	"github.com/aegisgrid/mandate/pkg/store"
)

// Registry is the identity and key authority for the authorization core.
type Registry struct {
	store  store.MinistryStore
	audit  *audit.Log
	logger *slog.Logger
	clock  func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-ministry critical sections
}

// New creates a Registry over the given store and audit log.
func New(st store.MinistryStore, auditLog *audit.Log) *Registry {
	return &Registry{
		store:  st,
		audit:  auditLog,
		logger: slog.Default(),
		clock:  time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// WithLogger overrides the default logger.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Registry) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// RegisterParams carries the fields for ministry registration.
type RegisterParams struct {
	Name         string
	Code         string
	Type         contracts.MinistryType
	Jurisdiction string
	Contact      *contracts.Contact
	Quorum       *contracts.QuorumOverride
}

// Registration is the result of registering a ministry. PrivateKey is handed
// to the caller once for out-of-band delivery to the ministry's signing
// environment; it is not retained.
type Registration struct {
	Ministry   *contracts.Ministry
	PrivateKey ed25519.PrivateKey
}

// Register creates a ministry with a freshly issued key pair. Fails with a
// ValidationError for missing name/code or unknown type, and a DuplicateError
// when the code is already taken.
func (r *Registry) Register(ctx context.Context, p RegisterParams) (*Registration, error) {
	if p.Name == "" {
		return nil, contracts.NewValidation("ministry name is required")
	}
	if p.Code == "" {
		return nil, contracts.NewValidation("ministry code is required")
	}
	if !contracts.ValidMinistryType(p.Type) {
		return nil, contracts.NewValidation("unknown ministry type %q", p.Type)
	}

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	now := r.clock().UTC()
	m := &contracts.Ministry{
		ID:           "min-" + uuid.New().String(),
		Name:         p.Name,
		Code:         p.Code,
		Type:         p.Type,
		Jurisdiction: p.Jurisdiction,
		Status:       contracts.MinistryActive,
		Contact:      p.Contact,
		KeyID:        pair.KeyID,
		PublicKey:    pair.PublicKey,
		Quorum:       p.Quorum,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := r.store.Create(ctx, m); err != nil {
		return nil, err
	}
	if err := r.store.AppendKeyRecord(ctx, &contracts.KeyRecord{
		KeyID:      pair.KeyID,
		MinistryID: m.ID,
		PublicKey:  pair.PublicKey,
		Status:     contracts.KeyActive,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	r.emit(ctx, contracts.MinistryEventPayload{
		Event: contracts.AuditMinistryRegistered, MinistryID: m.ID, Code: m.Code,
	})
	r.emit(ctx, contracts.KeyEventPayload{
		Event: contracts.AuditKeyIssued, MinistryID: m.ID, KeyID: pair.KeyID,
	})

	return &Registration{Ministry: m, PrivateKey: pair.PrivateKey}, nil
}

// Get fetches a ministry by id.
func (r *Registry) Get(ctx context.Context, id string) (*contracts.Ministry, error) {
	return r.store.Get(ctx, id)
}

// KeyHistory returns the append-only key record history for a ministry.
func (r *Registry) KeyHistory(ctx context.Context, id string) ([]*contracts.KeyRecord, error) {
	if _, err := r.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return r.store.KeyHistory(ctx, id)
}

// UpdateParams carries the mutable ministry fields. Nil means "leave as is";
// id and code are immutable.
type UpdateParams struct {
	Name         *string
	Jurisdiction *string
	Contact      *contracts.Contact
	Quorum       *contracts.QuorumOverride
}

// Update merges the provided fields into an existing ministry.
func (r *Registry) Update(ctx context.Context, id string, p UpdateParams) (*contracts.Ministry, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		if *p.Name == "" {
			return nil, contracts.NewValidation("ministry name cannot be cleared")
		}
		m.Name = *p.Name
	}
	if p.Jurisdiction != nil {
		m.Jurisdiction = *p.Jurisdiction
	}
	if p.Contact != nil {
		m.Contact = p.Contact
	}
	if p.Quorum != nil {
		m.Quorum = p.Quorum
	}
	m.UpdatedAt = r.clock().UTC()

	if err := r.store.Update(ctx, m); err != nil {
		return nil, err
	}
	r.emit(ctx, contracts.MinistryEventPayload{
		Event: contracts.AuditMinistryUpdated, MinistryID: m.ID, Code: m.Code,
	})
	return m, nil
}

// Rotation is the result of a key rotation.
type Rotation struct {
	OldKeyID     string
	NewKeyID     string
	NewPublicKey string
	PrivateKey   ed25519.PrivateKey
}

// RotateKey archives the current key as ROTATED and installs a fresh pair as
// the ministry's active key.
func (r *Registry) RotateKey(ctx context.Context, id string) (*Rotation, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.KeyID == "" {
		return nil, contracts.NewInvalidState("ministry %s has no active key to rotate", id)
	}

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	now := r.clock().UTC()
	oldKeyID := m.KeyID

	if err := r.store.UpdateKeyRecord(ctx, &contracts.KeyRecord{
		KeyID:        oldKeyID,
		MinistryID:   m.ID,
		PublicKey:    m.PublicKey,
		Status:       contracts.KeyRotated,
		SupersededBy: pair.KeyID,
	}); err != nil {
		return nil, err
	}
	if err := r.store.AppendKeyRecord(ctx, &contracts.KeyRecord{
		KeyID:      pair.KeyID,
		MinistryID: m.ID,
		PublicKey:  pair.PublicKey,
		Status:     contracts.KeyActive,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	m.KeyID = pair.KeyID
	m.PublicKey = pair.PublicKey
	m.UpdatedAt = now
	if err := r.store.Update(ctx, m); err != nil {
		return nil, err
	}

	r.emit(ctx, contracts.KeyEventPayload{
		Event: contracts.AuditKeyRotated, MinistryID: m.ID, KeyID: oldKeyID, NewKeyID: pair.KeyID,
	})

	return &Rotation{
		OldKeyID:     oldKeyID,
		NewKeyID:     pair.KeyID,
		NewPublicKey: pair.PublicKey,
		PrivateKey:   pair.PrivateKey,
	}, nil
}

// Revocation is the result of a key revocation.
type Revocation struct {
	RevokedKeyID string
}

// RevokeKey archives the current key as REVOKED and clears the ministry's
// active key. A revoked ministry cannot register further valid signatures
// until an administrative ReissueKey.
func (r *Registry) RevokeKey(ctx context.Context, id string) (*Revocation, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.KeyID == "" {
		return nil, contracts.NewInvalidState("ministry %s has no active key to revoke", id)
	}

	now := r.clock().UTC()
	revokedKeyID := m.KeyID
	if err := r.store.UpdateKeyRecord(ctx, &contracts.KeyRecord{
		KeyID:      revokedKeyID,
		MinistryID: m.ID,
		PublicKey:  m.PublicKey,
		Status:     contracts.KeyRevoked,
		RevokedAt:  &now,
	}); err != nil {
		return nil, err
	}

	m.KeyID = ""
	m.PublicKey = ""
	m.Status = contracts.MinistryKeyRevoked
	m.UpdatedAt = now
	if err := r.store.Update(ctx, m); err != nil {
		return nil, err
	}

	r.emit(ctx, contracts.KeyEventPayload{
		Event: contracts.AuditKeyRevoked, MinistryID: m.ID, KeyID: revokedKeyID,
	})
	return &Revocation{RevokedKeyID: revokedKeyID}, nil
}

// ReissueKey is the explicit administrative path that makes a key_revoked
// ministry signable again: it issues a fresh pair and reactivates the
// ministry. It is not valid while an active key exists.
func (r *Registry) ReissueKey(ctx context.Context, id string) (*Rotation, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.KeyID != "" {
		return nil, contracts.NewInvalidState("ministry %s already has an active key; rotate instead", id)
	}

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	now := r.clock().UTC()
	if err := r.store.AppendKeyRecord(ctx, &contracts.KeyRecord{
		KeyID:      pair.KeyID,
		MinistryID: m.ID,
		PublicKey:  pair.PublicKey,
		Status:     contracts.KeyActive,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	m.KeyID = pair.KeyID
	m.PublicKey = pair.PublicKey
	m.Status = contracts.MinistryActive
	m.UpdatedAt = now
	if err := r.store.Update(ctx, m); err != nil {
		return nil, err
	}

	r.emit(ctx, contracts.KeyEventPayload{
		Event: contracts.AuditKeyIssued, MinistryID: m.ID, KeyID: pair.KeyID,
	})
	return &Rotation{NewKeyID: pair.KeyID, NewPublicKey: pair.PublicKey, PrivateKey: pair.PrivateKey}, nil
}

// ActiveKey resolves a ministry's currently active key id and public key.
// Used by the policy evaluator and signature collector; a revoked ministry
// resolves to empty values.
func (r *Registry) ActiveKey(ctx context.Context, ministryID string) (keyID, publicKey string, err error) {
	m, err := r.store.Get(ctx, ministryID)
	if err != nil {
		return "", "", err
	}
	return m.KeyID, m.PublicKey, nil
}

func (r *Registry) emit(ctx context.Context, payload contracts.AuditPayload) {
	if r.audit == nil {
		return
	}
	// Audit append failures must not mask the primary mutation.
	if _, err := r.audit.Append(ctx, payload); err != nil {
		r.logger.Error("audit append failed", "error", err)
	}
}
