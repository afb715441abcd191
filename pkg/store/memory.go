package store

import (
	"context"
	"sort"
	"sync"

	"github.com/aegisgrid/mandate/pkg/contracts"
)

// MemoryMinistryStore is a mutex-guarded in-memory MinistryStore.
type MemoryMinistryStore struct {
	mu         sync.RWMutex
	byID       map[string]*contracts.Ministry
	byCode     map[string]string // code -> id
	keyHistory map[string][]*contracts.KeyRecord
}

// NewMemoryMinistryStore creates an empty in-memory ministry store.
func NewMemoryMinistryStore() *MemoryMinistryStore {
	return &MemoryMinistryStore{
		byID:       make(map[string]*contracts.Ministry),
		byCode:     make(map[string]string),
		keyHistory: make(map[string][]*contracts.KeyRecord),
	}
}

func (s *MemoryMinistryStore) Create(_ context.Context, m *contracts.Ministry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCode[m.Code]; exists {
		return contracts.NewDuplicate("ministry code %q already registered", m.Code)
	}
	cp := *m
	s.byID[m.ID] = &cp
	s.byCode[m.Code] = m.ID
	return nil
}

func (s *MemoryMinistryStore) Get(_ context.Context, id string) (*contracts.Ministry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, contracts.NewNotFound("ministry %s not found", id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMinistryStore) GetByCode(_ context.Context, code string) (*contracts.Ministry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, contracts.NewNotFound("ministry code %q not found", code)
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryMinistryStore) Update(_ context.Context, m *contracts.Ministry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; !ok {
		return contracts.NewNotFound("ministry %s not found", m.ID)
	}
	cp := *m
	s.byID[m.ID] = &cp
	return nil
}

func (s *MemoryMinistryStore) AppendKeyRecord(_ context.Context, r *contracts.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.keyHistory[r.MinistryID] = append(s.keyHistory[r.MinistryID], &cp)
	return nil
}

func (s *MemoryMinistryStore) UpdateKeyRecord(_ context.Context, r *contracts.KeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.keyHistory[r.MinistryID] {
		if rec.KeyID == r.KeyID {
			// Only the lifecycle fields move; issuance fields stay put.
			rec.Status = r.Status
			rec.SupersededBy = r.SupersededBy
			rec.RevokedAt = r.RevokedAt
			return nil
		}
	}
	return contracts.NewNotFound("key record %s not found for ministry %s", r.KeyID, r.MinistryID)
}

func (s *MemoryMinistryStore) KeyHistory(_ context.Context, ministryID string) ([]*contracts.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.keyHistory[ministryID]
	out := make([]*contracts.KeyRecord, len(records))
	for i, r := range records {
		cp := *r
		out[i] = &cp
	}
	return out, nil
}

// MemoryDecisionStore is a mutex-guarded in-memory DecisionStore.
type MemoryDecisionStore struct {
	mu      sync.RWMutex
	byID    map[string]*contracts.Decision
	ordered []string // ids in creation order
}

// NewMemoryDecisionStore creates an empty in-memory decision store.
func NewMemoryDecisionStore() *MemoryDecisionStore {
	return &MemoryDecisionStore{byID: make(map[string]*contracts.Decision)}
}

func copyDecision(d *contracts.Decision) *contracts.Decision {
	cp := *d
	cp.Signatures = append([]contracts.Signature(nil), d.Signatures...)
	cp.Policy.Signers = append([]string(nil), d.Policy.Signers...)
	return &cp
}

func (s *MemoryDecisionStore) Create(_ context.Context, d *contracts.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[d.ID]; exists {
		return contracts.NewDuplicate("decision %s already exists", d.ID)
	}
	s.byID[d.ID] = copyDecision(d)
	s.ordered = append(s.ordered, d.ID)
	return nil
}

func (s *MemoryDecisionStore) Get(_ context.Context, id string) (*contracts.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, contracts.NewNotFound("decision %s not found", id)
	}
	return copyDecision(d), nil
}

func (s *MemoryDecisionStore) Update(_ context.Context, d *contracts.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ID]; !ok {
		return contracts.NewNotFound("decision %s not found", d.ID)
	}
	s.byID[d.ID] = copyDecision(d)
	return nil
}

func (s *MemoryDecisionStore) List(_ context.Context, f contracts.DecisionFilter) ([]*contracts.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*contracts.Decision, 0)
	// newest first
	for i := len(s.ordered) - 1; i >= 0; i-- {
		d := s.byID[s.ordered[i]]
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.IncidentID != "" && d.IncidentID != f.IncidentID {
			continue
		}
		if f.PlaybookID != "" && d.PlaybookID != f.PlaybookID {
			continue
		}
		matched = append(matched, d)
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}

	out := make([]*contracts.Decision, len(matched))
	for i, d := range matched {
		out[i] = copyDecision(d)
	}
	return out, nil
}

func (s *MemoryDecisionStore) Chain(_ context.Context) ([]*contracts.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contracts.Decision, len(s.ordered))
	for i, id := range s.ordered {
		out[i] = copyDecision(s.byID[id])
	}
	return out, nil
}

func (s *MemoryDecisionStore) Head(_ context.Context) (*contracts.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.ordered) == 0 {
		return nil, nil
	}
	return copyDecision(s.byID[s.ordered[len(s.ordered)-1]]), nil
}

// MemoryReceiptStore is a mutex-guarded in-memory ReceiptStore.
type MemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts []*contracts.Receipt
}

// NewMemoryReceiptStore creates an empty in-memory receipt store.
func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{}
}

func (s *MemoryReceiptStore) Append(_ context.Context, r *contracts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.receipts = append(s.receipts, &cp)
	return nil
}

func (s *MemoryReceiptStore) GetByDecision(_ context.Context, decisionID string) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.DecisionID == decisionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, contracts.NewNotFound("receipt for decision %s not found", decisionID)
}

func (s *MemoryReceiptStore) List(_ context.Context) ([]*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*contracts.Receipt, len(s.receipts))
	for i, r := range s.receipts {
		cp := *r
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryReceiptStore) Last(_ context.Context) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.receipts) == 0 {
		return nil, nil
	}
	cp := *s.receipts[len(s.receipts)-1]
	return &cp, nil
}

// MemoryAuditStore is a mutex-guarded in-memory AuditStore.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*contracts.AuditEntry
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, e *contracts.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *MemoryAuditStore) List(_ context.Context, limit, offset int) ([]*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset >= len(s.entries) {
		return nil, nil
	}
	entries := s.entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]*contracts.AuditEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryAuditStore) Last(_ context.Context) (*contracts.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	cp := *s.entries[len(s.entries)-1]
	return &cp, nil
}
