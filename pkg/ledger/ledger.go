// Package ledger owns the decision lifecycle: creation with hash-chain
// linkage, signature collection, the one-way state machine, and receipt
// emission on authorization.
//
// Concurrency contract: all mutations of a single decision run under that
// decision's lock, so the check "does this submission cross the threshold"
// and the resulting transition are atomic. Decision creation runs under the
// chain lock so sequence numbers and chain links are race-free.
package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisgrid/mandate/pkg/audit"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/policy"
	"github.com/aegisgrid/mandate/pkg/registry"
	"github.com/aegisgrid/mandate/pkg/store"
)

// Ledger is the decision authorization ledger.
type Ledger struct {
	decisions store.DecisionStore
	receipts  store.ReceiptStore
	registry  *registry.Registry
	scopes    *policy.ScopeEvaluator
	audit     *audit.Log
	logger    *slog.Logger
	clock     func() time.Time

	chainMu sync.Mutex // guards creation ordering and chain linkage

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex // per-decision critical sections
}

// New creates a Ledger over the given stores and collaborators.
func New(decisions store.DecisionStore, receipts store.ReceiptStore, reg *registry.Registry, scopes *policy.ScopeEvaluator, auditLog *audit.Log, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		decisions: decisions,
		receipts:  receipts,
		registry:  reg,
		scopes:    scopes,
		audit:     auditLog,
		logger:    logger,
		clock:     time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func (l *Ledger) lockFor(decisionID string) *sync.Mutex {
	l.lockMu.Lock()
	defer l.lockMu.Unlock()
	m, ok := l.locks[decisionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[decisionID] = m
	}
	return m
}

func (l *Ledger) resolveKey(ctx context.Context, ministryID string) (string, error) {
	keyID, _, err := l.registry.ActiveKey(ctx, ministryID)
	return keyID, err
}

// CreateParams carries the fields for decision creation.
type CreateParams struct {
	IncidentID string
	PlaybookID string
	StepID     string
	Policy     contracts.DecisionPolicy
	PrevHash   string
}

// Create validates the policy, checks the chain link against the current
// head, and persists a new PENDING decision. The first decision in a chain
// must carry no previous hash; every later one must reference the content
// hash of the most recently created decision.
func (l *Ledger) Create(ctx context.Context, p CreateParams) (*contracts.Decision, error) {
	if p.IncidentID == "" {
		return nil, contracts.NewValidation("incident id is required")
	}
	if p.PlaybookID == "" {
		return nil, contracts.NewValidation("playbook id is required")
	}
	if err := p.Policy.Validate(); err != nil {
		return nil, err
	}
	for _, signerID := range p.Policy.Signers {
		if _, err := l.registry.Get(ctx, signerID); err != nil {
			if contracts.IsNotFound(err) {
				return nil, contracts.NewValidation("policy signer %s is not a registered ministry", signerID)
			}
			return nil, err
		}
	}

	l.chainMu.Lock()
	defer l.chainMu.Unlock()

	head, err := l.decisions.Head(ctx)
	if err != nil {
		return nil, err
	}
	var seq uint64 = 1
	if head == nil {
		if p.PrevHash != "" {
			return nil, contracts.NewChainLink("chain is empty but previous hash %s was supplied", p.PrevHash)
		}
	} else {
		if p.PrevHash != head.ContentHash {
			return nil, contracts.NewChainLink(
				"previous hash %s does not match chain head %s (decision %s)",
				p.PrevHash, head.ContentHash, head.ID)
		}
		seq = head.Sequence + 1
	}

	d := &contracts.Decision{
		ID:         "dec-" + uuid.New().String(),
		Sequence:   seq,
		IncidentID: p.IncidentID,
		PlaybookID: p.PlaybookID,
		StepID:     p.StepID,
		Policy:     p.Policy,
		Status:     contracts.DecisionPending,
		Signatures: []contracts.Signature{},
		PrevHash:   p.PrevHash,
		CreatedAt:  l.clock().UTC(),
	}
	hash, err := ContentHash(d)
	if err != nil {
		return nil, err
	}
	d.ContentHash = hash

	if err := l.decisions.Create(ctx, d); err != nil {
		return nil, err
	}
	l.emit(ctx, contracts.DecisionEventPayload{
		Event:      contracts.AuditDecisionCreated,
		DecisionID: d.ID,
		IncidentID: d.IncidentID,
		Status:     d.Status,
	})
	l.logger.Info("decision created",
		"decision_id", d.ID, "incident_id", d.IncidentID, "sequence", d.Sequence,
		"threshold", d.Policy.Threshold, "required", d.Policy.Required)
	return d, nil
}

// Get fetches a decision by id.
func (l *Ledger) Get(ctx context.Context, id string) (*contracts.Decision, error) {
	return l.decisions.Get(ctx, id)
}

// List returns decisions matching the filter, newest first.
func (l *Ledger) List(ctx context.Context, f contracts.DecisionFilter) ([]*contracts.Decision, error) {
	return l.decisions.List(ctx, f)
}

// Chain returns all decisions in creation order.
func (l *Ledger) Chain(ctx context.Context) ([]*contracts.Decision, error) {
	return l.decisions.Chain(ctx)
}

// Receipts returns the receipt chain in authorization order.
func (l *Ledger) Receipts(ctx context.Context) ([]*contracts.Receipt, error) {
	return l.receipts.List(ctx)
}

// Reject moves a PENDING decision to REJECTED with a reason. Terminal.
func (l *Ledger) Reject(ctx context.Context, decisionID, reason string) (*contracts.Decision, error) {
	lock := l.lockFor(decisionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := l.decisions.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if !d.CanTransition(contracts.DecisionRejected) {
		return nil, contracts.NewInvalidState("decision %s is %s, cannot reject", d.ID, d.Status)
	}
	d.Status = contracts.DecisionRejected
	d.RejectReason = reason
	if err := l.decisions.Update(ctx, d); err != nil {
		return nil, err
	}
	l.emit(ctx, contracts.DecisionEventPayload{
		Event:      contracts.AuditDecisionRejected,
		DecisionID: d.ID,
		Status:     d.Status,
		Reason:     reason,
	})
	return d, nil
}

// MarkExecuted records downstream executor confirmation on an AUTHORIZED
// decision. Terminal.
func (l *Ledger) MarkExecuted(ctx context.Context, decisionID string) (*contracts.Decision, error) {
	lock := l.lockFor(decisionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := l.decisions.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if !d.CanTransition(contracts.DecisionExecuted) {
		return nil, contracts.NewInvalidState("decision %s is %s, cannot mark executed", d.ID, d.Status)
	}
	now := l.clock().UTC()
	d.Status = contracts.DecisionExecuted
	d.ExecutedAt = &now
	if err := l.decisions.Update(ctx, d); err != nil {
		return nil, err
	}
	l.emit(ctx, contracts.DecisionEventPayload{
		Event:      contracts.AuditDecisionExecuted,
		DecisionID: d.ID,
		Status:     d.Status,
	})
	return d, nil
}

// Authorize transitions a PENDING decision to AUTHORIZED, provided the
// policy evaluator reports the threshold met for the current signature set.
// Submit calls this automatically when a submission crosses the threshold;
// the public path exists for re-driving a transition that failed after its
// signatures were already persisted.
func (l *Ledger) Authorize(ctx context.Context, decisionID string) (*contracts.Decision, error) {
	lock := l.lockFor(decisionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := l.decisions.Get(ctx, decisionID)
	if err != nil {
		return nil, err
	}
	if !d.CanTransition(contracts.DecisionAuthorized) {
		return nil, contracts.NewInvalidState("decision %s is %s, cannot authorize", d.ID, d.Status)
	}
	eval, err := policy.Evaluate(ctx, d.Policy, d.Signatures, l.resolveKey)
	if err != nil {
		return nil, err
	}
	if !eval.Authorized {
		return nil, contracts.NewInvalidState(
			"decision %s has %d of %d required signatures", d.ID, eval.ValidCount, d.Policy.Threshold)
	}
	if err := l.authorizeLocked(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// authorizeLocked performs the PENDING→AUTHORIZED transition and emits the
// receipt. Caller holds the decision lock and has verified eligibility.
func (l *Ledger) authorizeLocked(ctx context.Context, d *contracts.Decision) error {
	now := l.clock().UTC()
	d.Status = contracts.DecisionAuthorized
	d.AuthorizedAt = &now

	receiptHash, err := ReceiptHash(d)
	if err != nil {
		return err
	}

	// Receipt chain advances under the chain lock so sequence and prev-hash
	// assignment is race-free across decisions authorizing concurrently.
	l.chainMu.Lock()
	defer l.chainMu.Unlock()

	last, err := l.receipts.Last(ctx)
	if err != nil {
		return err
	}
	receipt := &contracts.Receipt{
		ReceiptID:    "rcp-" + uuid.New().String(),
		DecisionID:   d.ID,
		Sequence:     1,
		ReceiptHash:  receiptHash,
		AuthorizedAt: now,
	}
	if last != nil {
		receipt.Sequence = last.Sequence + 1
		receipt.PrevReceiptHash = last.ReceiptHash
	}

	if err := l.decisions.Update(ctx, d); err != nil {
		return err
	}
	if err := l.receipts.Append(ctx, receipt); err != nil {
		return err
	}

	l.emit(ctx, contracts.DecisionEventPayload{
		Event:      contracts.AuditDecisionAuthorized,
		DecisionID: d.ID,
		IncidentID: d.IncidentID,
		Status:     d.Status,
	})
	l.logger.Info("decision authorized",
		"decision_id", d.ID, "receipt_id", receipt.ReceiptID, "receipt_sequence", receipt.Sequence)
	return nil
}

func (l *Ledger) emit(ctx context.Context, payload contracts.AuditPayload) {
	if l.audit == nil {
		return
	}
	if _, err := l.audit.Append(ctx, payload); err != nil {
		l.logger.Error("audit append failed", "error", err)
	}
}
