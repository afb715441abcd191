package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/aegisgrid/mandate/pkg/canonicalize"
	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/crypto"
	"github.com/aegisgrid/mandate/pkg/policy"
)

// SubmitParams carries a ministry's signature submission.
type SubmitParams struct {
	DecisionID string
	MinistryID string
	Signature  string // hex-encoded signature bytes
	KeyID      string
	ActionType string
	Scope      contracts.ActionScope
}

// SubmitResult is the outcome of an accepted submission.
type SubmitResult struct {
	Signature  contracts.Signature
	Decision   *contracts.Decision
	Evaluation *policy.Evaluation
	// Replayed is true when the submission matched an already-recorded
	// identical signature and was accepted as a no-op.
	Replayed bool
}

// Submit validates and appends a signature to a PENDING decision, re-runs the
// policy evaluation, and — atomically with the append — transitions the
// decision to AUTHORIZED when the threshold is crossed. Every submission,
// accepted or refused, lands in the audit trail.
func (l *Ledger) Submit(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	lock := l.lockFor(p.DecisionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := l.decisions.Get(ctx, p.DecisionID)
	if err != nil {
		// A submission against an unknown decision is still a submission;
		// it gets its own audit entry.
		l.emit(ctx, contracts.SignatureEventPayload{
			Event:      contracts.AuditSignatureRejected,
			DecisionID: p.DecisionID,
			MinistryID: p.MinistryID,
			KeyID:      p.KeyID,
			Outcome:    string(contracts.KindOf(err)),
		})
		return nil, err
	}

	res, err := l.submitLocked(ctx, d, p)
	outcome := "accepted"
	if err != nil {
		outcome = string(contracts.KindOf(err))
	} else if res.Replayed {
		outcome = "replayed"
	}
	event := contracts.AuditSignatureSubmitted
	if err != nil {
		event = contracts.AuditSignatureRejected
	}
	l.emit(ctx, contracts.SignatureEventPayload{
		Event:      event,
		DecisionID: p.DecisionID,
		MinistryID: p.MinistryID,
		KeyID:      p.KeyID,
		Outcome:    outcome,
	})
	return res, err
}

func (l *Ledger) submitLocked(ctx context.Context, d *contracts.Decision, p SubmitParams) (*SubmitResult, error) {
	if d.Status != contracts.DecisionPending {
		return nil, contracts.NewInvalidState("decision %s is %s, signatures are closed", d.ID, d.Status)
	}
	if !d.Policy.Eligible(p.MinistryID) {
		return nil, contracts.NewNotEligible("ministry %s is not in the decision's signer set", p.MinistryID)
	}

	if existing := d.SignatureBy(p.MinistryID); existing != nil {
		if sameSubmission(existing, p) {
			// Identical resubmission is a tolerated no-op.
			eval, err := policy.Evaluate(ctx, d.Policy, d.Signatures, l.resolveKey)
			if err != nil {
				return nil, err
			}
			return &SubmitResult{Signature: *existing, Decision: d, Evaluation: eval, Replayed: true}, nil
		}
		return nil, contracts.NewDuplicate("ministry %s already signed decision %s with a different signature", p.MinistryID, d.ID)
	}

	m, err := l.registry.Get(ctx, p.MinistryID)
	if err != nil {
		return nil, err
	}
	if m.Status != contracts.MinistryActive || m.KeyID == "" {
		return nil, contracts.NewSignatureInvalid("ministry %s has no active signing key", p.MinistryID)
	}
	if p.KeyID != m.KeyID {
		return nil, contracts.NewSignatureInvalid(
			"key %s is not ministry %s's active key (%s)", p.KeyID, p.MinistryID, m.KeyID)
	}

	if m.Quorum != nil {
		if m.Quorum.MinThreshold > 0 && d.Policy.Threshold < m.Quorum.MinThreshold {
			return nil, contracts.NewNotEligible(
				"ministry %s requires a quorum threshold of at least %d, decision has %d",
				p.MinistryID, m.Quorum.MinThreshold, d.Policy.Threshold)
		}
		if l.scopes != nil {
			allowed, err := l.scopes.Allow(m.Quorum.Constraint, p.ActionType, p.Scope)
			if err != nil {
				return nil, contracts.NewNotEligible(
					"ministry %s scope constraint could not be evaluated: %v", p.MinistryID, err)
			}
			if !allowed {
				return nil, contracts.NewNotEligible(
					"ministry %s scope constraint refuses action %s", p.MinistryID, p.ActionType)
			}
		}
	}

	ok, err := crypto.Verify(m.PublicKey, p.Signature, crypto.SigningPayload{
		DecisionID: d.ID,
		ActionType: p.ActionType,
		Scope:      p.Scope,
		MinistryID: p.MinistryID,
	})
	if err != nil {
		return nil, contracts.NewSignatureInvalid("signature malformed: %v", err)
	}
	if !ok {
		return nil, contracts.NewSignatureInvalid(
			"signature does not verify against ministry %s's active key", p.MinistryID)
	}

	sig := contracts.Signature{
		ID:         "sig-" + uuid.New().String(),
		MinistryID: p.MinistryID,
		KeyID:      p.KeyID,
		ActionType: p.ActionType,
		Scope:      p.Scope,
		Value:      p.Signature,
		SignedAt:   l.clock().UTC(),
	}
	d.Signatures = append(d.Signatures, sig)

	eval, err := policy.Evaluate(ctx, d.Policy, d.Signatures, l.resolveKey)
	if err != nil {
		return nil, err
	}

	if eval.Authorized {
		// Append + transition happen atomically under the decision lock;
		// authorizeLocked persists the signature set along with the status.
		if err := l.authorizeLocked(ctx, d); err != nil {
			return nil, err
		}
	} else if err := l.decisions.Update(ctx, d); err != nil {
		return nil, err
	}

	return &SubmitResult{Signature: sig, Decision: d, Evaluation: eval}, nil
}

func sameSubmission(existing *contracts.Signature, p SubmitParams) bool {
	if existing.Value != p.Signature || existing.KeyID != p.KeyID || existing.ActionType != p.ActionType {
		return false
	}
	a, errA := canonicalize.Hash(existing.Scope)
	b, errB := canonicalize.Hash(p.Scope)
	return errA == nil && errB == nil && a == b
}
