package contracts

import (
	"fmt"
	"time"
)

// DecisionStatus is the lifecycle state of a decision. Transitions are
// one-way: PENDING → AUTHORIZED → EXECUTED, or PENDING → REJECTED.
type DecisionStatus string

const (
	DecisionPending    DecisionStatus = "PENDING"
	DecisionAuthorized DecisionStatus = "AUTHORIZED"
	DecisionRejected   DecisionStatus = "REJECTED"
	DecisionExecuted   DecisionStatus = "EXECUTED"
)

// DecisionPolicy is the M-of-N quorum rule gating a decision.
// Invariant: 1 <= Threshold <= Required == len(Signers), signers unique.
type DecisionPolicy struct {
	Threshold int      `json:"threshold"`
	Required  int      `json:"required"`
	Signers   []string `json:"signers"`
}

// Validate checks the policy invariants.
func (p DecisionPolicy) Validate() error {
	if p.Threshold < 1 {
		return NewValidation("policy threshold must be >= 1, got %d", p.Threshold)
	}
	if p.Required < p.Threshold {
		return NewValidation("policy required (%d) must be >= threshold (%d)", p.Required, p.Threshold)
	}
	if len(p.Signers) != p.Required {
		return NewValidation("policy signers count (%d) must equal required (%d)", len(p.Signers), p.Required)
	}
	seen := make(map[string]struct{}, len(p.Signers))
	for _, id := range p.Signers {
		if id == "" {
			return NewValidation("policy signers must be non-empty identifiers")
		}
		if _, dup := seen[id]; dup {
			return NewValidation("policy signer %q listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Eligible reports whether ministryID is part of the policy's signer set.
func (p DecisionPolicy) Eligible(ministryID string) bool {
	for _, id := range p.Signers {
		if id == ministryID {
			return true
		}
	}
	return false
}

// ActionScope constrains what an authorized action may affect. It is part of
// the signed payload, so a signature binds to a specific scope.
type ActionScope struct {
	Region string         `json:"region,omitempty"`
	Assets []string       `json:"assets,omitempty"`
	Limits map[string]any `json:"limits,omitempty"`
}

// Signature is one ministry's sign-off on a decision. At most one signature
// per (decision, ministry) pair is ever recorded.
type Signature struct {
	ID         string      `json:"id"`
	MinistryID string      `json:"ministry_id"`
	KeyID      string      `json:"key_id"`
	ActionType string      `json:"action_type"`
	Scope      ActionScope `json:"scope"`
	Value      string      `json:"signature"` // hex-encoded signature bytes
	SignedAt   time.Time   `json:"signed_at"`
}

// Decision is a request for authorization of a high-consequence action,
// gated by an M-of-N policy and chained to its predecessor's content hash.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Decision struct {
	ID           string         `json:"id"`
	Sequence     uint64         `json:"sequence"`
	IncidentID   string         `json:"incident_id"`
	PlaybookID   string         `json:"playbook_id"`
	StepID       string         `json:"step_id,omitempty"`
	Policy       DecisionPolicy `json:"policy"`
	Status       DecisionStatus `json:"status"`
	Signatures   []Signature    `json:"signatures"`
	PrevHash     string         `json:"prev_decision_hash,omitempty"`
	ContentHash  string         `json:"content_hash,omitempty"`
	RejectReason string         `json:"reject_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	AuthorizedAt *time.Time     `json:"authorized_at,omitempty"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
}

// SignatureBy returns the recorded signature from a ministry, if any.
func (d *Decision) SignatureBy(ministryID string) *Signature {
	for i := range d.Signatures {
		if d.Signatures[i].MinistryID == ministryID {
			return &d.Signatures[i]
		}
	}
	return nil
}

// CanTransition reports whether moving from the decision's current status to
// target is a legal state-machine edge.
func (d *Decision) CanTransition(target DecisionStatus) bool {
	switch target {
	case DecisionAuthorized, DecisionRejected:
		return d.Status == DecisionPending
	case DecisionExecuted:
		return d.Status == DecisionAuthorized
	}
	return false
}

// DecisionFilter narrows List queries over the decision ledger.
type DecisionFilter struct {
	Status     DecisionStatus
	IncidentID string
	PlaybookID string
	Limit      int
	Offset     int
}

func (f DecisionFilter) String() string {
	return fmt.Sprintf("status=%s incident=%s playbook=%s limit=%d offset=%d",
		f.Status, f.IncidentID, f.PlaybookID, f.Limit, f.Offset)
}
