package ledger

import (
	"time"

	"github.com/aegisgrid/mandate/pkg/canonicalize"
	"github.com/aegisgrid/mandate/pkg/contracts"
)

// decisionContent is the immutable creation-time content a decision's hash
// commits to. Signatures and lifecycle fields are deliberately excluded so
// the hash is stable from the moment of creation; that is what allows the
// next decision to link to it while this one is still collecting signatures.
type decisionContent struct {
	ID         string                   `json:"id"`
	Sequence   uint64                   `json:"sequence"`
	IncidentID string                   `json:"incident_id"`
	PlaybookID string                   `json:"playbook_id"`
	StepID     string                   `json:"step_id,omitempty"`
	Policy     contracts.DecisionPolicy `json:"policy"`
	PrevHash   string                   `json:"prev_decision_hash,omitempty"`
	CreatedAt  string                   `json:"created_at"`
}

// ContentHash computes the decision's chain hash over its immutable creation
// content. Deterministic: recomputable from the persisted record at any time.
func ContentHash(d *contracts.Decision) (string, error) {
	return canonicalize.Hash(decisionContent{
		ID:         d.ID,
		Sequence:   d.Sequence,
		IncidentID: d.IncidentID,
		PlaybookID: d.PlaybookID,
		StepID:     d.StepID,
		Policy:     d.Policy,
		PrevHash:   d.PrevHash,
		CreatedAt:  d.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
}

// receiptContent is what an authorized decision's receipt hash commits to:
// the creation content hash plus the signature set and authorization time.
type receiptContent struct {
	ContentHash  string                `json:"content_hash"`
	Signatures   []contracts.Signature `json:"signatures"`
	AuthorizedAt string                `json:"authorized_at"`
}

// ReceiptHash computes the receipt hash for an authorized decision.
func ReceiptHash(d *contracts.Decision) (string, error) {
	if d.AuthorizedAt == nil {
		return "", contracts.NewInvalidState("decision %s is not authorized", d.ID)
	}
	return canonicalize.Hash(receiptContent{
		ContentHash:  d.ContentHash,
		Signatures:   d.Signatures,
		AuthorizedAt: d.AuthorizedAt.UTC().Format(time.RFC3339Nano),
	})
}
