// Package policy implements the M-of-N quorum evaluation over a decision's
// signature set. Evaluation is pure and stateless: it can be re-run at any
// time (including long after authorization, for audit re-verification)
// without touching persisted decision state.
package policy

import (
	"context"
	"fmt"

	"github.com/aegisgrid/mandate/pkg/contracts"
)

// KeyResolver reports a ministry's currently active key id. A ministry with a
// revoked key resolves to "". Resolution failures for unknown ministries are
// returned as errors.
type KeyResolver func(ctx context.Context, ministryID string) (string, error)

// Evaluation is the outcome of running a policy over a signature set.
type Evaluation struct {
	Authorized bool     `json:"authorized"`
	ValidCount int      `json:"valid_count"`
	Signed     []string `json:"ministries_signed"`
	Missing    []string `json:"ministries_missing"`
}

// Evaluate filters signatures to those from eligible ministries whose key id
// still matches the ministry's active key, deduplicated to one per ministry
// (first valid wins), and compares the count against the threshold.
//
// A signature whose key was later revoked or rotated stops counting here;
// persisted decision status is never changed by re-evaluation.
func Evaluate(ctx context.Context, p contracts.DecisionPolicy, signatures []contracts.Signature, resolve KeyResolver) (*Evaluation, error) {
	eligible := make(map[string]struct{}, len(p.Signers))
	for _, id := range p.Signers {
		eligible[id] = struct{}{}
	}

	counted := make(map[string]struct{}, len(signatures))
	for _, sig := range signatures {
		if _, ok := eligible[sig.MinistryID]; !ok {
			continue
		}
		if _, dup := counted[sig.MinistryID]; dup {
			continue
		}
		activeKeyID, err := resolve(ctx, sig.MinistryID)
		if err != nil {
			if contracts.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("policy: resolve key for %s: %w", sig.MinistryID, err)
		}
		if activeKeyID == "" || sig.KeyID != activeKeyID {
			continue
		}
		counted[sig.MinistryID] = struct{}{}
	}

	eval := &Evaluation{
		ValidCount: len(counted),
		Authorized: len(counted) >= p.Threshold,
	}
	// Preserve policy order so output is deterministic.
	for _, id := range p.Signers {
		if _, ok := counted[id]; ok {
			eval.Signed = append(eval.Signed, id)
		} else {
			eval.Missing = append(eval.Missing, id)
		}
	}
	return eval, nil
}
