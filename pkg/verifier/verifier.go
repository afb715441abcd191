// Package verifier re-checks the decision hash chain and the sovereign hash
// offline, from persisted records only. It never mutates anything, so a copy
// of the ledger can be verified on an air-gapped machine.
package verifier

import (
	"fmt"

	"github.com/aegisgrid/mandate/pkg/contracts"
	"github.com/aegisgrid/mandate/pkg/ledger"
	"github.com/aegisgrid/mandate/pkg/merkle"
)

// Result reports the outcome of a chain verification. Every break found is
// listed; verification never stops at the first error.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// VerifyChain checks every previous-hash link against the predecessor's
// persisted content hash, and separately recomputes each decision's content
// hash against its persisted one. Keeping the two checks independent pins a
// mutation to the decision that carries it: a forged field or a forged link
// reports on its own decision instead of cascading down the chain. The first
// decision must carry no previous hash.
func VerifyChain(decisions []*contracts.Decision) Result {
	var errs []string
	for i, d := range decisions {
		if i == 0 {
			if d.PrevHash != "" {
				errs = append(errs, fmt.Sprintf(
					"decision %d (%s): first decision must have no previous hash, got %s",
					i, d.ID, d.PrevHash))
			}
		} else if prev := decisions[i-1].ContentHash; d.PrevHash != prev {
			errs = append(errs, fmt.Sprintf(
				"decision %d (%s): previous hash %s does not match predecessor's persisted hash %s",
				i, d.ID, d.PrevHash, prev))
		}

		recomputed, err := ledger.ContentHash(d)
		if err != nil {
			errs = append(errs, fmt.Sprintf("decision %d (%s): content hash recomputation failed: %v", i, d.ID, err))
			continue
		}
		if d.ContentHash != recomputed {
			errs = append(errs, fmt.Sprintf(
				"decision %d (%s): persisted content hash %s does not match recomputed %s",
				i, d.ID, d.ContentHash, recomputed))
		}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// VerifyReceipts checks the receipt chain's previous-hash links and, for
// authorized decisions provided in decisionsByID, that each receipt hash
// matches the recomputed hash of its decision.
func VerifyReceipts(receipts []*contracts.Receipt, decisionsByID map[string]*contracts.Decision) Result {
	var errs []string
	prevHash := ""
	for i, r := range receipts {
		if r.PrevReceiptHash != prevHash {
			errs = append(errs, fmt.Sprintf(
				"receipt %d (%s): previous receipt hash %s does not match %s",
				i, r.ReceiptID, r.PrevReceiptHash, prevHash))
		}
		if d, ok := decisionsByID[r.DecisionID]; ok {
			recomputed, err := ledger.ReceiptHash(d)
			if err != nil {
				errs = append(errs, fmt.Sprintf(
					"receipt %d (%s): receipt hash recomputation failed: %v", i, r.ReceiptID, err))
			} else if recomputed != r.ReceiptHash {
				errs = append(errs, fmt.Sprintf(
					"receipt %d (%s): receipt hash %s does not match recomputed %s",
					i, r.ReceiptID, r.ReceiptHash, recomputed))
			}
		}
		prevHash = r.ReceiptHash
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// ComputeSovereignHash builds the order-sensitive Merkle root over the
// ordered receipt hashes. Order must follow authorization order; permuting
// any two leaves changes the root.
func ComputeSovereignHash(receiptHashes []string) string {
	return merkle.Root(receiptHashes)
}
