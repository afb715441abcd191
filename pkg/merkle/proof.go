package merkle

// InclusionProof proves a single receipt hash belongs to a sovereign hash.
type InclusionProof struct {
	LeafIndex int         `json:"leaf_index"`
	LeafHash  string      `json:"leaf_hash"`
	Root      string      `json:"root"`
	Path      []ProofStep `json:"path"`
}

// ProofStep is one sibling on the path from leaf to root.
type ProofStep struct {
	Side    string `json:"side"` // "L" or "R"
	Sibling string `json:"sibling"`
}

// Prove generates an inclusion proof for the leaf at index. Returns nil if
// the index is out of range.
func (t *Tree) Prove(index int) *InclusionProof {
	if index < 0 || index >= len(t.Leaves) {
		return nil
	}
	proof := &InclusionProof{
		LeafIndex: index,
		LeafHash:  t.Leaves[index],
		Root:      t.Root,
	}

	pos := index
	for _, level := range t.Levels[:len(t.Levels)-1] {
		sibPos := pos ^ 1
		var sibling string
		if sibPos < len(level) {
			sibling = level[sibPos]
		} else {
			sibling = level[pos] // odd node pairs with its duplicate
		}
		side := "R"
		if sibPos < pos {
			side = "L"
		}
		proof.Path = append(proof.Path, ProofStep{Side: side, Sibling: sibling})
		pos /= 2
	}
	return proof
}

// VerifyProof walks the proof path and checks the recomputed root against the
// expected one.
func VerifyProof(proof *InclusionProof, expectedRoot string) bool {
	if proof == nil || proof.Root != expectedRoot {
		return false
	}
	current := proof.LeafHash
	for _, step := range proof.Path {
		if step.Side == "L" {
			current = nodeHash(step.Sibling, current)
		} else {
			current = nodeHash(current, step.Sibling)
		}
	}
	return current == expectedRoot
}
