// Package merkle computes the sovereign hash: an order-sensitive Merkle root
// over the sequence of receipt hashes. Leaves are the receipt hashes
// themselves, in authorization order. Levels are built pairwise by hashing a
// domain-separated concatenation of the two children; when a level has an odd
// node count, the last node is duplicated. The same ordered input always
// yields the same root, and any reordering changes it.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

const nodePrefix = "mandate:sovereign:node:v1"

// Tree is a Merkle tree built over ordered receipt hashes.
type Tree struct {
	Leaves []string   `json:"leaves"`
	Root   string     `json:"root"`
	Levels [][]string `json:"-"` // Levels[0] is the leaf level
}

// Build constructs the tree over ordered leaf hashes. An empty input yields
// an empty root.
func Build(leaves []string) *Tree {
	t := &Tree{Leaves: append([]string(nil), leaves...)}
	if len(leaves) == 0 {
		return t
	}

	level := append([]string(nil), leaves...)
	t.Levels = append(t.Levels, level)
	for len(level) > 1 {
		level = nextLevel(level)
		t.Levels = append(t.Levels, level)
	}
	t.Root = level[0]
	return t
}

// Root returns the sovereign hash over ordered receipt hashes.
func Root(leaves []string) string {
	return Build(leaves).Root
}

func nextLevel(hashes []string) []string {
	if len(hashes)%2 != 0 {
		hashes = append(hashes, hashes[len(hashes)-1]) // duplicate last
	}
	next := make([]string, len(hashes)/2)
	for i := 0; i < len(hashes); i += 2 {
		next[i/2] = nodeHash(hashes[i], hashes[i+1])
	}
	return next
}

func nodeHash(left, right string) string {
	var buf bytes.Buffer
	buf.WriteString(nodePrefix)
	buf.WriteByte(0)
	buf.WriteString(left)
	buf.WriteByte(0)
	buf.WriteString(right)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
