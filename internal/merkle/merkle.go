// Package merkle builds hash trees over receipt leaf hashes and
// produces inclusion proofs for them.
//
// Leaves are the dual-hash strings of canonical receipt lines. A
// level with an odd number of nodes is padded by duplicating its last
// hash, and the proof builder walks the same padded levels as the
// root computation, so every proof it returns verifies against the
// root for the same leaf set, at any leaf count.
package merkle

import (
	"errors"
	"fmt"

	"fiscalproof/internal/dualhash"
)

// Proof step positions: which side of the running hash the sibling
// sits on.
const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// Merkle errors
var (
	ErrNoLeaves   = errors.New("merkle: no leaves")
	ErrIndexRange = errors.New("merkle: leaf index out of range")
)

// ProofStep is one sibling hash on the path from a leaf to the root.
type ProofStep struct {
	Hash     string `json:"hash"`
	Position string `json:"position"`
}

// Builder computes roots and proofs with a fixed hasher.
type Builder struct {
	h *dualhash.Hasher
}

// New returns a Builder using h, or the default hasher when h is nil.
func New(h *dualhash.Hasher) *Builder {
	if h == nil {
		h = dualhash.New()
	}
	return &Builder{h: h}
}

// EmptyRoot is the root of a tree with no leaves: the dual hash of
// the literal string "empty".
func (b *Builder) EmptyRoot() string {
	return b.h.HashString("empty")
}

// Root computes the tree root. A single leaf is its own root.
func (b *Builder) Root(leaves []string) string {
	if len(leaves) == 0 {
		return b.EmptyRoot()
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		level = b.reduce(level)
	}
	return level[0]
}

// BuildProof returns the inclusion proof for the leaf at index. A
// single-leaf tree has an empty proof.
func (b *Builder) BuildProof(leaves []string, index int) ([]ProofStep, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexRange, index, len(leaves))
	}

	proof := []ProofStep{}
	level := append([]string(nil), leaves...)
	idx := index
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		if idx%2 == 0 {
			proof = append(proof, ProofStep{Hash: level[idx+1], Position: PositionRight})
		} else {
			proof = append(proof, ProofStep{Hash: level[idx-1], Position: PositionLeft})
		}
		level = b.reduce(level)
		idx /= 2
	}
	return proof, nil
}

// VerifyProof replays proof from leaf and reports whether it lands on
// root. Unknown step positions fail closed.
func (b *Builder) VerifyProof(leaf string, proof []ProofStep, root string) bool {
	h := leaf
	for _, step := range proof {
		switch step.Position {
		case PositionLeft:
			h = b.h.HashString(step.Hash + h)
		case PositionRight:
			h = b.h.HashString(h + step.Hash)
		default:
			return false
		}
	}
	return h == root
}

// reduce pads level to even length and hashes adjacent pairs.
func (b *Builder) reduce(level []string) []string {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([]string, 0, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next = append(next, b.h.HashString(level[i]+level[i+1]))
	}
	return next
}

var std = New(nil)

// Root computes the tree root with the default hasher.
func Root(leaves []string) string { return std.Root(leaves) }

// EmptyRoot returns the empty-tree root for the default hasher.
func EmptyRoot() string { return std.EmptyRoot() }

// BuildProof builds an inclusion proof with the default hasher.
func BuildProof(leaves []string, index int) ([]ProofStep, error) {
	return std.BuildProof(leaves, index)
}

// VerifyProof verifies an inclusion proof with the default hasher.
func VerifyProof(leaf string, proof []ProofStep, root string) bool {
	return std.VerifyProof(leaf, proof, root)
}
