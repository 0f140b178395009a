package evidence

import (
	"time"

	"github.com/google/uuid"

	"fiscalproof/internal/dualhash"
	"fiscalproof/internal/merkle"
	"fiscalproof/internal/receipt"
)

// Chain is an ordered receipt collection with a live Merkle root.
// Receipts accumulate until Seal freezes the chain for anchoring;
// additions after sealing are rejected.
type Chain struct {
	ChainID    string            `json:"chain_id"`
	Receipts   []receipt.Receipt `json:"receipts"`
	MerkleRoot string            `json:"merkle_root"`
	AnchorHash string            `json:"anchor_hash"`
	IsSealed   bool              `json:"is_sealed"`
	SealedAt   string            `json:"sealed_at,omitempty"`

	hasher *dualhash.Hasher
	tree   *merkle.Builder
	leaves []string
}

// SealSummary records the state of a chain at the moment of sealing.
type SealSummary struct {
	ChainID      string `json:"chain_id"`
	MerkleRoot   string `json:"merkle_root"`
	AnchorHash   string `json:"anchor_hash"`
	ReceiptCount int    `json:"receipt_count"`
	SealedAt     string `json:"sealed_at"`
}

// NewChain starts an empty chain with a fresh id. A nil hasher means
// the package default.
func NewChain(h *dualhash.Hasher) *Chain {
	if h == nil {
		h = dualhash.New()
	}
	c := &Chain{
		ChainID: uuid.NewString(),
		hasher:  h,
		tree:    merkle.New(h),
	}
	c.MerkleRoot = c.tree.EmptyRoot()
	return c
}

// Len returns the number of receipts in the chain.
func (c *Chain) Len() int { return len(c.Receipts) }

// Add appends a receipt and recomputes the root. Sealed chains reject
// additions with ErrChainSealed.
func (c *Chain) Add(r receipt.Receipt) error {
	if c.IsSealed {
		return ErrChainSealed
	}
	cbytes, err := r.Canonical()
	if err != nil {
		return err
	}
	c.Receipts = append(c.Receipts, r)
	c.leaves = append(c.leaves, c.hasher.Hash(cbytes))
	c.MerkleRoot = c.tree.Root(c.leaves)
	return nil
}

// Seal freezes the chain: the root is final and the anchor hash
// commits to it. Sealing an already-sealed chain returns the existing
// summary.
func (c *Chain) Seal() SealSummary {
	if !c.IsSealed {
		c.MerkleRoot = c.tree.Root(c.leaves)
		c.AnchorHash = c.hasher.HashString(c.MerkleRoot)
		c.SealedAt = receipt.Timestamp(time.Now())
		c.IsSealed = true
	}
	return SealSummary{
		ChainID:      c.ChainID,
		MerkleRoot:   c.MerkleRoot,
		AnchorHash:   c.AnchorHash,
		ReceiptCount: len(c.Receipts),
		SealedAt:     c.SealedAt,
	}
}
