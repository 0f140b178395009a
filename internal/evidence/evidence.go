// Package evidence turns receipt streams into verifiable artifacts.
//
// A receipt on its own says one analysis happened; evidence binds the
// whole stream together. The package validates receipt chains, builds
// Merkle inclusion proofs for individual receipts, creates anchors
// (hash commitments suitable for external timestamping), and exports
// self-contained proof bundles an auditor can verify offline.
//
// Everything here is recomputable: a bundle carries the receipts it
// proves, so verification never needs the emitting process, its
// ledger, or its configuration.
package evidence

import (
	"bytes"
	"errors"
	"os"
	"time"

	"fiscalproof/internal/dualhash"
	"fiscalproof/internal/ledger"
	"fiscalproof/internal/logging"
	"fiscalproof/internal/merkle"
	"fiscalproof/internal/receipt"
)

var (
	// ErrNoReceipts means a proof was requested over an empty chain.
	ErrNoReceipts = errors.New("evidence: no receipts to prove")

	// ErrChainSealed means a receipt was added to a sealed chain.
	ErrChainSealed = errors.New("evidence: chain is sealed")
)

// Finding pairs a detector verdict with the receipt that recorded it.
type Finding struct {
	FindingType string           `json:"finding_type"`
	Receipt     *receipt.Receipt `json:"receipt,omitempty"`
}

// ValidationError is one structural defect in a receipt chain.
type ValidationError struct {
	Index       int    `json:"index"`
	Err         string `json:"error"`
	ReceiptType string `json:"receipt_type"`
}

// ChainValidation is the outcome of a structural chain check.
type ChainValidation struct {
	Valid        bool              `json:"valid"`
	ReceiptCount int               `json:"receipt_count"`
	Errors       []ValidationError `json:"errors"`
	MerkleRoot   string            `json:"merkle_root,omitempty"`
}

// Anchor is a hash commitment over a receipt batch, the unit handed
// to external timestamping.
type Anchor struct {
	AnchorType   string `json:"anchor_type"`
	MerkleRoot   string `json:"merkle_root"`
	ReceiptCount int    `json:"receipt_count"`
	AnchorHash   string `json:"anchor_hash"`
	Timestamp    string `json:"timestamp"`
}

// ReceiptProof is the inclusion proof for one receipt in a chain.
type ReceiptProof struct {
	ReceiptIndex int                `json:"receipt_index"`
	ReceiptType  string             `json:"receipt_type"`
	Proof        []merkle.ProofStep `json:"proof"`
}

// ProofChain proves every receipt in a batch against one root. The
// receipts ride along so the chain verifies without the ledger that
// produced it.
type ProofChain struct {
	ChainValid       bool              `json:"chain_valid"`
	ReceiptCount     int               `json:"receipt_count"`
	MerkleRoot       string            `json:"merkle_root"`
	Anchor           Anchor            `json:"anchor"`
	Proofs           []ReceiptProof    `json:"proofs"`
	ValidationErrors []ValidationError `json:"validation_errors"`
	Receipts         []receipt.Receipt `json:"receipts"`
}

// ProofResult is the outcome of proving a single finding.
type ProofResult struct {
	Provable     bool               `json:"provable"`
	Err          string             `json:"error,omitempty"`
	FindingType  string             `json:"finding_type"`
	ReceiptIndex int                `json:"receipt_index"`
	MerkleRoot   string             `json:"merkle_root"`
	Proof        []merkle.ProofStep `json:"proof"`
	Verified     bool               `json:"verified"`
}

// Reasons a finding cannot be proven.
const (
	ReasonNoReceipt         = "no_receipt"
	ReasonReceiptNotInChain = "receipt_not_in_chain"
)

// Config wires a Prover.
type Config struct {
	// Emitter receives anchor and proof_bundle receipts. Nil means a
	// default stdout emitter.
	Emitter *receipt.Emitter
	// Hasher computes leaves, roots, and bundle hashes. Nil means the
	// emitter's hasher.
	Hasher *dualhash.Hasher
	// Logger for diagnostics. Nil means the process default.
	Logger *logging.Logger
	// Now supplies anchor and bundle timestamps. Nil means time.Now.
	Now func() time.Time
}

// Prover validates chains and generates proofs, anchors, and bundles.
type Prover struct {
	emitter *receipt.Emitter
	hasher  *dualhash.Hasher
	tree    *merkle.Builder
	log     *logging.Logger
	now     func() time.Time
}

// NewProver creates a prover from cfg, filling zero fields with
// defaults.
func NewProver(cfg Config) *Prover {
	p := &Prover{
		emitter: cfg.Emitter,
		hasher:  cfg.Hasher,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
	if p.emitter == nil {
		p.emitter = receipt.NewEmitter(receipt.Config{})
	}
	if p.hasher == nil {
		p.hasher = p.emitter.Hasher()
	}
	if p.log == nil {
		p.log = logging.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.tree = merkle.New(p.hasher)
	return p
}

// leafHashes computes the Merkle leaf for every receipt: the dual
// hash of its canonical JSON line.
func (p *Prover) leafHashes(receipts []receipt.Receipt) ([]string, error) {
	leaves := make([]string, len(receipts))
	for i, r := range receipts {
		c, err := r.Canonical()
		if err != nil {
			return nil, err
		}
		leaves[i] = p.hasher.Hash(c)
	}
	return leaves, nil
}

// ValidateChain checks every receipt carries the four envelope fields.
// It is structural only: payload hashes are not recomputed here (see
// VerifyPayloadHashes). All defects are collected, never just the
// first.
func (p *Prover) ValidateChain(receipts []receipt.Receipt) (ChainValidation, error) {
	errs := []ValidationError{}
	if len(receipts) == 0 {
		return ChainValidation{Valid: true, ReceiptCount: 0, Errors: errs}, nil
	}

	for i, r := range receipts {
		rtype := r.Type
		if rtype == "" {
			rtype = "unknown"
		}
		for _, f := range []struct{ key, value string }{
			{receipt.KeyType, r.Type},
			{receipt.KeyTimestamp, r.Timestamp},
			{receipt.KeyTenantID, r.TenantID},
			{receipt.KeyPayloadHash, r.PayloadHash},
		} {
			if f.value == "" {
				errs = append(errs, ValidationError{
					Index:       i,
					Err:         "missing_field:" + f.key,
					ReceiptType: rtype,
				})
			}
		}
	}

	leaves, err := p.leafHashes(receipts)
	if err != nil {
		return ChainValidation{}, err
	}
	return ChainValidation{
		Valid:        len(errs) == 0,
		ReceiptCount: len(receipts),
		Errors:       errs,
		MerkleRoot:   p.tree.Root(leaves),
	}, nil
}

// CreateAnchor commits a receipt batch to a single hash and emits the
// "anchor" receipt recording it. An empty anchorType means "merkle".
func (p *Prover) CreateAnchor(receipts []receipt.Receipt, anchorType string) (Anchor, error) {
	if anchorType == "" {
		anchorType = "merkle"
	}
	leaves, err := p.leafHashes(receipts)
	if err != nil {
		return Anchor{}, err
	}
	root := p.tree.Root(leaves)

	anchor := Anchor{
		AnchorType:   anchorType,
		MerkleRoot:   root,
		ReceiptCount: len(receipts),
		AnchorHash:   p.hasher.HashString(root),
		Timestamp:    receipt.Timestamp(p.now()),
	}

	if _, err := p.emitter.Emit(receipt.TypeAnchor, map[string]any{
		"anchor_type": anchorType,
		"merkle_root": root,
		"hash_algos":  p.hasher.Algorithms(),
		"batch_size":  len(receipts),
		"anchor_hash": anchor.AnchorHash,
	}); err != nil {
		return Anchor{}, err
	}
	return anchor, nil
}

// BuildProofChain validates the batch, proves every receipt, and
// anchors the result. The anchor receipt is emitted as a side effect.
func (p *Prover) BuildProofChain(receipts []receipt.Receipt) (*ProofChain, error) {
	if len(receipts) == 0 {
		return nil, ErrNoReceipts
	}

	validation, err := p.ValidateChain(receipts)
	if err != nil {
		return nil, err
	}

	leaves, err := p.leafHashes(receipts)
	if err != nil {
		return nil, err
	}
	proofs := make([]ReceiptProof, len(receipts))
	for i, r := range receipts {
		steps, err := p.tree.BuildProof(leaves, i)
		if err != nil {
			return nil, err
		}
		proofs[i] = ReceiptProof{
			ReceiptIndex: i,
			ReceiptType:  r.Type,
			Proof:        steps,
		}
	}

	anchor, err := p.CreateAnchor(receipts, "")
	if err != nil {
		return nil, err
	}

	return &ProofChain{
		ChainValid:       validation.Valid,
		ReceiptCount:     len(receipts),
		MerkleRoot:       validation.MerkleRoot,
		Anchor:           anchor,
		Proofs:           proofs,
		ValidationErrors: validation.Errors,
		Receipts:         receipts,
	}, nil
}

// ProveFinding locates the finding's receipt in the batch by canonical
// equality and returns its inclusion proof, verified against the
// recomputed root. Findings that cannot be proven get a reason, not an
// error; errors are reserved for encoding failures.
func (p *Prover) ProveFinding(finding Finding, all []receipt.Receipt) (*ProofResult, error) {
	if finding.Receipt == nil {
		return &ProofResult{
			Provable:    false,
			Err:         ReasonNoReceipt,
			FindingType: finding.FindingType,
		}, nil
	}

	target, err := finding.Receipt.Canonical()
	if err != nil {
		return nil, err
	}
	index := -1
	for i, r := range all {
		c, err := r.Canonical()
		if err != nil {
			return nil, err
		}
		if bytes.Equal(c, target) {
			index = i
			break
		}
	}
	if index == -1 {
		return &ProofResult{
			Provable:    false,
			Err:         ReasonReceiptNotInChain,
			FindingType: finding.FindingType,
		}, nil
	}

	leaves, err := p.leafHashes(all)
	if err != nil {
		return nil, err
	}
	proof, err := p.tree.BuildProof(leaves, index)
	if err != nil {
		return nil, err
	}
	root := p.tree.Root(leaves)

	return &ProofResult{
		Provable:     true,
		FindingType:  finding.FindingType,
		ReceiptIndex: index,
		MerkleRoot:   root,
		Proof:        proof,
		Verified:     p.tree.VerifyProof(leaves[index], proof, root),
	}, nil
}

// LoadReceipts reads a JSONL receipt file into memory. A missing file
// is an empty chain, matching the semantics of a ledger that has not
// seen its first receipt yet.
func LoadReceipts(path string) ([]receipt.Receipt, error) {
	receipts, err := ledger.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return receipts, err
}
