package evidence

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"fiscalproof/internal/canonical"
	"fiscalproof/internal/receipt"
	"fiscalproof/internal/security"
)

// FormatVersion identifies the bundle layout. Verifiers reject
// versions they do not know.
const FormatVersion = "1.0"

// MaxBundleBytes bounds bundle files on read. Bundles carry full
// receipt batches but remain far below this in practice.
const MaxBundleBytes = 32 << 20

// Bundle is a self-contained proof export: the chain, its anchor, and
// enough instructions for an auditor to verify everything offline.
type Bundle struct {
	BundleID                 string            `json:"bundle_id"`
	FormatVersion            string            `json:"format_version"`
	CreatedAt                string            `json:"created_at"`
	Chain                    *ProofChain       `json:"chain"`
	FindingsCount            int               `json:"findings_count"`
	VerificationInstructions map[string]string `json:"verification_instructions"`
	BundleHash               string            `json:"bundle_hash"`
}

func verificationInstructions() map[string]string {
	return map[string]string{
		"1": "Compute the Merkle root over the canonical JSON of every receipt",
		"2": "Verify the root matches anchor.merkle_root",
		"3": "Verify each receipt's inclusion proof against the root",
		"4": "Verify anchor_hash is the dual hash of the Merkle root",
	}
}

// ExportBundle builds a proof chain over the findings' receipts and
// wraps it for export. The bundle hash commits to the canonical JSON
// of the chain, so any tampering with receipts, proofs, or the anchor
// breaks it. An empty bundleID gets a fresh uuid. Emits a
// "proof_bundle" receipt.
func (p *Prover) ExportBundle(findings []Finding, bundleID string) (*Bundle, error) {
	receipts := make([]receipt.Receipt, 0, len(findings))
	for _, f := range findings {
		if f.Receipt != nil {
			receipts = append(receipts, *f.Receipt)
		}
	}
	chain, err := p.BuildProofChain(receipts)
	if err != nil {
		return nil, err
	}

	if bundleID == "" {
		bundleID = uuid.NewString()
	}
	chainJSON, err := canonical.Marshal(chain)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{
		BundleID:                 bundleID,
		FormatVersion:            FormatVersion,
		CreatedAt:                receipt.Timestamp(p.now()),
		Chain:                    chain,
		FindingsCount:            len(findings),
		VerificationInstructions: verificationInstructions(),
		BundleHash:               p.hasher.Hash(chainJSON),
	}

	if _, err := p.emitter.Emit(receipt.TypeProofBundle, map[string]any{
		"bundle_id":      bundle.BundleID,
		"findings_count": bundle.FindingsCount,
		"chain_valid":    chain.ChainValid,
		"merkle_root":    chain.MerkleRoot,
		"bundle_hash":    bundle.BundleHash,
	}); err != nil {
		return nil, err
	}
	return bundle, nil
}

// WriteBundle exports the bundle to path atomically (temp file plus
// rename) with owner-only permissions.
func (p *Prover) WriteBundle(b *Bundle, path string) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("evidence: encode bundle: %w", err)
	}
	return security.WriteSecureFile(path, append(data, '\n'), 0o600)
}

// ReadBundle loads a bundle from disk without verifying it.
func ReadBundle(path string) (*Bundle, error) {
	data, err := security.ReadSecureFile(path, MaxBundleBytes)
	if err != nil {
		return nil, fmt.Errorf("evidence: read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("evidence: decode bundle: %w", err)
	}
	return &b, nil
}

// Check is one step of offline bundle verification.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// BundleReport is the outcome of verifying a bundle. Valid means
// every check passed.
type BundleReport struct {
	Valid  bool    `json:"valid"`
	Checks []Check `json:"checks"`
}

func (r *BundleReport) add(name string, passed bool, detail string) {
	if !passed {
		r.Valid = false
	}
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: detail})
}

// VerifyBundle recomputes everything a bundle claims: the Merkle root
// over the bundled receipts, every inclusion proof, the anchor hash,
// the structural validity flag, and the bundle hash. It runs entirely
// offline and emits nothing.
func (p *Prover) VerifyBundle(b *Bundle) *BundleReport {
	report := &BundleReport{Valid: true}

	if b.FormatVersion != FormatVersion {
		report.add("format_version", false,
			fmt.Sprintf("unsupported version %q", b.FormatVersion))
		return report
	}
	report.add("format_version", true, "")

	if b.Chain == nil || len(b.Chain.Receipts) == 0 {
		report.add("receipts_present", false, "bundle carries no receipts")
		return report
	}
	report.add("receipts_present", true,
		fmt.Sprintf("%d receipts", len(b.Chain.Receipts)))

	leaves, err := p.leafHashes(b.Chain.Receipts)
	if err != nil {
		report.add("canonical_encoding", false, err.Error())
		return report
	}
	root := p.tree.Root(leaves)
	report.add("merkle_root", root == b.Chain.MerkleRoot,
		"recomputed root against chain.merkle_root")
	report.add("anchor_root", b.Chain.Anchor.MerkleRoot == b.Chain.MerkleRoot,
		"anchor.merkle_root against chain.merkle_root")
	report.add("anchor_hash",
		p.hasher.HashString(b.Chain.Anchor.MerkleRoot) == b.Chain.Anchor.AnchorHash,
		"dual hash of the root against anchor_hash")

	proofsOK := len(b.Chain.Proofs) == len(b.Chain.Receipts)
	detail := ""
	if proofsOK {
		for _, rp := range b.Chain.Proofs {
			if rp.ReceiptIndex < 0 || rp.ReceiptIndex >= len(leaves) {
				proofsOK = false
				detail = fmt.Sprintf("proof index %d out of range", rp.ReceiptIndex)
				break
			}
			if !p.tree.VerifyProof(leaves[rp.ReceiptIndex], rp.Proof, root) {
				proofsOK = false
				detail = fmt.Sprintf("inclusion proof failed at index %d", rp.ReceiptIndex)
				break
			}
		}
	} else {
		detail = fmt.Sprintf("%d proofs for %d receipts",
			len(b.Chain.Proofs), len(b.Chain.Receipts))
	}
	report.add("inclusion_proofs", proofsOK, detail)

	validation, err := p.ValidateChain(b.Chain.Receipts)
	if err != nil {
		report.add("chain_validation", false, err.Error())
	} else {
		report.add("chain_validation", validation.Valid == b.Chain.ChainValid,
			"recomputed structural validity against chain_valid")
	}

	chainJSON, err := canonical.Marshal(b.Chain)
	if err != nil {
		report.add("bundle_hash", false, err.Error())
	} else {
		report.add("bundle_hash", p.hasher.Hash(chainJSON) == b.BundleHash,
			"dual hash of the canonical chain against bundle_hash")
	}
	return report
}
