package evidence

import (
	"fiscalproof/internal/receipt"
)

// HashMismatch records a receipt whose stored payload_hash does not
// match a recomputation over its payload.
type HashMismatch struct {
	Index      int    `json:"index"`
	Recorded   string `json:"recorded"`
	Recomputed string `json:"recomputed"`
}

// VerifyPayloadHashes recomputes every receipt's payload hash and
// reports the ones that disagree with the recorded value. Structural
// problems are ValidateChain's job; this catches payload edits that
// kept the envelope intact. An empty slice means every hash checked
// out.
func (p *Prover) VerifyPayloadHashes(receipts []receipt.Receipt) ([]HashMismatch, error) {
	mismatches := []HashMismatch{}
	for i, r := range receipts {
		recomputed, err := r.RecomputePayloadHash(p.hasher)
		if err != nil {
			return nil, err
		}
		if recomputed != r.PayloadHash {
			mismatches = append(mismatches, HashMismatch{
				Index:      i,
				Recorded:   r.PayloadHash,
				Recomputed: recomputed,
			})
		}
	}
	return mismatches, nil
}
