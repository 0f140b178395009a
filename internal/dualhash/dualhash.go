// Package dualhash computes the dual-algorithm content fingerprint used
// everywhere a receipt, ledger leaf, or anchor needs a content address.
//
// A fingerprint is the string "<sha256-hex>:<blake2b-hex>": one digest from
// the SHA-2 family and one from an independent family over the same bytes,
// joined by a colon. Corroborating every address with a second algorithm
// means a collision in one function alone cannot forge a receipt.
//
// When the secondary algorithm is unavailable the primary digest is
// duplicated instead. That output is structurally valid but carries no
// second-family corroboration, so it is never silent: Degraded reports it
// and Algorithms lists the primary twice. Consumers that present
// fingerprints as dual-algorithm assurance must check before doing so.
package dualhash

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Separator joins the two hex digests of a fingerprint.
const Separator = ":"

// Algorithm names as reported in anchor receipts.
const (
	AlgPrimary   = "SHA256"
	AlgSecondary = "BLAKE2B256"
)

// Hasher produces dual-algorithm fingerprints. The zero value duplicates
// the primary digest; use New for the full dual-algorithm form.
type Hasher struct {
	secondary func([]byte) string
}

// New returns a Hasher with SHA-256 primary and BLAKE2b-256 secondary.
func New() *Hasher {
	return &Hasher{secondary: blake2bHex}
}

// NewDegraded returns a Hasher with no secondary algorithm. Fingerprints
// duplicate the SHA-256 digest on both sides of the separator.
func NewDegraded() *Hasher {
	return &Hasher{}
}

// Degraded reports whether fingerprints duplicate the primary digest
// instead of carrying an independent second algorithm.
func (h *Hasher) Degraded() bool {
	return h.secondary == nil
}

// Algorithms returns the two algorithm names in fingerprint order. A
// degraded hasher reports the primary twice.
func (h *Hasher) Algorithms() []string {
	if h.Degraded() {
		return []string{AlgPrimary, AlgPrimary}
	}
	return []string{AlgPrimary, AlgSecondary}
}

// Hash returns the fingerprint of data. Pure: identical input always
// produces identical output, including for empty input.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	primary := hex.EncodeToString(sum[:])
	if h.secondary == nil {
		return primary + Separator + primary
	}
	return primary + Separator + h.secondary(data)
}

// HashString hashes the UTF-8 bytes of s.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

func blake2bHex(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// std is the process-wide hasher. The secondary algorithm is linked into
// the binary, so the package-level functions are never degraded; NewDegraded
// exists for callers that must model secondary unavailability explicitly.
var std = New()

// Hash returns the fingerprint of data using the default hasher.
func Hash(data []byte) string {
	return std.Hash(data)
}

// HashString returns the fingerprint of the UTF-8 bytes of s.
func HashString(s string) string {
	return std.HashString(s)
}

// Algorithms returns the default hasher's algorithm names.
func Algorithms() []string {
	return std.Algorithms()
}
