// Package receipt defines the wire format for evidence receipts and
// the emitter that writes them.
//
// A receipt is a flat JSON object carrying four reserved keys
// (receipt_type, ts, tenant_id, payload_hash) alongside the payload
// fields of whatever produced it. payload_hash covers the canonical
// form of the payload plus the tenant id, so a receipt can be
// re-verified long after emission without trusting the emitter.
package receipt

import (
	"encoding/json"
	"fmt"
	"time"

	"fiscalproof/internal/canonical"
	"fiscalproof/internal/dualhash"
)

// Reserved receipt keys. Payload fields cannot shadow these: the
// emitter strips them from the payload before hashing, and the
// receipt's own values always win in the marshaled form.
const (
	KeyType        = "receipt_type"
	KeyTimestamp   = "ts"
	KeyTenantID    = "tenant_id"
	KeyPayloadHash = "payload_hash"
)

// RequiredKeys lists the reserved keys every well-formed receipt must
// carry, in validation-report order.
var RequiredKeys = []string{KeyType, KeyTimestamp, KeyTenantID, KeyPayloadHash}

// Reserved reports whether key is one of the reserved receipt keys.
func Reserved(key string) bool {
	switch key {
	case KeyType, KeyTimestamp, KeyTenantID, KeyPayloadHash:
		return true
	}
	return false
}

// Receipt types emitted by this module.
const (
	TypeTest          = "test"
	TypeHash          = "hash"
	TypeIngest        = "ingest"
	TypeDetect        = "detect"
	TypeVerify        = "verify"
	TypeAnchor        = "anchor"
	TypeAnomaly       = "anomaly"
	TypeProofBundle   = "proof_bundle"
	TypeBenford       = "benford"
	TypeEntropy       = "entropy"
	TypeConcentration = "concentration"
	TypeSimulation    = "simulation"
	TypeVersion       = "version"
)

// DefaultTenant is the tenant id stamped on receipts when no override
// is configured.
const DefaultTenant = "fiscalproof"

// TimestampLayout is the wire format for the ts field: UTC ISO-8601
// with microsecond precision and a literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t in the receipt wire format.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a ts field value.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("receipt: parse timestamp: %w", err)
	}
	return t, nil
}

// Receipt is one evidence record. Payload holds the producer's fields;
// the reserved keys live in the named fields and are folded back into
// the flat object on marshal.
type Receipt struct {
	Type        string
	Timestamp   string
	TenantID    string
	PayloadHash string
	Payload     map[string]any
}

// flatten merges payload and reserved fields into one object. Reserved
// fields that are empty are omitted so partially built receipts
// round-trip; payload entries under reserved names are dropped.
func (r Receipt) flatten() map[string]any {
	flat := make(map[string]any, len(r.Payload)+4)
	for k, v := range r.Payload {
		if Reserved(k) {
			continue
		}
		flat[k] = v
	}
	if r.Type != "" {
		flat[KeyType] = r.Type
	}
	if r.Timestamp != "" {
		flat[KeyTimestamp] = r.Timestamp
	}
	if r.TenantID != "" {
		flat[KeyTenantID] = r.TenantID
	}
	if r.PayloadHash != "" {
		flat[KeyPayloadHash] = r.PayloadHash
	}
	return flat
}

// Canonical returns the canonical JSON encoding of the receipt. This
// is the exact byte form hashed into merkle leaves and appended to the
// ledger; use it instead of json.Marshal wherever bytes feed a hash,
// since encoding/json re-escapes the output of MarshalJSON.
func (r Receipt) Canonical() ([]byte, error) {
	return canonical.Marshal(r.flatten())
}

// MarshalJSON renders the receipt as a flat canonical JSON object.
func (r Receipt) MarshalJSON() ([]byte, error) {
	return r.Canonical()
}

// UnmarshalJSON parses a flat receipt object, splitting reserved keys
// from payload fields.
func (r *Receipt) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("receipt: unmarshal: %w", err)
	}
	*r = FromFlat(flat)
	return nil
}

// FromFlat builds a Receipt from a decoded flat object. Reserved keys
// holding non-string values are treated as absent.
func FromFlat(flat map[string]any) Receipt {
	r := Receipt{Payload: make(map[string]any, len(flat))}
	for k, v := range flat {
		if !Reserved(k) {
			r.Payload[k] = v
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case KeyType:
			r.Type = s
		case KeyTimestamp:
			r.Timestamp = s
		case KeyTenantID:
			r.TenantID = s
		case KeyPayloadHash:
			r.PayloadHash = s
		}
	}
	return r
}

// HashBasis returns the object payload_hash covers: the payload fields
// plus the tenant id. The type, timestamp, and hash itself are outside
// the basis, so re-stamping a receipt never changes its payload hash.
func (r Receipt) HashBasis() map[string]any {
	basis := make(map[string]any, len(r.Payload)+1)
	for k, v := range r.Payload {
		if Reserved(k) {
			continue
		}
		basis[k] = v
	}
	basis[KeyTenantID] = r.TenantID
	return basis
}

// RecomputePayloadHash hashes the receipt's payload the way the
// emitter did. A nil hasher uses the package default.
func (r Receipt) RecomputePayloadHash(h *dualhash.Hasher) (string, error) {
	b, err := canonical.Marshal(r.HashBasis())
	if err != nil {
		return "", fmt.Errorf("receipt: hash basis: %w", err)
	}
	if h == nil {
		return dualhash.Hash(b), nil
	}
	return h.Hash(b), nil
}
