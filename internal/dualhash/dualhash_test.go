package dualhash

import (
	"strings"
	"testing"
)

// =============================================================================
// Fingerprint Shape Tests
// =============================================================================

func TestHashShape(t *testing.T) {
	fp := HashString("test")

	parts := strings.Split(fp, Separator)
	if len(parts) != 2 {
		t.Fatalf("expected 2 digests, got %d in %q", len(parts), fp)
	}
	if len(parts[0]) != 64 {
		t.Errorf("primary digest length: expected 64 hex chars, got %d", len(parts[0]))
	}
	if len(parts[1]) != 64 {
		t.Errorf("secondary digest length: expected 64 hex chars, got %d", len(parts[1]))
	}
	if parts[0] == parts[1] {
		t.Error("primary and secondary digests should differ for independent algorithms")
	}
}

func TestHashEmptyInput(t *testing.T) {
	fp := Hash(nil)
	if fp == "" {
		t.Fatal("empty input must still produce a fingerprint")
	}
	if fp != Hash([]byte{}) {
		t.Error("nil and empty slice must hash identically")
	}
}

func TestHashBytesAndStringAgree(t *testing.T) {
	if Hash([]byte("same input")) != HashString("same input") {
		t.Error("Hash and HashString disagree on identical content")
	}
}

// =============================================================================
// Determinism and Sensitivity Tests
// =============================================================================

func TestHashDeterministic(t *testing.T) {
	a := HashString("same input")
	b := HashString("same input")
	if a != b {
		t.Errorf("repeated hashing diverged: %q vs %q", a, b)
	}
}

func TestHashSensitivity(t *testing.T) {
	inputs := []string{"", "a", "b", "ab", "ba", "input one", "input two"}
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		fp := HashString(in)
		if prev, ok := seen[fp]; ok {
			t.Errorf("collision between %q and %q", prev, in)
		}
		seen[fp] = in
	}
}

// =============================================================================
// Degraded Mode Tests
// =============================================================================

func TestDegradedDuplicatesPrimary(t *testing.T) {
	h := NewDegraded()
	if !h.Degraded() {
		t.Fatal("NewDegraded must report Degraded() == true")
	}

	fp := h.HashString("payload")
	parts := strings.Split(fp, Separator)
	if len(parts) != 2 {
		t.Fatalf("degraded fingerprint malformed: %q", fp)
	}
	if parts[0] != parts[1] {
		t.Error("degraded fingerprint must duplicate the primary digest")
	}

	full := New().HashString("payload")
	if strings.Split(full, Separator)[0] != parts[0] {
		t.Error("degraded and full hashers disagree on the primary digest")
	}
}

func TestAlgorithmsReporting(t *testing.T) {
	algos := New().Algorithms()
	if len(algos) != 2 || algos[0] != AlgPrimary || algos[1] != AlgSecondary {
		t.Errorf("unexpected algorithm list: %v", algos)
	}

	degraded := NewDegraded().Algorithms()
	if len(degraded) != 2 || degraded[0] != AlgPrimary || degraded[1] != AlgPrimary {
		t.Errorf("degraded hasher must report the primary twice, got %v", degraded)
	}

	if New().Degraded() {
		t.Error("full hasher must not report degraded")
	}
}
