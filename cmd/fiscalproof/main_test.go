// Package main tests for the fiscalproof CLI input helpers.
package main

import (
	"strings"
	"testing"
)

// TestLoadRecordsArray parses a top-level JSON array of objects.
func TestLoadRecordsArray(t *testing.T) {
	data := []byte(`[{"amount": 123.45, "vendor": "A"}, {"amount": 67.8}]`)
	recs, err := loadRecords(data)
	if err != nil {
		t.Fatalf("loadRecords failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0]["vendor"] != "A" {
		t.Errorf("vendor = %v, want A", recs[0]["vendor"])
	}
}

// TestLoadRecordsLines parses one object per line, skipping blanks.
func TestLoadRecordsLines(t *testing.T) {
	data := []byte("{\"amount\": 1}\n\n{\"amount\": 2}\n")
	recs, err := loadRecords(data)
	if err != nil {
		t.Fatalf("loadRecords failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
}

// TestLoadRecordsEmpty treats blank input as zero records.
func TestLoadRecordsEmpty(t *testing.T) {
	recs, err := loadRecords([]byte("  \n "))
	if err != nil {
		t.Fatalf("loadRecords failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected 0 records, got %d", len(recs))
	}
}

// TestLoadRecordsBadLine reports the 1-based line number of a parse
// failure.
func TestLoadRecordsBadLine(t *testing.T) {
	data := []byte("{\"amount\": 1}\n{bad json\n")
	_, err := loadRecords(data)
	if err == nil {
		t.Fatal("expected error for malformed line")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error should name line 2, got: %v", err)
	}
}

// TestLoadFlowRecords maps JSON fields onto flow records.
func TestLoadFlowRecords(t *testing.T) {
	data := []byte(`[{"source": "S", "target": "T", "amount": 10.5, "kind": "grant"}]`)
	recs, err := loadFlowRecords(data)
	if err != nil {
		t.Fatalf("loadFlowRecords failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.Source != "S" || r.Target != "T" || r.Amount != 10.5 || r.Kind != "grant" {
		t.Errorf("record mismatch: %+v", r)
	}
}

// TestLoadFlowRecordsLines parses JSONL flow records too.
func TestLoadFlowRecordsLines(t *testing.T) {
	data := []byte("{\"source\": \"a\", \"target\": \"b\", \"amount\": 1}\n{\"source\": \"b\", \"target\": \"c\", \"amount\": 2}\n")
	recs, err := loadFlowRecords(data)
	if err != nil {
		t.Fatalf("loadFlowRecords failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[1].Target != "c" {
		t.Errorf("target = %q, want c", recs[1].Target)
	}
}

// TestAmountsSkipsNonNumeric keeps only records whose field decoded as
// a JSON number.
func TestAmountsSkipsNonNumeric(t *testing.T) {
	recs := []map[string]any{
		{"amount": 10.0},
		{"amount": "oops"},
		{"other": 3.0},
		{"amount": 2.5},
	}
	vals := amounts(recs, "amount")
	if len(vals) != 2 {
		t.Fatalf("expected 2 values, got %d: %v", len(vals), vals)
	}
	if vals[0] != 10.0 || vals[1] != 2.5 {
		t.Errorf("values = %v", vals)
	}
}

// TestPreviewBounds truncates at 100 bytes and passes short input
// through unchanged.
func TestPreviewBounds(t *testing.T) {
	if got := preview([]byte("short")); got != "short" {
		t.Errorf("preview = %q", got)
	}
	long := strings.Repeat("x", 150)
	if got := preview([]byte(long)); len(got) != 100 {
		t.Errorf("preview length = %d, want 100", len(got))
	}
}

// TestShortFingerprint truncates long fingerprints and leaves short
// strings alone.
func TestShortFingerprint(t *testing.T) {
	full := strings.Repeat("a", 64) + ":" + strings.Repeat("b", 64)
	want := strings.Repeat("a", 16) + "..."
	if got := short(full); got != want {
		t.Errorf("short = %q, want %q", got, want)
	}
	if got := short("abc"); got != "abc" {
		t.Errorf("short passthrough = %q", got)
	}
}
