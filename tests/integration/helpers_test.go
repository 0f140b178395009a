//go:build integration

// Package integration provides end-to-end integration tests for the
// fiscalproof evidence pipeline.
//
// These tests verify the complete flow from receipt emission through
// ledger persistence, chain validation, anchoring, proof bundle
// export, and offline verification.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"fiscalproof/internal/detect"
	"fiscalproof/internal/dualhash"
	"fiscalproof/internal/evidence"
	"fiscalproof/internal/ledger"
	"fiscalproof/internal/logging"
	"fiscalproof/internal/receipt"
)

// testTenant is the tenant id stamped on every receipt these tests emit.
const testTenant = "integration-test"

// =============================================================================
// Test Environment Setup
// =============================================================================

// TestEnv holds the wired components for one integration scenario: an
// emitter writing both to an in-memory stream and an on-disk ledger,
// plus the prover built over the same hasher.
type TestEnv struct {
	T          *testing.T
	TempDir    string
	LedgerPath string

	// Receipt pipeline
	Stream  *bytes.Buffer
	Hasher  *dualhash.Hasher
	Ledger  *ledger.Ledger
	Emitter *receipt.Emitter

	// Evidence layer
	Prover *evidence.Prover

	Logger *logging.Logger

	mu  sync.Mutex
	now time.Time
}

// NewTestEnv creates a fully initialized environment with a fresh
// ledger file under a temp directory. Cleanup is registered on t.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tempDir := t.TempDir()
	env := &TestEnv{
		T:          t,
		TempDir:    tempDir,
		LedgerPath: filepath.Join(tempDir, "receipts.jsonl"),
		Stream:     &bytes.Buffer{},
		Hasher:     dualhash.New(),
		now:        time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	logger, err := logging.New(&logging.Config{
		Level:  logging.LevelError,
		Output: "discard",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	env.Logger = logger

	led, err := ledger.Open(env.LedgerPath)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	env.Ledger = led

	env.wire()
	t.Cleanup(env.Cleanup)
	return env
}

// wire builds the emitter and prover over the current ledger handle.
func (env *TestEnv) wire() {
	env.Emitter = receipt.NewEmitter(receipt.Config{
		TenantID: testTenant,
		Stream:   env.Stream,
		Ledger:   env.Ledger,
		Hasher:   env.Hasher,
		Logger:   env.Logger,
		Now:      env.Now,
	})
	env.Prover = evidence.NewProver(evidence.Config{
		Emitter: env.Emitter,
		Hasher:  env.Hasher,
		Logger:  env.Logger,
		Now:     env.Now,
	})
}

// Now returns a strictly increasing timestamp so emitted receipts are
// totally ordered even within one wall-clock microsecond.
func (env *TestEnv) Now() time.Time {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.now = env.now.Add(time.Microsecond)
	return env.now
}

// NewAnalyzer builds a detector analyzer over the environment's
// emitter with the given per-detector stop-rule actions.
func (env *TestEnv) NewAnalyzer(actions detect.Actions) *detect.Analyzer {
	env.T.Helper()
	return detect.NewAnalyzer(detect.AnalyzerConfig{
		Emitter: env.Emitter,
		Actions: actions,
		Logger:  env.Logger,
	})
}

// Reopen closes the ledger and opens it again at the same path, then
// rewires the emitter and prover. This simulates a process restart.
func (env *TestEnv) Reopen() {
	env.T.Helper()
	if err := env.Ledger.Close(); err != nil {
		env.T.Fatalf("failed to close ledger: %v", err)
	}
	led, err := ledger.Open(env.LedgerPath)
	if err != nil {
		env.T.Fatalf("failed to reopen ledger: %v", err)
	}
	env.Ledger = led
	env.wire()
}

// Cleanup closes the ledger and logger. Safe to call more than once.
func (env *TestEnv) Cleanup() {
	if env.Ledger != nil {
		env.Ledger.Close()
	}
	if env.Logger != nil {
		env.Logger.Close()
	}
}

// =============================================================================
// Pipeline Actions
// =============================================================================

// EmitBatch emits n ingest receipts with distinct payloads and returns
// them in emission order.
func (env *TestEnv) EmitBatch(n int) []receipt.Receipt {
	env.T.Helper()
	receipts := make([]receipt.Receipt, n)
	for i := 0; i < n; i++ {
		r, err := env.Emitter.Emit(receipt.TypeIngest, map[string]any{
			"source":        "integration",
			"batch":         fmt.Sprintf("batch-%03d", i),
			"records_count": i + 1,
		})
		if err != nil {
			env.T.Fatalf("failed to emit receipt %d: %v", i, err)
		}
		receipts[i] = r
	}
	return receipts
}

// ReadLedger loads every receipt currently persisted in the ledger file.
func (env *TestEnv) ReadLedger() []receipt.Receipt {
	env.T.Helper()
	receipts, err := ledger.Load(env.LedgerPath)
	if err != nil {
		env.T.Fatalf("failed to load ledger: %v", err)
	}
	return receipts
}

// StreamLines decodes every receipt line the emitter wrote to the
// in-memory stream.
func (env *TestEnv) StreamLines() []map[string]any {
	env.T.Helper()
	var out []map[string]any
	for i, line := range bytes.Split(env.Stream.Bytes(), []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(line, &m); err != nil {
			env.T.Fatalf("stream line %d is not valid JSON: %v", i+1, err)
		}
		out = append(out, m)
	}
	return out
}

// TamperLedgerLine rewrites one ledger line in place, replacing from
// with to inside the raw JSON. The file keeps its line count, so the
// chain stays parseable and only hashes break.
func (env *TestEnv) TamperLedgerLine(index int, from, to string) {
	env.T.Helper()
	data, err := os.ReadFile(env.LedgerPath)
	if err != nil {
		env.T.Fatalf("failed to read ledger file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if index < 0 || index >= len(lines) {
		env.T.Fatalf("tamper index %d out of range (%d lines)", index, len(lines))
	}
	replaced := strings.Replace(lines[index], from, to, 1)
	if replaced == lines[index] {
		env.T.Fatalf("tamper target %q not found in line %d", from, index)
	}
	lines[index] = replaced
	out := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(env.LedgerPath, []byte(out), 0600); err != nil {
		env.T.Fatalf("failed to write tampered ledger: %v", err)
	}
}

// AppendRawLine appends a raw line to the ledger file, bypassing the
// emitter. Used to plant malformed entries.
func (env *TestEnv) AppendRawLine(line string) {
	env.T.Helper()
	f, err := os.OpenFile(env.LedgerPath, os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		env.T.Fatalf("failed to open ledger file for append: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		env.T.Fatalf("failed to append raw line: %v", err)
	}
}

// Findings wraps receipts as findings for bundle export.
func Findings(receipts []receipt.Receipt) []evidence.Finding {
	findings := make([]evidence.Finding, len(receipts))
	for i := range receipts {
		findings[i] = evidence.Finding{
			FindingType: receipts[i].Type,
			Receipt:     &receipts[i],
		}
	}
	return findings
}

// =============================================================================
// Assertion Helpers
// =============================================================================

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error, got nil", msg)
	}
}

// AssertEqual fails the test if got != want.
func AssertEqual[T comparable](t *testing.T, got, want T, msg string) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: got %v, want %v", msg, got, want)
	}
}

// AssertNotEqual fails the test if got == notWant.
func AssertNotEqual[T comparable](t *testing.T, got, notWant T, msg string) {
	t.Helper()
	if got == notWant {
		t.Fatalf("%s: got %v, want anything else", msg, got)
	}
}

// AssertTrue fails the test if cond is false.
func AssertTrue(t *testing.T, cond bool, msg string) {
	t.Helper()
	if !cond {
		t.Fatalf("%s: expected true", msg)
	}
}

// AssertFalse fails the test if cond is true.
func AssertFalse(t *testing.T, cond bool, msg string) {
	t.Helper()
	if cond {
		t.Fatalf("%s: expected false", msg)
	}
}
