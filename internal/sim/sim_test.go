package sim

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"fiscalproof/internal/detect"
	"fiscalproof/internal/receipt"
)

// newTestRunner wires a runner whose receipt stream is captured in the
// returned buffer. The baseline table is tuned so the synthetic batches
// do not trip the entropy detector on their own.
func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	em := receipt.NewEmitter(receipt.Config{
		TenantID: "test-tenant",
		Stream:   &buf,
	})
	r := NewRunner(RunnerConfig{
		Emitter:   em,
		Baselines: detect.NewBaselines(quietBaselines()),
	})
	return r, &buf
}

// quietBaselines returns a table whose spread is wide enough that any
// compression ratio stays within one standard deviation.
func quietBaselines() map[string]detect.Baseline {
	return map[string]detect.Baseline{
		"municipality": {Mean: 0.3, Std: 10.0, SampleSize: 100},
		"default":      {Mean: 0.3, Std: 10.0, SampleSize: 100},
	}
}

func decodeStream(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("decode receipt line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan receipts: %v", err)
	}
	return out
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRunCleanCycles(t *testing.T) {
	r, buf := newTestRunner(t)

	res, err := r.Run(Config{
		Cycles:       5,
		Transactions: 100,
		Seed:         42,
		Scenario:     "clean",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Violations) != 0 {
		t.Errorf("clean run produced violations: %v", res.Violations)
	}
	if res.DetectionRate < 0 || res.DetectionRate > 1 {
		t.Errorf("detection rate out of range: %g", res.DetectionRate)
	}

	lines := decodeStream(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 simulation receipt, got %d", len(lines))
	}
	if lines[0]["receipt_type"] != "simulation" {
		t.Errorf("receipt_type = %v, want simulation", lines[0]["receipt_type"])
	}
	if lines[0]["scenario"] != "clean" {
		t.Errorf("scenario = %v, want clean", lines[0]["scenario"])
	}
	if lines[0]["n_cycles"] != float64(5) {
		t.Errorf("n_cycles = %v, want 5", lines[0]["n_cycles"])
	}
	for _, key := range []string{"detection_rate", "precision", "recall", "f1_score", "payload_hash", "ts", "tenant_id"} {
		if _, ok := lines[0][key]; !ok {
			t.Errorf("simulation receipt missing %q", key)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	cfg := Config{Cycles: 4, Transactions: 80, Seed: 7, FraudRate: 0.1, Pattern: PatternRoundNumbers}

	r1, _ := newTestRunner(t)
	r2, _ := newTestRunner(t)

	res1, err := r1.Run(cfg)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	res2, err := r2.Run(cfg)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if res1.DetectionRate != res2.DetectionRate {
		t.Errorf("detection rates differ: %g vs %g", res1.DetectionRate, res2.DetectionRate)
	}
	if len(res1.Findings) != len(res2.Findings) {
		t.Errorf("finding counts differ: %d vs %d", len(res1.Findings), len(res2.Findings))
	}
	if res1.Accuracy != res2.Accuracy {
		t.Errorf("accuracy differs: %+v vs %+v", res1.Accuracy, res2.Accuracy)
	}
}

func TestRunHeavyInjectionIsDetected(t *testing.T) {
	r, _ := newTestRunner(t)

	// Half the batch on round numbers swamps the first-digit
	// distribution.
	res, err := r.Run(Config{
		Cycles:       3,
		Transactions: 200,
		Seed:         42,
		FraudRate:    0.5,
		Pattern:      PatternRoundNumbers,
		Methods:      []string{MethodBenford},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Accuracy.Recall != 1.0 {
		t.Errorf("recall = %g, want 1.0 with heavy injection", res.Accuracy.Recall)
	}
	if res.FlaggedCycles != 3 {
		t.Errorf("flagged cycles = %d, want 3", res.FlaggedCycles)
	}
	for _, f := range res.Findings {
		if f.Method != MethodBenford {
			t.Errorf("unexpected method %q", f.Method)
		}
	}
}

func TestRunConcentrationMethod(t *testing.T) {
	r, _ := newTestRunner(t)

	// Ten percent base rate concentrates half the batch on one vendor.
	res, err := r.Run(Config{
		Cycles:       2,
		Transactions: 100,
		Seed:         42,
		FraudRate:    0.1,
		Pattern:      PatternVendorConcentration,
		Methods:      []string{MethodConcentration},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.FlaggedCycles != 2 {
		t.Fatalf("flagged cycles = %d, want 2", res.FlaggedCycles)
	}
	for _, f := range res.Findings {
		if f.Concentration <= concentrationShare {
			t.Errorf("finding concentration %g not above threshold", f.Concentration)
		}
	}
}

func TestRunUnknownMethodIsViolation(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.Run(Config{
		Cycles:       2,
		Transactions: 10,
		Seed:         1,
		Methods:      []string{"palmistry"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Violations) != 2 {
		t.Errorf("expected a violation per cycle, got %d", len(res.Violations))
	}
}

func TestScoreConventions(t *testing.T) {
	// No positives at all: perfect by convention.
	acc := score(0, 0, 0)
	if acc.Precision != 1.0 || acc.Recall != 1.0 || acc.F1 != 1.0 {
		t.Errorf("empty score = %+v, want all 1.0", acc)
	}

	// False positives only: zero precision, recall stays 1.0.
	acc = score(0, 3, 0)
	if acc.Precision != 0 || acc.Recall != 1.0 || acc.F1 != 0 {
		t.Errorf("fp-only score = %+v", acc)
	}

	// Mixed.
	acc = score(6, 2, 2)
	if acc.Precision != 0.75 || acc.Recall != 0.75 {
		t.Errorf("mixed score = %+v, want precision/recall 0.75", acc)
	}
}

// =============================================================================
// Scenario Tests
// =============================================================================

func TestScenariosList(t *testing.T) {
	names := Scenarios()
	if len(names) != 6 {
		t.Fatalf("expected 6 scenarios, got %d", len(names))
	}
	if names[0] != ScenarioBaseline || names[5] != ScenarioDegraded {
		t.Errorf("unexpected scenario order: %v", names)
	}
}

func TestRunScenarioUnknown(t *testing.T) {
	r, _ := newTestRunner(t)
	if _, err := r.RunScenario("apocalypse", Config{Cycles: 1}); err == nil {
		t.Error("expected error for unknown scenario")
	}
}

func TestScenarioBaselineNoInjection(t *testing.T) {
	r, buf := newTestRunner(t)

	res, err := r.RunScenario(ScenarioBaseline, Config{
		Cycles:       5,
		Transactions: 100,
		Seed:         42,
		FraudRate:    0.5, // scenario must zero this out
	})
	if err != nil {
		t.Fatalf("baseline scenario failed: %v", err)
	}

	if res.Accuracy.FalseNegatives != 0 || res.Accuracy.TruePositives != 0 {
		t.Errorf("baseline must have no injected cycles: %+v", res.Accuracy)
	}

	lines := decodeStream(t, buf)
	if len(lines) != 1 || lines[0]["scenario"] != ScenarioBaseline {
		t.Fatalf("expected one baseline simulation receipt, got %v", lines)
	}
	if lines[0]["fraud_rate"] != float64(0) {
		t.Errorf("fraud_rate = %v, want 0", lines[0]["fraud_rate"])
	}
}

func TestScenarioRoundNumbersDefaultsRate(t *testing.T) {
	r, buf := newTestRunner(t)

	res, err := r.RunScenario(ScenarioRoundNumbers, Config{
		Cycles:       2,
		Transactions: 50,
		Seed:         42,
	})
	if err != nil {
		t.Fatalf("round_numbers scenario failed: %v", err)
	}
	if res.Config.FraudRate <= 0 {
		t.Error("scenario must force a nonzero fraud rate")
	}

	lines := decodeStream(t, buf)
	if lines[0]["pattern"] != PatternRoundNumbers {
		t.Errorf("pattern = %v, want %s", lines[0]["pattern"], PatternRoundNumbers)
	}
}

func TestScenarioConcentrationFlags(t *testing.T) {
	r, _ := newTestRunner(t)

	res, err := r.RunScenario(ScenarioConcentration, Config{
		Cycles:       2,
		Transactions: 100,
		Seed:         42,
		FraudRate:    0.1,
	})
	if err != nil {
		t.Fatalf("concentration scenario failed: %v", err)
	}
	if res.FlaggedCycles == 0 {
		t.Error("heavy vendor concentration was not flagged")
	}
}

func TestScenarioMixedRotatesPatterns(t *testing.T) {
	r, buf := newTestRunner(t)

	res, err := r.RunScenario(ScenarioMixed, Config{
		Cycles:       8,
		Transactions: 100,
		Seed:         42,
		FraudRate:    0.05,
	})
	if err != nil {
		t.Fatalf("mixed scenario failed: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Errorf("mixed scenario produced violations: %v", res.Violations)
	}

	lines := decodeStream(t, buf)
	if lines[0]["pattern"] != "rotating" {
		t.Errorf("pattern = %v, want rotating", lines[0]["pattern"])
	}
	if lines[0]["scenario"] != ScenarioMixed {
		t.Errorf("scenario = %v, want %s", lines[0]["scenario"], ScenarioMixed)
	}
}

func TestScenarioDegradedSurvivesEdgeCases(t *testing.T) {
	r, buf := newTestRunner(t)

	res, err := r.RunScenario(ScenarioDegraded, Config{
		Cycles:       3,
		Transactions: 50,
		Seed:         42,
	})
	if err != nil {
		t.Fatalf("degraded scenario failed: %v", err)
	}

	// Empty, single-record, all-zero, and negative batches must all
	// pass through the detectors without error.
	if len(res.Violations) != 0 {
		t.Errorf("degraded scenario recorded violations: %v", res.Violations)
	}

	lines := decodeStream(t, buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 receipt, got %d", len(lines))
	}
}

func TestVendorShare(t *testing.T) {
	share, hot := vendorShare(nil)
	if share != 0 || hot {
		t.Errorf("empty batch share = %g hot=%v, want 0 false", share, hot)
	}

	txs := []Transaction{
		{Vendor: "A"}, {Vendor: "A"}, {Vendor: "A"},
		{Vendor: "B"},
	}
	share, hot = vendorShare(txs)
	if share != 0.75 || !hot {
		t.Errorf("share = %g hot=%v, want 0.75 true", share, hot)
	}

	// Exactly at the threshold does not flag.
	txs = []Transaction{
		{Vendor: "A"}, {Vendor: "B"}, {Vendor: "C"}, {Vendor: "D"},
	}
	share, hot = vendorShare(txs)
	if share != 0.25 || hot {
		t.Errorf("share = %g hot=%v, want 0.25 false", share, hot)
	}
}
