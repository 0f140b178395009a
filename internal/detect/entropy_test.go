package detect

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math"
	"testing"

	"fiscalproof/internal/compress"
	"fiscalproof/internal/policy"
)

// incompressible returns n bytes of deterministic high-entropy data
// built from a sha256 chain.
func incompressible(n int) []byte {
	out := make([]byte, 0, n+32)
	var seed [32]byte
	for len(out) < n {
		seed = sha256.Sum256(seed[:])
		out = append(out, seed[:]...)
	}
	return out[:n]
}

// =============================================================================
// Shannon Entropy Tests
// =============================================================================

func TestShannonEntropyEmpty(t *testing.T) {
	if e := ShannonEntropy(nil); e != 0.0 {
		t.Errorf("entropy(nil) = %v, want 0", e)
	}
}

func TestShannonEntropyConstant(t *testing.T) {
	if e := ShannonEntropy(bytes.Repeat([]byte{'a'}, 1000)); e != 0.0 {
		t.Errorf("entropy(constant) = %v, want 0", e)
	}
}

func TestShannonEntropyUniform(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	if e := ShannonEntropy(data); math.Abs(e-8.0) > 1e-9 {
		t.Errorf("entropy(uniform bytes) = %v, want 8.0", e)
	}
}

func TestShannonEntropyMidRange(t *testing.T) {
	e := ShannonEntropy([]byte("hello world, hello ledger"))
	if e <= 0.0 || e >= 8.0 {
		t.Errorf("entropy = %v, want strictly between 0 and 8", e)
	}
}

// =============================================================================
// Baseline Tests
// =============================================================================

func TestZScore(t *testing.T) {
	b := Baseline{Mean: 0.45, Std: 0.08}
	if z := ZScore(0.61, b); math.Abs(z-2.0) > 1e-9 {
		t.Errorf("z = %v, want 2.0", z)
	}
	if z := ZScore(0.9, Baseline{Mean: 0.5, Std: 0}); z != 0.0 {
		t.Errorf("zero-std z = %v, want 0", z)
	}
}

func TestAnomalyCheckSeverityLadder(t *testing.T) {
	b := Baseline{Mean: 0, Std: 1}
	cases := []struct {
		current  float64
		severity string
		anomaly  bool
	}{
		{0.0, SeverityNormal, false},
		{1.5, SeverityNormal, false},
		{1.6, SeverityMedium, true},
		{2.5, SeverityHigh, true},
		{3.5, SeverityCritical, true},
		{-3.5, SeverityCritical, true},
		{-1.6, SeverityMedium, true},
	}
	for _, tc := range cases {
		res := AnomalyCheck(tc.current, b)
		if res.Severity != tc.severity || res.IsAnomaly != tc.anomaly {
			t.Errorf("check(%v) = %q/%v, want %q/%v",
				tc.current, res.Severity, res.IsAnomaly, tc.severity, tc.anomaly)
		}
	}
}

func TestBaselinesDefaults(t *testing.T) {
	b := NewBaselines(nil)
	got := b.Lookup("municipality", "2024")
	if got.Mean != 0.45 || got.Std != 0.08 || got.SampleSize != 100 {
		t.Errorf("municipality = %+v", got)
	}
	if got := b.Lookup("nonsense_type", "2024"); got.Mean != 0.48 || got.Std != 0.10 {
		t.Errorf("unknown type = %+v, want default row", got)
	}
}

func TestBaselinesFallbackWithoutDefaultRow(t *testing.T) {
	b := NewBaselines(map[string]Baseline{"pac": {Mean: 0.3, Std: 0.05, SampleSize: 9}})
	got := b.Lookup("contractor", "2024")
	if got != fallbackBaseline {
		t.Errorf("fallback = %+v, want %+v", got, fallbackBaseline)
	}
}

func TestBaselinesCopiesTable(t *testing.T) {
	table := map[string]Baseline{"pac": {Mean: 0.3, Std: 0.05, SampleSize: 9}}
	b := NewBaselines(table)
	table["pac"] = Baseline{Mean: 0.9, Std: 0.9, SampleSize: 1}
	if got := b.Lookup("pac", "2024"); got.Mean != 0.3 {
		t.Errorf("lookup after caller mutation = %+v, want the original row", got)
	}
}

func TestBaselinesSetOverridesPerPeriod(t *testing.T) {
	b := NewBaselines(nil)
	if got := b.Lookup("municipality", "2024-Q1"); got.Mean != 0.45 {
		t.Fatalf("pre-override = %+v", got)
	}

	override := Baseline{Mean: 0.60, Std: 0.20, SampleSize: 12}
	b.Set("municipality", "2024-Q1", override)
	if got := b.Lookup("municipality", "2024-Q1"); got != override {
		t.Errorf("override = %+v, want %+v", got, override)
	}
	if got := b.Lookup("municipality", "2024-Q2"); got.Mean != 0.45 {
		t.Errorf("other period = %+v, want the table row", got)
	}
}

func TestBaselinesInstancesIsolated(t *testing.T) {
	b1 := NewBaselines(nil)
	b2 := NewBaselines(nil)
	b1.Set("pac", "p", Baseline{Mean: 0.99, Std: 0.01, SampleSize: 1})
	if got := b2.Lookup("pac", "p"); got.Mean != 0.55 {
		t.Errorf("second instance = %+v, want untouched defaults", got)
	}
}

// =============================================================================
// Entropy Analysis Tests
// =============================================================================

func TestAnalyzeEntropyRepetitiveData(t *testing.T) {
	data := bytes.Repeat([]byte("same line\n"), 200)
	res := AnalyzeEntropy(data, "city-a", "municipality", "2024", nil)

	if res.Entity != "city-a" || res.EntityType != "municipality" {
		t.Errorf("identity = %+v", res)
	}
	if res.RawSize != len(data) {
		t.Errorf("raw_size = %d, want %d", res.RawSize, len(data))
	}
	if res.CompressionRatio >= 0.2 {
		t.Errorf("ratio = %v, want well below 0.2 for repeated text", res.CompressionRatio)
	}
	if res.ZScore >= -3.0 {
		t.Errorf("z = %v, want far below the municipality mean", res.ZScore)
	}
	if !res.IsAnomaly || res.Severity != SeverityCritical {
		t.Errorf("anomaly = %v/%q, want critical", res.IsAnomaly, res.Severity)
	}
	if res.CompressedSize <= 0 || res.CompressedSize > res.RawSize {
		t.Errorf("compressed_size = %d out of range", res.CompressedSize)
	}
}

func TestAnalyzeEntropyHighEntropyData(t *testing.T) {
	res := AnalyzeEntropy(incompressible(4096), "shell-co", "municipality", "2024", nil)
	if res.CompressionRatio < 0.95 {
		t.Errorf("ratio = %v, want near 1 for incompressible data", res.CompressionRatio)
	}
	if res.ZScore <= 3.0 {
		t.Errorf("z = %v, want far above the municipality mean", res.ZScore)
	}
	if !res.IsAnomaly || res.Severity != SeverityCritical {
		t.Errorf("anomaly = %v/%q, want critical", res.IsAnomaly, res.Severity)
	}
	if res.ShannonEntropy < 7.0 {
		t.Errorf("shannon = %v, want near 8 bits/byte", res.ShannonEntropy)
	}
}

func TestAnalyzeEntropyEmptyPeriodMeansDefault(t *testing.T) {
	data := []byte("quarterly disbursement ledger")
	a := AnalyzeEntropy(data, "e", "pac", "", nil)
	b := AnalyzeEntropy(data, "e", "pac", "default", nil)
	if a.ZScore != b.ZScore || a.BaselineMean != b.BaselineMean {
		t.Errorf("empty period %+v differs from explicit default %+v", a, b)
	}
}

func TestAnalyzeEntropyNilBaselines(t *testing.T) {
	res := AnalyzeEntropy([]byte("data"), "e", "state_agency", "p", nil)
	if res.BaselineMean != 0.42 || res.BaselineStd != 0.06 {
		t.Errorf("baseline = %v/%v, want the built-in state_agency row",
			res.BaselineMean, res.BaselineStd)
	}
}

// =============================================================================
// Receipt and Policy Tests
// =============================================================================

func TestEntropyReceiptNormalEmitsSingleReceipt(t *testing.T) {
	data := []byte("vendor payments for roads and bridges, March")
	ratio := compress.Ratio(data)

	var buf bytes.Buffer
	a := newAnalyzerWithTable(&buf, map[string]Baseline{
		"municipality": {Mean: ratio, Std: 0.1, SampleSize: 10},
	}, Actions{})

	_, res, err := a.EntropyReceipt(data, "city-a", "municipality", "2024")
	if err != nil {
		t.Fatalf("EntropyReceipt: %v", err)
	}
	if res.IsAnomaly {
		t.Fatalf("z = %v flagged anomalous against its own ratio", res.ZScore)
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("receipts = %v, want just entropy", receiptTypes(lines))
	}
	got := lines[0]
	if got["receipt_type"] != "entropy" {
		t.Errorf("receipt_type = %v", got["receipt_type"])
	}
	for _, key := range []string{"entity", "entity_type", "compression_ratio",
		"z_score", "is_anomaly", "severity", "baseline_mean", "baseline_std",
		"raw_size", "compressed_size", "shannon_entropy"} {
		if _, ok := got[key]; !ok {
			t.Errorf("receipt missing %q", key)
		}
	}
	if got["is_anomaly"] != false {
		t.Errorf("is_anomaly = %v, want false", got["is_anomaly"])
	}
}

func TestEntropyReceiptAnomalyAlerts(t *testing.T) {
	data := []byte("vendor payments for roads and bridges, March")
	ratio := compress.Ratio(data)

	var buf bytes.Buffer
	a := newAnalyzerWithTable(&buf, map[string]Baseline{
		"municipality": {Mean: ratio + 1.0, Std: 0.1, SampleSize: 10},
	}, Actions{})

	_, res, err := a.EntropyReceipt(data, "city-a", "municipality", "2024")
	if err != nil {
		t.Fatalf("alert tier must not error, got %v", err)
	}
	if !res.IsAnomaly || res.Severity != SeverityCritical {
		t.Fatalf("result = %+v, want critical anomaly", res)
	}

	lines := decodeLines(t, &buf)
	if got := receiptTypes(lines); len(got) != 2 || got[0] != "entropy" || got[1] != "anomaly" {
		t.Fatalf("receipts = %v, want [entropy anomaly]", got)
	}
	anomaly := lines[1]
	if anomaly["metric"] != MetricEntropy {
		t.Errorf("metric = %v", anomaly["metric"])
	}
	if anomaly["baseline"] != ratio+1.0 {
		t.Errorf("baseline = %v, want the baseline mean %v", anomaly["baseline"], ratio+1.0)
	}
	delta, _ := anomaly["delta"].(float64)
	if math.Abs(delta-(-1.0)) > 1e-9 {
		t.Errorf("delta = %v, want ratio minus mean = -1", delta)
	}
}

func TestEntropyReceiptHaltPropagates(t *testing.T) {
	data := []byte("vendor payments for roads and bridges, March")
	ratio := compress.Ratio(data)

	var buf bytes.Buffer
	a := newAnalyzerWithTable(&buf, map[string]Baseline{
		"municipality": {Mean: ratio + 1.0, Std: 0.1, SampleSize: 10},
	}, Actions{Entropy: policy.ActionHalt})

	_, _, err := a.EntropyReceipt(data, "city-a", "municipality", "2024")
	sig, ok := policy.AsSignal(err)
	if !ok {
		t.Fatalf("error %v is not a policy signal", err)
	}
	if sig.Metric != MetricEntropy || !sig.Fatal() {
		t.Errorf("signal = %+v", sig)
	}

	lines := decodeLines(t, &buf)
	if got := receiptTypes(lines); len(got) != 2 {
		t.Fatalf("receipts = %v, want both before the signal", got)
	}
	if lines[1]["classification"] != "violation" {
		t.Errorf("classification = %v", lines[1]["classification"])
	}
}

// newAnalyzerWithTable wires an analyzer over a custom baseline table.
func newAnalyzerWithTable(buf *bytes.Buffer, table map[string]Baseline, actions Actions) *Analyzer {
	em := receiptEmitter(buf)
	return NewAnalyzer(AnalyzerConfig{
		Emitter:   em,
		Policy:    policy.NewEngine(em, nil),
		Baselines: NewBaselines(table),
		Actions:   actions,
	})
}

// =============================================================================
// Comparison Tests
// =============================================================================

func TestCompareEntitiesIdentical(t *testing.T) {
	data := bytes.Repeat([]byte("hello world "), 300)
	cmp := CompareEntities(data, data, "a", "b")
	if cmp.Similarity != SimilarityHigh {
		t.Errorf("similarity = %q (ncd=%v), want highly_similar", cmp.Similarity, cmp.NCD)
	}
	if cmp.Entity1 != "a" || cmp.Entity2 != "b" {
		t.Errorf("identity = %+v", cmp)
	}
	if cmp.Entity1Ratio != cmp.Entity2Ratio {
		t.Errorf("ratios differ for identical data: %v vs %v",
			cmp.Entity1Ratio, cmp.Entity2Ratio)
	}
}

func TestCompareEntitiesDissimilar(t *testing.T) {
	a := bytes.Repeat([]byte{'a'}, 4096)
	b := incompressible(4096)
	cmp := CompareEntities(a, b, "pattern", "noise")
	if cmp.Similarity != SimilarityHighDiff {
		t.Errorf("similarity = %q (ncd=%v), want highly_different", cmp.Similarity, cmp.NCD)
	}
}

func TestCompareEntitiesEmptyInput(t *testing.T) {
	cmp := CompareEntities(nil, []byte("x"), "a", "b")
	if cmp.NCD != 1.0 || cmp.Similarity != SimilarityHighDiff {
		t.Errorf("empty input = %+v, want ncd 1 highly_different", cmp)
	}
}

// =============================================================================
// Pattern Deviation Tests
// =============================================================================

func constantTxn() map[string]any {
	return map[string]any{"amount": 100.0, "vendor": "VendorA", "memo": "recurring"}
}

func noisyTxn(i int) map[string]any {
	return map[string]any{
		"amount": float64(1000 + i*37),
		"vendor": fmt.Sprintf("V-%x", sha256.Sum256([]byte{byte(i)})),
		"memo":   fmt.Sprintf("%x", sha256.Sum256([]byte{byte(i), 0xff})),
	}
}

func TestPatternDeviationShortStream(t *testing.T) {
	txns := make([]map[string]any, 19)
	for i := range txns {
		txns[i] = constantTxn()
	}
	devs, err := DetectPatternDeviation(txns, "e", 10)
	if err != nil {
		t.Fatalf("DetectPatternDeviation: %v", err)
	}
	if devs != nil {
		t.Errorf("devs = %+v, want none for a short stream", devs)
	}
}

func TestPatternDeviationSteadyStream(t *testing.T) {
	txns := make([]map[string]any, 40)
	for i := range txns {
		txns[i] = constantTxn()
	}
	devs, err := DetectPatternDeviation(txns, "e", 5)
	if err != nil {
		t.Fatalf("DetectPatternDeviation: %v", err)
	}
	if len(devs) != 0 {
		t.Errorf("devs = %+v, want none when the pattern holds", devs)
	}
}

func TestPatternDeviationFlagsShift(t *testing.T) {
	txns := make([]map[string]any, 40)
	for i := 0; i < 20; i++ {
		txns[i] = constantTxn()
	}
	for i := 20; i < 40; i++ {
		txns[i] = noisyTxn(i)
	}

	devs, err := DetectPatternDeviation(txns, "city-a", 5)
	if err != nil {
		t.Fatalf("DetectPatternDeviation: %v", err)
	}
	if len(devs) == 0 {
		t.Fatal("noisy second half must flag")
	}
	for _, d := range devs {
		if d.FlagType != FlagPatternDeviation {
			t.Errorf("flag_type = %q", d.FlagType)
		}
		if d.Entity != "city-a" {
			t.Errorf("entity = %q", d.Entity)
		}
		if d.WindowEnd != d.WindowStart+5 {
			t.Errorf("window [%d,%d) has wrong width", d.WindowStart, d.WindowEnd)
		}
		if d.WindowStart < 20 {
			t.Errorf("window_start = %d, scan must begin at the stream midpoint", d.WindowStart)
		}
		if math.Abs(d.ZScore) <= 2.0 {
			t.Errorf("z = %v, want |z| > 2", d.ZScore)
		}
	}
}

func TestPatternDeviationDefaultWindow(t *testing.T) {
	txns := make([]map[string]any, 40)
	for i := range txns {
		txns[i] = constantTxn()
	}
	explicit, err := DetectPatternDeviation(txns, "e", 10)
	if err != nil {
		t.Fatalf("explicit window: %v", err)
	}
	defaulted, err := DetectPatternDeviation(txns, "e", 0)
	if err != nil {
		t.Fatalf("defaulted window: %v", err)
	}
	if len(explicit) != len(defaulted) {
		t.Errorf("default window behaves differently: %d vs %d flags",
			len(defaulted), len(explicit))
	}
}
