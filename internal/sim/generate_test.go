package sim

import (
	"math/rand"
	"regexp"
	"testing"
)

// =============================================================================
// Synthetic Generation Tests
// =============================================================================

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(50, DistBenford, 42)
	b := Generate(50, DistBenford, 42)

	if len(a) != 50 || len(b) != 50 {
		t.Fatalf("expected 50 transactions, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("transaction %d differs between runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestGenerateSeedChangesStream(t *testing.T) {
	a := Generate(50, DistBenford, 1)
	b := Generate(50, DistBenford, 2)

	same := true
	for i := range a {
		if a[i].Amount != b[i].Amount {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical amount streams")
	}
}

func TestGenerateFieldShapes(t *testing.T) {
	idPattern := regexp.MustCompile(`^TX-\d{6}$`)
	datePattern := regexp.MustCompile(`^2024-(0[1-9]|1[0-2])-(0[1-9]|1\d|2[0-8])$`)
	vendorPattern := regexp.MustCompile(`^Vendor-([1-9]|[1-4]\d|50)$`)
	validCategories := map[string]bool{
		"supplies": true, "services": true, "equipment": true, "other": true,
	}

	for _, tx := range Generate(200, DistNormal, 7) {
		if !idPattern.MatchString(tx.ID) {
			t.Errorf("bad id %q", tx.ID)
		}
		if !datePattern.MatchString(tx.Date) {
			t.Errorf("bad date %q", tx.Date)
		}
		if !vendorPattern.MatchString(tx.Vendor) {
			t.Errorf("bad vendor %q", tx.Vendor)
		}
		if !validCategories[tx.Category] {
			t.Errorf("bad category %q", tx.Category)
		}
		if tx.Amount < 1 {
			t.Errorf("normal amount below floor: %g", tx.Amount)
		}
		if tx.FraudInjected {
			t.Error("generation must not mark fraud")
		}
	}
}

func TestGenerateUniformRange(t *testing.T) {
	for _, tx := range Generate(500, DistUniform, 3) {
		if tx.Amount < 100 || tx.Amount > 10000 {
			t.Errorf("uniform amount out of range: %g", tx.Amount)
		}
	}
}

func TestGenerateBenfordSkew(t *testing.T) {
	// The benford distribution must put far more mass on leading digit
	// 1 than on leading digit 9.
	counts := make(map[int]int)
	for _, tx := range Generate(3000, DistBenford, 11) {
		d := int(tx.Amount)
		for d >= 10 {
			d /= 10
		}
		counts[d]++
	}

	if counts[1] <= counts[9]*3 {
		t.Errorf("expected digit 1 to dominate digit 9, got %d vs %d", counts[1], counts[9])
	}
	max := 0
	maxDigit := 0
	for d, c := range counts {
		if c > max {
			max, maxDigit = c, d
		}
	}
	if maxDigit != 1 {
		t.Errorf("most common first digit = %d, want 1 (counts %v)", maxDigit, counts)
	}
}

func TestGenerateUnknownDistributionFallsBack(t *testing.T) {
	txs := Generate(10, "cauchy", 5)
	if len(txs) != 10 {
		t.Fatalf("expected 10 transactions, got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.Amount < 100 || tx.Amount > 10000 {
			t.Errorf("fallback amount out of uniform range: %g", tx.Amount)
		}
	}
}

// =============================================================================
// Fraud Injection Tests
// =============================================================================

func TestInjectRoundNumbers(t *testing.T) {
	txs := Generate(100, DistBenford, 42)
	rng := rand.New(rand.NewSource(1))

	InjectFraud(txs, PatternRoundNumbers, 0.05, rng)

	roundAmounts := map[float64]bool{10000: true, 25000: true, 33000: true, 50000: true}
	marked := 0
	for _, tx := range txs {
		if tx.FraudInjected {
			marked++
			if !roundAmounts[tx.Amount] {
				t.Errorf("injected amount %g is not a round target", tx.Amount)
			}
		}
	}
	if marked != 5 {
		t.Errorf("expected 5 injected transactions, got %d", marked)
	}
}

func TestInjectVendorConcentration(t *testing.T) {
	txs := Generate(100, DistBenford, 42)
	rng := rand.New(rand.NewSource(1))

	InjectFraud(txs, PatternVendorConcentration, 0.05, rng)

	marked := 0
	for _, tx := range txs {
		if tx.FraudInjected {
			marked++
			if tx.Vendor != ConcentratedVendor {
				t.Errorf("injected vendor = %q, want %q", tx.Vendor, ConcentratedVendor)
			}
		}
	}
	// Concentration plants at five times the base rate.
	if marked != 25 {
		t.Errorf("expected 25 injected transactions, got %d", marked)
	}
}

func TestInjectSplitTransactions(t *testing.T) {
	txs := Generate(100, DistBenford, 42)
	rng := rand.New(rand.NewSource(1))

	InjectFraud(txs, PatternSplitTransactions, 0.05, rng)

	marked := 0
	for i := 0; i+1 < len(txs); i += 2 {
		if !txs[i].FraudInjected {
			continue
		}
		marked += 2
		if txs[i].Amount != splitAmount || txs[i+1].Amount != splitAmount {
			t.Errorf("split pair %d amounts = %g/%g, want %d", i, txs[i].Amount, txs[i+1].Amount, splitAmount)
		}
		if txs[i].Date != txs[i+1].Date {
			t.Errorf("split pair %d dates differ: %s vs %s", i, txs[i].Date, txs[i+1].Date)
		}
		if txs[i].Vendor != txs[i+1].Vendor {
			t.Errorf("split pair %d vendors differ: %s vs %s", i, txs[i].Vendor, txs[i+1].Vendor)
		}
	}
	if marked != 10 {
		t.Errorf("expected 10 injected transactions, got %d", marked)
	}
}

func TestInjectImpossibleHours(t *testing.T) {
	txs := Generate(100, DistBenford, 42)
	rng := rand.New(rand.NewSource(1))

	InjectFraud(txs, PatternImpossibleHours, 0.05, rng)

	marked := 0
	for _, tx := range txs {
		if tx.FraudInjected {
			marked++
			if tx.OvertimeHours != 332 || tx.PeriodHours != 336 {
				t.Errorf("injected hours = %g/%g, want 332/336", tx.OvertimeHours, tx.PeriodHours)
			}
		}
	}
	if marked != 5 {
		t.Errorf("expected 5 injected transactions, got %d", marked)
	}
}

func TestInjectMinimumOne(t *testing.T) {
	// A tiny batch with a tiny rate still plants at least one record.
	txs := Generate(3, DistBenford, 42)
	rng := rand.New(rand.NewSource(1))

	InjectFraud(txs, PatternRoundNumbers, 0.01, rng)

	if len(InjectedIDs(txs)) != 1 {
		t.Errorf("expected exactly 1 injected transaction, got %d", len(InjectedIDs(txs)))
	}
}

func TestInjectNoOpCases(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var empty []Transaction
	InjectFraud(empty, PatternRoundNumbers, 0.05, rng)

	txs := Generate(10, DistBenford, 42)
	InjectFraud(txs, PatternRoundNumbers, 0, rng)
	if n := len(InjectedIDs(txs)); n != 0 {
		t.Errorf("zero rate injected %d transactions", n)
	}

	InjectFraud(txs, "unknown_pattern", 0.5, rng)
	if n := len(InjectedIDs(txs)); n != 0 {
		t.Errorf("unknown pattern injected %d transactions", n)
	}
}

func TestAmountsColumn(t *testing.T) {
	txs := []Transaction{{Amount: 1.5}, {Amount: 2.5}, {Amount: 3}}
	got := Amounts(txs)
	want := []float64{1.5, 2.5, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Amounts = %v, want %v", got, want)
		}
	}
}
