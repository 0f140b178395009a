package sim

import (
	"fmt"
	"math"
	"math/rand"
)

// Amount distributions for synthetic transactions.
const (
	DistNormal  = "normal"
	DistUniform = "uniform"
	DistBenford = "benford"
)

// Fraud patterns the injector knows how to plant.
const (
	PatternRoundNumbers        = "round_numbers"
	PatternVendorConcentration = "vendor_concentration"
	PatternSplitTransactions   = "split_transactions"
	PatternImpossibleHours     = "impossible_hours"
)

// ConcentratedVendor is the payee that vendor-concentration injection
// routes transactions to.
const ConcentratedVendor = "Vendor-CONCENTRATED"

// splitAmount sits just under the 10000 review threshold; split
// injection plants it in pairs sharing a date and vendor.
const splitAmount = 9500

// Transaction is one synthetic disbursement record.
type Transaction struct {
	ID       string  `json:"id"`
	Amount   float64 `json:"amount"`
	Date     string  `json:"date"`
	Vendor   string  `json:"vendor"`
	Category string  `json:"category"`

	// OvertimeHours and PeriodHours are set only by impossible-hours
	// injection.
	OvertimeHours float64 `json:"overtime_hours,omitempty"`
	PeriodHours   float64 `json:"period_hours,omitempty"`

	// FraudInjected marks ground truth for scoring. It is not part of
	// the record a detector would see in production.
	FraudInjected bool `json:"-"`
}

// benfordFirstDigitWeights approximates P(d) = log10(1 + 1/d) in
// percent, matching the published first-digit law.
var benfordFirstDigitWeights = []float64{30.1, 17.6, 12.5, 9.7, 7.9, 6.7, 5.8, 5.1, 4.6}

var categories = []string{"supplies", "services", "equipment", "other"}

// weightedDigit draws a first digit 1-9 from the Benford weights.
func weightedDigit(rng *rand.Rand) int {
	total := 0.0
	for _, w := range benfordFirstDigitWeights {
		total += w
	}
	x := rng.Float64() * total
	for i, w := range benfordFirstDigitWeights {
		x -= w
		if x < 0 {
			return i + 1
		}
	}
	return 9
}

// Generate produces n synthetic transactions with amounts drawn from
// the named distribution. The same seed always yields the same stream.
// Unknown distributions fall back to uniform.
func Generate(n int, distribution string, seed int64) []Transaction {
	rng := rand.New(rand.NewSource(seed))

	txs := make([]Transaction, 0, n)
	for i := 0; i < n; i++ {
		var amount float64
		switch distribution {
		case DistNormal:
			amount = rng.NormFloat64()*2000 + 5000
			if amount < 1 {
				amount = 1
			}
		case DistBenford:
			digit := weightedDigit(rng)
			magnitude := []float64{100, 1000, 10000}[rng.Intn(3)]
			amount = float64(digit)*magnitude + rng.Float64()*magnitude*0.9
		default:
			amount = 100 + rng.Float64()*9900
		}

		txs = append(txs, Transaction{
			ID:       fmt.Sprintf("TX-%06d", i),
			Amount:   math.Round(amount*100) / 100,
			Date:     fmt.Sprintf("2024-%02d-%02d", 1+rng.Intn(12), 1+rng.Intn(28)),
			Vendor:   fmt.Sprintf("Vendor-%d", 1+rng.Intn(50)),
			Category: categories[rng.Intn(4)],
		})
	}
	return txs
}

// InjectFraud plants the named pattern into roughly rate of the
// transactions in place, marking each touched record as ground truth.
// Unknown patterns inject nothing.
func InjectFraud(txs []Transaction, pattern string, rate float64, rng *rand.Rand) {
	if len(txs) == 0 || rate <= 0 {
		return
	}
	nInject := int(float64(len(txs)) * rate)
	if nInject < 1 {
		nInject = 1
	}

	switch pattern {
	case PatternRoundNumbers:
		amounts := []float64{10000, 25000, 33000, 50000}
		for _, i := range samples(rng, len(txs), nInject) {
			txs[i].Amount = amounts[rng.Intn(len(amounts))]
			txs[i].FraudInjected = true
		}

	case PatternVendorConcentration:
		for _, i := range samples(rng, len(txs), nInject*5) {
			txs[i].Vendor = ConcentratedVendor
			txs[i].FraudInjected = true
		}

	case PatternSplitTransactions:
		limit := nInject * 2
		if limit > len(txs)-1 {
			limit = len(txs) - 1
		}
		for i := 0; i < limit; i += 2 {
			txs[i].Amount = splitAmount
			txs[i+1].Amount = splitAmount
			txs[i].Date = txs[i+1].Date
			txs[i].Vendor = txs[i+1].Vendor
			txs[i].FraudInjected = true
			txs[i+1].FraudInjected = true
		}

	case PatternImpossibleHours:
		for _, i := range samples(rng, len(txs), nInject) {
			txs[i].OvertimeHours = 332
			txs[i].PeriodHours = 336
			txs[i].FraudInjected = true
		}
	}
}

// samples returns k distinct indices in [0, n).
func samples(rng *rand.Rand, n, k int) []int {
	if k > n {
		k = n
	}
	return rng.Perm(n)[:k]
}

// Amounts extracts the amount column.
func Amounts(txs []Transaction) []float64 {
	amounts := make([]float64, len(txs))
	for i, tx := range txs {
		amounts[i] = tx.Amount
	}
	return amounts
}

// InjectedIDs returns the IDs of ground-truth fraud records.
func InjectedIDs(txs []Transaction) []string {
	var ids []string
	for _, tx := range txs {
		if tx.FraudInjected {
			ids = append(ids, tx.ID)
		}
	}
	return ids
}
